package emoji

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigFilename is the name of the exported document.
const ConfigFilename = "premium_emoji.yaml"

// yaml.v3 escapes every rune outside the BMP, which covers most emoji.
var escapedRune = regexp.MustCompile(`\\\\|\\U[0-9A-Fa-f]{8}`)

// Export renders the entries as a YAML document with a premium_emoji_map
// mapping, keeping the collection order.
func Export(entries []Entry) ([]byte, error) {
	mapping := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range entries {
		mapping.Content = append(mapping.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Emoji, Style: yaml.DoubleQuotedStyle},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.ID, Style: yaml.DoubleQuotedStyle},
		)
	}

	doc := &yaml.Node{
		Kind: yaml.DocumentNode,
		Content: []*yaml.Node{{
			Kind:        yaml.MappingNode,
			HeadComment: fmt.Sprintf("Premium emoji map, %d entries", len(entries)),
			Content: []*yaml.Node{
				{Kind: yaml.ScalarNode, Value: "premium_emoji_map"},
				mapping,
			},
		}},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode emoji config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode emoji config: %w", err)
	}
	return unescapeRunes(buf.Bytes()), nil
}

// unescapeRunes turns \UXXXXXXXX escapes back into literal characters inside
// the double-quoted scalars. Escaped backslashes are left alone.
func unescapeRunes(doc []byte) []byte {
	return escapedRune.ReplaceAllFunc(doc, func(m []byte) []byte {
		if m[1] == '\\' {
			return m
		}
		code, err := strconv.ParseUint(string(m[2:]), 16, 32)
		if err != nil || code > 0x10FFFF || (code >= 0xD800 && code <= 0xDFFF) {
			return m
		}
		return []byte(string(rune(code)))
	})
}
