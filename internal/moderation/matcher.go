package moderation

import (
	"regexp"
	"strings"
	"unicode/utf16"
)

// Matcher finds forbidden words in message text. Entries starting with "@"
// are usernames: they match the mention or the bare username anywhere in the
// text. Other entries match whole words only, ignoring case.
type Matcher struct {
	usernames []pattern
	words     []pattern
}

type pattern struct {
	word string
	re   *regexp.Regexp
}

// Go's \b only knows ASCII word characters, which would let Cyrillic words
// match inside longer words.
const wordChar = `\p{L}\p{N}_`

// NewMatcher compiles the word list.
func NewMatcher(words []string) *Matcher {
	m := &Matcher{}
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" || w == "@" {
			continue
		}
		lower := strings.ToLower(w)

		if strings.HasPrefix(lower, "@") {
			m.usernames = append(m.usernames, pattern{word: w})
			continue
		}
		m.words = append(m.words, pattern{
			word: w,
			re:   regexp.MustCompile(`(?i)(?:^|[^` + wordChar + `])` + regexp.QuoteMeta(lower) + `(?:$|[^` + wordChar + `])`),
		})
	}
	return m
}

// Len returns the number of compiled entries.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.usernames) + len(m.words)
}

// Match reports the first forbidden entry found. mentions are the usernames
// of mention entities, with or without the leading "@"; they are compared
// exactly against every entry.
func (m *Matcher) Match(text string, mentions []string) (string, bool) {
	if m == nil {
		return "", false
	}

	for _, mention := range mentions {
		name := strings.ToLower(strings.TrimPrefix(mention, "@"))
		if name == "" {
			continue
		}
		for _, p := range m.all() {
			if strings.ToLower(strings.TrimPrefix(p.word, "@")) == name {
				return p.word, true
			}
		}
	}

	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)

	for _, p := range m.usernames {
		name := strings.TrimPrefix(strings.ToLower(p.word), "@")
		if strings.Contains(lower, name) {
			return p.word, true
		}
	}
	for _, p := range m.words {
		if p.re.MatchString(lower) {
			return p.word, true
		}
	}
	return "", false
}

func (m *Matcher) all() []pattern {
	out := make([]pattern, 0, m.Len())
	out = append(out, m.usernames...)
	return append(out, m.words...)
}

// EntityText cuts an entity out of a message. Telegram offsets count UTF-16
// code units.
func EntityText(text string, offset, length int) string {
	units := utf16.Encode([]rune(text))
	if offset < 0 || length <= 0 || offset >= len(units) {
		return ""
	}
	end := offset + length
	if end > len(units) {
		end = len(units)
	}
	return string(utf16.Decode(units[offset:end]))
}
