// Package qr renders payment links as PNG QR codes.
package qr

import (
	"errors"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// Size is the rendered image edge in pixels.
const Size = 512

// Render encodes content as a PNG with medium error correction.
func Render(content string) ([]byte, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("qr content is required")
	}

	png, err := qrcode.Encode(content, qrcode.Medium, Size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
