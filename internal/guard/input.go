package guard

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// MaxInputLength bounds free text forwarded to the backend.
const MaxInputLength = 4096

// ErrSuspiciousInput marks text that looks like an injection attempt.
var ErrSuspiciousInput = errors.New("invalid input detected")

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|EXEC|EXECUTE|UNION|SCRIPT)\s+.*(FROM|INTO|TABLE|DATABASE|WHERE)`),
	regexp.MustCompile(`(?i)(--|#)\s*(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|EXEC|EXECUTE|UNION)`),
	regexp.MustCompile(`(?i)/\*.*(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|EXEC|EXECUTE|UNION).*\*/`),
	regexp.MustCompile(`(?i)\bOR\b.*=.*=`),
	regexp.MustCompile(`(?i)\bAND\b.*=.*=`),
	regexp.MustCompile("(?i)('|`|\").*(\\bOR\\b|\\bAND\\b).*('|`|\")"),
	regexp.MustCompile(`(?i);.*(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|EXEC|EXECUTE|UNION)`),
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)onerror=`),
	regexp.MustCompile(`(?i)onload=`),
	regexp.MustCompile(`(?i)<iframe`),
}

// ValidateInput rejects overlong text and common SQL or script injection
// shapes.
func ValidateInput(text string) error {
	if n := utf8.RuneCountInString(text); n > MaxInputLength {
		return fmt.Errorf("text too long: %d characters, maximum is %d", n, MaxInputLength)
	}

	for _, re := range suspiciousPatterns {
		if re.MatchString(text) {
			return ErrSuspiciousInput
		}
	}
	return nil
}
