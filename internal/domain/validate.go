package domain

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	PhonePrefix    = "+996"
	phoneMinLength = 13
	phoneMaxLength = 16
)

// ValidationError reports user input that must be re-entered.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidatePlayerID returns the trimmed bookmaker account id when it is numeric.
func ValidatePlayerID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", &ValidationError{Field: "player_id", Reason: "empty"}
	}
	if !allDigits(id) {
		return "", &ValidationError{Field: "player_id", Reason: "must contain digits only"}
	}
	return id, nil
}

// NormalizePhone strips separators and checks the country prefix and length.
func NormalizePhone(raw string) (string, error) {
	phone := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if !strings.HasPrefix(phone, PhonePrefix) {
		return "", &ValidationError{Field: "phone", Reason: "must start with " + PhonePrefix}
	}
	if n := utf8.RuneCountInString(phone); n < phoneMinLength || n > phoneMaxLength {
		return "", &ValidationError{Field: "phone", Reason: fmt.Sprintf("length must be %d-%d characters", phoneMinLength, phoneMaxLength)}
	}
	if !allDigits(phone[1:]) {
		return "", &ValidationError{Field: "phone", Reason: "must contain digits after +"}
	}
	return phone, nil
}

// ParseAmount parses user-entered money, accepting a comma as the decimal
// separator and spaces as thousands separators.
func ParseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "empty"}
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "not a number"}
	}
	if !amount.IsPositive() {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return amount, nil
}

// CheckDepositAmount enforces the bookmaker minimum and the shared maximum.
func CheckDepositAmount(bookmaker string, amount decimal.Decimal) error {
	lower := MinDepositFor(bookmaker)
	if amount.LessThan(lower) || amount.GreaterThan(MaxDeposit) {
		return &ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("must be between %s and %s", lower.String(), MaxDeposit.String()),
		}
	}
	return nil
}

// ValidateWithdrawCode returns the trimmed withdrawal code.
func ValidateWithdrawCode(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if code == "" {
		return "", &ValidationError{Field: "code", Reason: "empty"}
	}
	return code, nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
