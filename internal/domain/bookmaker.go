// Package domain defines shared domain constants, records and validation
// rules for the payment bots.
package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Bookmaker keys as understood by the payment backend.
const (
	Bookmaker1xBet    = "1xbet"
	Bookmaker1Win     = "1win"
	BookmakerMelbet   = "melbet"
	BookmakerMostbet  = "mostbet"
	BookmakerWinWin   = "winwin"
	Bookmaker888Starz = "888starz"
)

var (
	// MaxDeposit is the shared upper bound for every bookmaker.
	MaxDeposit = decimal.NewFromInt(500000)

	defaultMinDeposit = decimal.NewFromInt(35)
)

// Bookmaker describes a supported betting site.
type Bookmaker struct {
	Key        string
	Title      string
	MinDeposit decimal.Decimal
}

var bookmakers = []Bookmaker{
	{Key: Bookmaker1xBet, Title: "1XBET", MinDeposit: defaultMinDeposit},
	{Key: Bookmaker1Win, Title: "1WIN", MinDeposit: decimal.NewFromInt(100)},
	{Key: BookmakerMelbet, Title: "MELBET", MinDeposit: defaultMinDeposit},
	{Key: BookmakerMostbet, Title: "MOSTBET", MinDeposit: decimal.NewFromInt(400)},
	{Key: BookmakerWinWin, Title: "WINWIN", MinDeposit: defaultMinDeposit},
	{Key: Bookmaker888Starz, Title: "888STARZ", MinDeposit: defaultMinDeposit},
}

// Bookmakers returns the catalog in display order.
func Bookmakers() []Bookmaker {
	out := make([]Bookmaker, len(bookmakers))
	copy(out, bookmakers)
	return out
}

// BookmakerByKey looks up a bookmaker by backend key.
func BookmakerByKey(key string) (Bookmaker, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, b := range bookmakers {
		if b.Key == key {
			return b, true
		}
	}
	return Bookmaker{}, false
}

// BookmakerByTitle resolves a keyboard label (or a key) to a bookmaker.
func BookmakerByTitle(label string) (Bookmaker, bool) {
	label = strings.TrimSpace(label)
	for _, b := range bookmakers {
		if strings.EqualFold(b.Title, label) || strings.EqualFold(b.Key, label) {
			return b, true
		}
	}
	return Bookmaker{}, false
}

// MinDepositFor returns the minimum deposit for the bookmaker key; unknown
// keys fall back to the common minimum.
func MinDepositFor(key string) decimal.Decimal {
	if b, ok := BookmakerByKey(key); ok {
		return b.MinDeposit
	}
	return defaultMinDeposit
}

// BookmakerTitle returns the display title for a key, or the key itself.
func BookmakerTitle(key string) string {
	if b, ok := BookmakerByKey(key); ok {
		return b.Title
	}
	return strings.ToUpper(key)
}
