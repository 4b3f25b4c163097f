// Package settings caches the payment settings published by the backend.
package settings

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"luxon_pay_bot/internal/backend"
	"luxon_pay_bot/internal/domain"
	"luxon_pay_bot/internal/logging"
)

const (
	DefaultTTL         = 300 * time.Second
	DefaultRetryAfter  = 30 * time.Second
	DefaultMaintenance = "Технические работы. Попробуйте позже."
)

var (
	defaultDepositBanks    = []string{"mbank", "bakai", "balance", "demir", "omoney", "megapay"}
	defaultWithdrawalBanks = []string{"kompanion", "odengi", "bakai", "balance", "megapay", "mbank"}
)

// Snapshot is an immutable view of the settings.
type Snapshot struct {
	Casinos            map[string]bool
	DepositsEnabled    bool
	WithdrawalsEnabled bool
	DepositBanks       []string
	WithdrawalBanks    []string
	Bookmakers         map[string]backend.BookmakerToggle
	Pause              bool
	MaintenanceMessage string
	FetchedAt          time.Time
	Fallback           bool
}

// Defaults is the snapshot used when the backend was never reachable.
func Defaults() Snapshot {
	casinos := make(map[string]bool)
	for _, b := range domain.Bookmakers() {
		casinos[b.Key] = true
	}

	return Snapshot{
		Casinos:            casinos,
		DepositsEnabled:    true,
		WithdrawalsEnabled: true,
		DepositBanks:       append([]string(nil), defaultDepositBanks...),
		WithdrawalBanks:    append([]string(nil), defaultWithdrawalBanks...),
		Bookmakers:         map[string]backend.BookmakerToggle{},
		MaintenanceMessage: DefaultMaintenance,
		Fallback:           true,
	}
}

// FromBackend normalizes the backend document. Missing toggles default to
// enabled.
func FromBackend(raw backend.PaymentSettings, fetchedAt time.Time) Snapshot {
	s := Snapshot{
		Casinos:            raw.Casinos,
		DepositsEnabled:    enabled(raw.Deposits.Enabled),
		WithdrawalsEnabled: enabled(raw.Withdrawals.Enabled),
		DepositBanks:       raw.Deposits.Banks,
		WithdrawalBanks:    raw.Withdrawals.Banks,
		Bookmakers:         raw.BookmakerSettings,
		Pause:              raw.Pause,
		MaintenanceMessage: strings.TrimSpace(raw.MaintenanceMessage),
		FetchedAt:          fetchedAt,
	}
	if s.Casinos == nil {
		s.Casinos = map[string]bool{}
	}
	if s.Bookmakers == nil {
		s.Bookmakers = map[string]backend.BookmakerToggle{}
	}
	if s.MaintenanceMessage == "" {
		s.MaintenanceMessage = DefaultMaintenance
	}
	return s
}

func enabled(v *bool) bool {
	return v == nil || *v
}

func (s Snapshot) listed(key string) bool {
	if len(s.Casinos) == 0 {
		return true
	}
	on, ok := s.Casinos[key]
	return !ok || on
}

// DepositEnabled reports whether deposits into the bookmaker are open.
func (s Snapshot) DepositEnabled(bookmaker string) bool {
	key := strings.ToLower(bookmaker)
	if !s.DepositsEnabled || !s.listed(key) {
		return false
	}
	if t, ok := s.Bookmakers[key]; ok {
		return enabled(t.DepositEnabled)
	}
	return true
}

// WithdrawEnabled reports whether withdrawals from the bookmaker are open.
func (s Snapshot) WithdrawEnabled(bookmaker string) bool {
	key := strings.ToLower(bookmaker)
	if !s.WithdrawalsEnabled || !s.listed(key) {
		return false
	}
	if t, ok := s.Bookmakers[key]; ok {
		return enabled(t.WithdrawEnabled)
	}
	return true
}

// DepositBookmakers lists catalog bookmakers open for deposits.
func (s Snapshot) DepositBookmakers() []domain.Bookmaker {
	var out []domain.Bookmaker
	for _, b := range domain.Bookmakers() {
		if s.DepositEnabled(b.Key) {
			out = append(out, b)
		}
	}
	return out
}

// WithdrawBookmakers lists catalog bookmakers open for withdrawals.
func (s Snapshot) WithdrawBookmakers() []domain.Bookmaker {
	var out []domain.Bookmaker
	for _, b := range domain.Bookmakers() {
		if s.WithdrawEnabled(b.Key) {
			out = append(out, b)
		}
	}
	return out
}

// Fetcher loads the raw settings document.
type Fetcher interface {
	PaymentSettings(ctx context.Context) (backend.PaymentSettings, error)
}

// Cache refreshes the snapshot lazily once it is older than the TTL.
type Cache struct {
	mu        sync.Mutex
	fetcher   Fetcher
	ttl       time.Duration
	retry     time.Duration
	current   Snapshot
	loaded    bool
	nextFetch time.Time
	logger    *logrus.Entry
	now       func() time.Time
}

// NewCache constructs a Cache. A non-positive ttl uses DefaultTTL.
func NewCache(fetcher Fetcher, ttl time.Duration, logger *logrus.Entry) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		retry:   DefaultRetryAfter,
		current: Defaults(),
		logger:  logger,
		now:     time.Now,
	}
}

// Snapshot returns the cached settings, refreshing them first when stale. A
// failed refresh keeps the last good snapshot and is retried later.
func (c *Cache) Snapshot(ctx context.Context) Snapshot {
	if c == nil {
		return Defaults()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.fetcher == nil || now.Before(c.nextFetch) {
		return c.current
	}

	raw, err := c.fetcher.PaymentSettings(ctx)
	if err != nil {
		c.nextFetch = now.Add(c.retry)
		c.logger.WithFields(logging.Fields{
			"event":    "settings_refresh_failed",
			"fallback": !c.loaded,
		}).WithError(err).Warn("failed to load payment settings")
		return c.current
	}

	c.current = FromBackend(raw, now)
	c.loaded = true
	c.nextFetch = now.Add(c.ttl)

	c.logger.WithFields(logging.Fields{
		"event":            "settings_refreshed",
		"casinos":          len(c.current.Casinos),
		"deposits_enabled": c.current.DepositsEnabled,
		"pause":            c.current.Pause,
	}).Info("payment settings loaded")

	return c.current
}
