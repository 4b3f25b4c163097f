// Package userinfo builds an operator report about one user from the
// relational admin database.
package userinfo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// RecentLimit caps the transaction and request history sections.
const RecentLimit = 10

const timeLayout = "2006-01-02 15:04:05"

// ErrUserNotFound is returned when the users table has no such id.
var ErrUserNotFound = errors.New("user not found")

var openDB = func(ctx context.Context, dsn string) (*sqlx.DB, error) {
	return sqlx.ConnectContext(ctx, "postgres", dsn)
}

// Queryer is the subset of *sqlx.DB used by Lookup.
type Queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Open connects to the database, dropping any query string from the URL.
// Admin URLs carry ORM-only parameters such as ?schema=public that the
// postgres driver rejects.
func Open(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	dsn := StripQuery(databaseURL)
	if dsn == "" {
		return nil, errors.New("database url is required")
	}

	db, err := openDB(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}

// StripQuery removes everything from the first '?'.
func StripQuery(databaseURL string) string {
	dsn, _, _ := strings.Cut(strings.TrimSpace(databaseURL), "?")
	return dsn
}

// Report is the JSON document printed by the userinfo tool.
type Report struct {
	UserID             string             `json:"user_id"`
	UserInfo           UserInfo           `json:"user_info"`
	ReferralConnection ReferralConnection `json:"referral_connection"`
	Referrals          Referrals          `json:"referrals"`
	Balance            Balance            `json:"balance"`
	EarningsStats      EarningsStats      `json:"earnings_stats"`
	RecentTransactions []Transaction      `json:"recent_transactions"`
	RecentRequests     []Request          `json:"recent_requests"`
}

type UserInfo struct {
	Username          *string `json:"username"`
	FirstName         *string `json:"first_name"`
	LastName          *string `json:"last_name"`
	Language          *string `json:"language"`
	SelectedBookmaker *string `json:"selected_bookmaker"`
	Note              *string `json:"note"`
	IsActive          bool    `json:"is_active"`
	CreatedAt         string  `json:"created_at"`
}

type ReferralConnection struct {
	IsReferred        bool    `json:"is_referred"`
	ReferrerID        *string `json:"referrer_id"`
	ReferrerUsername  *string `json:"referrer_username"`
	ReferrerName      *string `json:"referrer_name"`
	ReferralCreatedAt *string `json:"referral_created_at"`
}

type Referrals struct {
	TotalCount  int             `json:"total_count"`
	ActiveCount int             `json:"active_count"`
	List        []ReferredEntry `json:"list"`
}

type ReferredEntry struct {
	UserID            string  `json:"user_id"`
	Username          *string `json:"username"`
	Name              string  `json:"name"`
	ReferralCreatedAt string  `json:"referral_created_at"`
}

// Balance is earned commission minus completed withdrawals.
type Balance struct {
	TotalEarned      decimal.Decimal `json:"total_earned"`
	TotalWithdrawn   decimal.Decimal `json:"total_withdrawn"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
}

type EarningsStats struct {
	TotalEarningsCount int             `json:"total_earnings_count"`
	TotalCommission    decimal.Decimal `json:"total_commission"`
	FirstEarningDate   *string         `json:"first_earning_date"`
	LastEarningDate    *string         `json:"last_earning_date"`
}

type Transaction struct {
	ID        int64           `json:"id"`
	Bookmaker *string         `json:"bookmaker"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	CreatedAt string          `json:"created_at"`
}

type Request struct {
	ID           int64            `json:"id"`
	Bookmaker    *string          `json:"bookmaker"`
	AccountID    *string          `json:"account_id"`
	Amount       *decimal.Decimal `json:"amount"`
	Type         string           `json:"type"`
	Status       string           `json:"status"`
	StatusDetail *string          `json:"status_detail"`
	ProcessedBy  *string          `json:"processed_by"`
	Bank         *string          `json:"bank"`
	CreatedAt    string           `json:"created_at"`
	ProcessedAt  string           `json:"processed_at"`
}

const (
	queryUser = `
		SELECT user_id, username, first_name, last_name, language,
		       selected_bookmaker, note, is_active, created_at
		FROM users
		WHERE user_id = $1`

	queryReferrer = `
		SELECT br.referrer_id, br.created_at,
		       u.username AS referrer_username, u.first_name AS referrer_first_name
		FROM referrals br
		INNER JOIN users u ON u.user_id = br.referrer_id
		WHERE br.referred_id = $1`

	queryReferrals = `
		SELECT br.referred_id, br.created_at,
		       u.username, u.first_name, u.last_name
		FROM referrals br
		INNER JOIN users u ON u.user_id = br.referred_id
		WHERE br.referrer_id = $1
		ORDER BY br.created_at DESC`

	queryActiveReferrals = `
		SELECT COUNT(DISTINCT CASE WHEN r.id IS NOT NULL THEN br.referred_id END)
		FROM referrals br
		LEFT JOIN requests r ON r.user_id = br.referred_id
		  AND r.request_type = 'deposit'
		  AND r.status IN ('completed', 'approved', 'auto_completed', 'autodeposit_success')
		WHERE br.referrer_id = $1`

	queryWithdrawn = `
		SELECT COALESCE(SUM(amount), 0)::numeric
		FROM referral_withdrawal_requests
		WHERE user_id = $1 AND status = 'completed'`

	queryEarnings = `
		SELECT COUNT(*) AS total_earnings,
		       COALESCE(SUM(commission_amount), 0)::numeric AS total_commission,
		       MIN(created_at) AS first_earning_date,
		       MAX(created_at) AS last_earning_date
		FROM referral_earnings
		WHERE referrer_id = $1 AND status = 'completed'`

	queryTransactions = `
		SELECT id, bookmaker, trans_type, amount, status, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	queryRequests = `
		SELECT id, bookmaker, account_id, amount, request_type, status,
		       status_detail, processed_by, bank, created_at, processed_at
		FROM requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
)

type userRow struct {
	UserID            int64          `db:"user_id"`
	Username          sql.NullString `db:"username"`
	FirstName         sql.NullString `db:"first_name"`
	LastName          sql.NullString `db:"last_name"`
	Language          sql.NullString `db:"language"`
	SelectedBookmaker sql.NullString `db:"selected_bookmaker"`
	Note              sql.NullString `db:"note"`
	IsActive          bool           `db:"is_active"`
	CreatedAt         sql.NullTime   `db:"created_at"`
}

type referrerRow struct {
	ReferrerID        int64          `db:"referrer_id"`
	CreatedAt         sql.NullTime   `db:"created_at"`
	ReferrerUsername  sql.NullString `db:"referrer_username"`
	ReferrerFirstName sql.NullString `db:"referrer_first_name"`
}

type referredRow struct {
	ReferredID int64          `db:"referred_id"`
	CreatedAt  sql.NullTime   `db:"created_at"`
	Username   sql.NullString `db:"username"`
	FirstName  sql.NullString `db:"first_name"`
	LastName   sql.NullString `db:"last_name"`
}

type earningsRow struct {
	TotalEarnings   int             `db:"total_earnings"`
	TotalCommission decimal.Decimal `db:"total_commission"`
	FirstEarning    sql.NullTime    `db:"first_earning_date"`
	LastEarning     sql.NullTime    `db:"last_earning_date"`
}

type transactionRow struct {
	ID        int64               `db:"id"`
	Bookmaker sql.NullString      `db:"bookmaker"`
	TransType string              `db:"trans_type"`
	Amount    decimal.NullDecimal `db:"amount"`
	Status    string              `db:"status"`
	CreatedAt sql.NullTime        `db:"created_at"`
}

type requestRow struct {
	ID           int64               `db:"id"`
	Bookmaker    sql.NullString      `db:"bookmaker"`
	AccountID    sql.NullString      `db:"account_id"`
	Amount       decimal.NullDecimal `db:"amount"`
	RequestType  string              `db:"request_type"`
	Status       string              `db:"status"`
	StatusDetail sql.NullString      `db:"status_detail"`
	ProcessedBy  sql.NullString      `db:"processed_by"`
	Bank         sql.NullString      `db:"bank"`
	CreatedAt    sql.NullTime        `db:"created_at"`
	ProcessedAt  sql.NullTime        `db:"processed_at"`
}

// Lookup collects the full report for one Telegram user id.
func Lookup(ctx context.Context, db Queryer, telegramID int64) (Report, error) {
	if db == nil {
		return Report{}, errors.New("database is not initialized")
	}
	if ctx == nil {
		return Report{}, errors.New("context is required")
	}

	var user userRow
	if err := db.GetContext(ctx, &user, queryUser, telegramID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Report{}, fmt.Errorf("%w: %d", ErrUserNotFound, telegramID)
		}
		return Report{}, fmt.Errorf("load user: %w", err)
	}

	report := Report{
		UserID: strconv.FormatInt(telegramID, 10),
		UserInfo: UserInfo{
			Username:          nullString(user.Username),
			FirstName:         nullString(user.FirstName),
			LastName:          nullString(user.LastName),
			Language:          nullString(user.Language),
			SelectedBookmaker: nullString(user.SelectedBookmaker),
			Note:              nullString(user.Note),
			IsActive:          user.IsActive,
			CreatedAt:         formatTime(user.CreatedAt),
		},
		RecentTransactions: []Transaction{},
		RecentRequests:     []Request{},
	}

	var referrer referrerRow
	switch err := db.GetContext(ctx, &referrer, queryReferrer, telegramID); {
	case err == nil:
		id := strconv.FormatInt(referrer.ReferrerID, 10)
		created := formatTime(referrer.CreatedAt)
		report.ReferralConnection = ReferralConnection{
			IsReferred:        true,
			ReferrerID:        &id,
			ReferrerUsername:  nullString(referrer.ReferrerUsername),
			ReferrerName:      nullString(referrer.ReferrerFirstName),
			ReferralCreatedAt: &created,
		}
	case !errors.Is(err, sql.ErrNoRows):
		return Report{}, fmt.Errorf("load referrer: %w", err)
	}

	var referred []referredRow
	if err := db.SelectContext(ctx, &referred, queryReferrals, telegramID); err != nil {
		return Report{}, fmt.Errorf("load referrals: %w", err)
	}
	var active int
	if err := db.GetContext(ctx, &active, queryActiveReferrals, telegramID); err != nil {
		return Report{}, fmt.Errorf("count active referrals: %w", err)
	}
	report.Referrals = Referrals{
		TotalCount:  len(referred),
		ActiveCount: active,
		List:        make([]ReferredEntry, 0, len(referred)),
	}
	for _, r := range referred {
		name := strings.TrimSpace(r.FirstName.String + " " + r.LastName.String)
		report.Referrals.List = append(report.Referrals.List, ReferredEntry{
			UserID:            strconv.FormatInt(r.ReferredID, 10),
			Username:          nullString(r.Username),
			Name:              name,
			ReferralCreatedAt: formatTime(r.CreatedAt),
		})
	}

	var earnings earningsRow
	if err := db.GetContext(ctx, &earnings, queryEarnings, telegramID); err != nil {
		return Report{}, fmt.Errorf("load earnings: %w", err)
	}
	var withdrawn decimal.Decimal
	if err := db.GetContext(ctx, &withdrawn, queryWithdrawn, telegramID); err != nil {
		return Report{}, fmt.Errorf("load withdrawals: %w", err)
	}
	earned := earnings.TotalCommission.Round(2)
	withdrawn = withdrawn.Round(2)
	report.Balance = Balance{
		TotalEarned:      earned,
		TotalWithdrawn:   withdrawn,
		AvailableBalance: earned.Sub(withdrawn),
	}
	report.EarningsStats = EarningsStats{
		TotalEarningsCount: earnings.TotalEarnings,
		TotalCommission:    earned,
		FirstEarningDate:   nullTime(earnings.FirstEarning),
		LastEarningDate:    nullTime(earnings.LastEarning),
	}

	var txs []transactionRow
	if err := db.SelectContext(ctx, &txs, queryTransactions, telegramID, RecentLimit); err != nil {
		return Report{}, fmt.Errorf("load transactions: %w", err)
	}
	for _, t := range txs {
		report.RecentTransactions = append(report.RecentTransactions, Transaction{
			ID:        t.ID,
			Bookmaker: nullString(t.Bookmaker),
			Type:      t.TransType,
			Amount:    t.Amount.Decimal.Round(2),
			Status:    t.Status,
			CreatedAt: formatTime(t.CreatedAt),
		})
	}

	var reqs []requestRow
	if err := db.SelectContext(ctx, &reqs, queryRequests, telegramID, RecentLimit); err != nil {
		return Report{}, fmt.Errorf("load requests: %w", err)
	}
	for _, r := range reqs {
		var amount *decimal.Decimal
		if r.Amount.Valid {
			v := r.Amount.Decimal.Round(2)
			amount = &v
		}
		report.RecentRequests = append(report.RecentRequests, Request{
			ID:           r.ID,
			Bookmaker:    nullString(r.Bookmaker),
			AccountID:    nullString(r.AccountID),
			Amount:       amount,
			Type:         r.RequestType,
			Status:       r.Status,
			StatusDetail: nullString(r.StatusDetail),
			ProcessedBy:  nullString(r.ProcessedBy),
			Bank:         nullString(r.Bank),
			CreatedAt:    formatTime(r.CreatedAt),
			ProcessedAt:  formatTime(r.ProcessedAt),
		})
	}

	return report, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *string {
	if !v.Valid {
		return nil
	}
	s := v.Time.Format(timeLayout)
	return &s
}

// formatTime renders N/A for missing timestamps.
func formatTime(v sql.NullTime) string {
	if !v.Valid {
		return "N/A"
	}
	return v.Time.Format(timeLayout)
}
