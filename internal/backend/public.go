package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

// Toggle enables a flow and lists the banks offered for it.
type Toggle struct {
	Enabled *bool    `json:"enabled"`
	Banks   []string `json:"banks"`
}

// BookmakerToggle switches deposits and withdrawals for one bookmaker.
type BookmakerToggle struct {
	DepositEnabled  *bool `json:"deposit_enabled"`
	WithdrawEnabled *bool `json:"withdraw_enabled"`
}

// PaymentSettings is the raw settings document published by the backend.
type PaymentSettings struct {
	Casinos            map[string]bool            `json:"casinos"`
	Deposits           Toggle                     `json:"deposits"`
	Withdrawals        Toggle                     `json:"withdrawals"`
	BookmakerSettings  map[string]BookmakerToggle `json:"bookmaker_settings"`
	Pause              bool                       `json:"pause"`
	MaintenanceMessage string                     `json:"maintenance_message"`
}

// PaymentSettings fetches the current payment settings.
func (c *Client) PaymentSettings(ctx context.Context) (PaymentSettings, error) {
	var resp PaymentSettings
	err := c.do(ctx, call{
		method:  http.MethodGet,
		path:    "/api/public/payment-settings",
		timeout: LookupTimeout,
		event:   "backend_payment_settings",
	}, &resp)
	if err != nil {
		return PaymentSettings{}, err
	}
	return resp, nil
}

// Ping checks that the backend answers its cheapest public endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, call{
		method:  http.MethodGet,
		path:    "/api/public/payment-settings",
		timeout: LookupTimeout,
		event:   "backend_ping",
	}, nil)
}

// ReferralLink records that referred joined through referrer's link.
type ReferralLink struct {
	ReferrerID int64
	ReferredID int64
	Username   string
	FirstName  string
	LastName   string
}

// RegisterReferral links a new user to the referrer.
func (c *Client) RegisterReferral(ctx context.Context, link ReferralLink) error {
	body := struct {
		ReferrerID string `json:"referrer_id"`
		ReferredID string `json:"referred_id"`
		Username   string `json:"username,omitempty"`
		FirstName  string `json:"first_name,omitempty"`
		LastName   string `json:"last_name,omitempty"`
	}{userKey(link.ReferrerID), userKey(link.ReferredID), link.Username, link.FirstName, link.LastName}

	var resp envelope
	if err := c.do(ctx, call{
		method:  http.MethodPost,
		path:    "/api/referral/register",
		body:    body,
		timeout: ReferralTimeout,
		event:   "backend_referral_register",
	}, &resp); err != nil {
		return err
	}
	if resp.Success == nil {
		return &APIError{Status: http.StatusOK, Message: resp.message()}
	}
	return nil
}

// TopReferrer is one row of the referral leaderboard.
type TopReferrer struct {
	Username      string          `json:"username"`
	Earned        decimal.Decimal `json:"earned"`
	ReferralCount int             `json:"referral_count"`
}

// ReferralStats summarizes a user's referral program standing.
type ReferralStats struct {
	Earned           decimal.Decimal `json:"earned"`
	ReferralCount    int             `json:"referral_count"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	UserRank         int             `json:"user_rank"`
	TopPlayers       []TopReferrer   `json:"top_players"`
}

// ReferralData fetches referral statistics for the user.
func (c *Client) ReferralData(ctx context.Context, userID int64) (ReferralStats, error) {
	var resp ReferralStats
	err := c.do(ctx, call{
		method:  http.MethodGet,
		path:    "/api/public/referral-data",
		query:   url.Values{"user_id": {userKey(userID)}},
		timeout: CheckTimeout,
		event:   "backend_referral_data",
	}, &resp)
	if err != nil {
		return ReferralStats{}, err
	}
	return resp, nil
}
