package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Payment request types and fixed field values.
const (
	PaymentDeposit  = "deposit"
	PaymentWithdraw = "withdraw"

	SourceBot = "bot"

	DepositBank  = "omoney"
	WithdrawBank = "odengi"
	QRBank       = "demirbank"
)

// ID is a request identifier that the backend may encode as a string or a
// number.
type ID string

// UnmarshalJSON accepts both string and numeric ids.
func (id *ID) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*id = ""
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func money(amount decimal.Decimal) json.Number {
	return json.Number(amount.StringFixed(2))
}

// CheckPendingDeposit reports whether the user already has an unresolved
// deposit request.
func (c *Client) CheckPendingDeposit(ctx context.Context, userID int64) (bool, error) {
	var resp struct {
		Data struct {
			HasPending bool `json:"hasPending"`
		} `json:"data"`
	}

	err := c.do(ctx, call{
		method:  http.MethodGet,
		path:    "/api/public/check-pending-deposit",
		query:   url.Values{"userId": {userKey(userID)}},
		timeout: LookupTimeout,
		event:   "backend_check_pending",
	}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Data.HasPending, nil
}

// QRRequest asks the backend for payment links.
type QRRequest struct {
	Amount   decimal.Decimal
	PlayerID string
	Bank     string
}

// QRResult carries the links per bank and the amount the user must pay,
// which the backend may adjust.
type QRResult struct {
	Amount   decimal.Decimal
	BankURLs map[string]string
}

// GenerateQR requests payment links for a deposit.
func (c *Client) GenerateQR(ctx context.Context, req QRRequest) (QRResult, error) {
	bank := req.Bank
	if bank == "" {
		bank = QRBank
	}

	body := struct {
		Amount   json.Number `json:"amount"`
		PlayerID string      `json:"playerId"`
		Bank     string      `json:"bank"`
	}{money(req.Amount), req.PlayerID, bank}

	var resp struct {
		Amount     decimal.NullDecimal `json:"amount"`
		AllBankURL map[string]string   `json:"all_bank_urls"`
	}

	err := c.do(ctx, call{
		method:  http.MethodPost,
		path:    "/api/public/generate-qr",
		body:    body,
		timeout: CheckTimeout,
		event:   "backend_generate_qr",
	}, &resp)
	if err != nil {
		return QRResult{}, err
	}

	result := QRResult{Amount: req.Amount, BankURLs: resp.AllBankURL}
	if resp.Amount.Valid && resp.Amount.Decimal.IsPositive() {
		result.Amount = resp.Amount.Decimal
	}
	return result, nil
}

// PaymentRequest is a deposit or withdrawal submitted to /api/payment.
type PaymentRequest struct {
	Type      string
	UserID    int64
	Bookmaker string
	Amount    decimal.Decimal
	Bank      string
	PlayerID  string
	Phone     string
	SiteCode  string

	// Data URLs of the attached images.
	ReceiptPhoto string
	QRPhoto      string

	Username  string
	FirstName string
	LastName  string
}

type paymentBody struct {
	Type              string      `json:"type"`
	Bookmaker         string      `json:"bookmaker"`
	UserID            string      `json:"userId"`
	TelegramUserID    string      `json:"telegram_user_id"`
	Amount            json.Number `json:"amount"`
	Bank              string      `json:"bank"`
	AccountID         string      `json:"account_id"`
	PlayerID          string      `json:"playerId"`
	Phone             string      `json:"phone,omitempty"`
	SiteCode          string      `json:"site_code,omitempty"`
	ReceiptPhoto      string      `json:"receipt_photo,omitempty"`
	QRPhoto           string      `json:"qr_photo,omitempty"`
	TelegramUsername  string      `json:"telegram_username,omitempty"`
	TelegramFirstName string      `json:"telegram_first_name,omitempty"`
	TelegramLastName  string      `json:"telegram_last_name,omitempty"`
	Source            string      `json:"source"`
}

// CreatePayment submits a request and returns its backend id, which may be
// empty when the backend does not report one.
func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest) (ID, error) {
	if req.Type != PaymentDeposit && req.Type != PaymentWithdraw {
		return "", fmt.Errorf("unknown payment type %q", req.Type)
	}

	user := userKey(req.UserID)
	body := paymentBody{
		Type:              req.Type,
		Bookmaker:         req.Bookmaker,
		UserID:            user,
		TelegramUserID:    user,
		Amount:            money(req.Amount),
		Bank:              req.Bank,
		AccountID:         req.PlayerID,
		PlayerID:          req.PlayerID,
		Phone:             req.Phone,
		SiteCode:          req.SiteCode,
		ReceiptPhoto:      req.ReceiptPhoto,
		QRPhoto:           req.QRPhoto,
		TelegramUsername:  req.Username,
		TelegramFirstName: req.FirstName,
		TelegramLastName:  req.LastName,
		Source:            SourceBot,
	}

	var resp struct {
		ID   ID `json:"id"`
		Data struct {
			ID ID `json:"id"`
		} `json:"data"`
	}

	err := c.do(ctx, call{
		method:  http.MethodPost,
		path:    "/api/payment",
		body:    body,
		timeout: SubmitTimeout,
		event:   "backend_create_payment",
	}, &resp)
	if err != nil {
		return "", err
	}

	if resp.ID != "" {
		return resp.ID, nil
	}
	return resp.Data.ID, nil
}

// ErrAmountNotFound is returned when a withdrawal check succeeds without an
// amount.
var ErrAmountNotFound = errors.New("withdrawal amount not found")

// WithdrawCheck validates a withdrawal code and returns the amount the
// bookmaker will pay out.
func (c *Client) WithdrawCheck(ctx context.Context, bookmaker, playerID, code string) (decimal.Decimal, error) {
	body := map[string]string{
		"bookmaker": bookmaker,
		"playerId":  playerID,
		"code":      code,
	}

	var resp struct {
		Amount decimal.NullDecimal `json:"amount"`
		Summa  decimal.NullDecimal `json:"summa"`
		Data   struct {
			Amount decimal.NullDecimal `json:"amount"`
			Summa  decimal.NullDecimal `json:"summa"`
		} `json:"data"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	err := c.do(ctx, call{
		method:  http.MethodPost,
		path:    "/api/withdraw-check",
		body:    body,
		timeout: CheckTimeout,
		event:   "backend_withdraw_check",
	}, &resp)
	if err != nil {
		return decimal.Zero, err
	}

	for _, candidate := range []decimal.NullDecimal{resp.Data.Amount, resp.Data.Summa, resp.Amount, resp.Summa} {
		if candidate.Valid {
			return candidate.Decimal, nil
		}
	}

	if msg := (envelope{Error: resp.Error, Message: resp.Message}).message(); msg != "" {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrAmountNotFound, msg)
	}
	return decimal.Zero, ErrAmountNotFound
}

// WithdrawExecute confirms a withdrawal with the bookmaker cashdesk.
func (c *Client) WithdrawExecute(ctx context.Context, bookmaker, playerID, code string, amount decimal.Decimal) error {
	body := struct {
		Bookmaker string      `json:"bookmaker"`
		PlayerID  string      `json:"playerId"`
		Code      string      `json:"code"`
		Amount    json.Number `json:"amount"`
	}{bookmaker, playerID, code, money(amount)}

	var resp envelope
	err := c.do(ctx, call{
		method:  http.MethodPost,
		path:    "/api/withdraw-execute",
		body:    body,
		timeout: CheckTimeout,
		event:   "backend_withdraw_execute",
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Success == nil {
		return &APIError{Status: http.StatusOK, Message: resp.message()}
	}
	return nil
}

// AttachMessage stores the Telegram message id of the confirmation on the
// request.
func (c *Client) AttachMessage(ctx context.Context, requestID ID, messageID int) error {
	if requestID == "" {
		return errors.New("request id is required")
	}

	return c.do(ctx, call{
		method:  http.MethodPatch,
		path:    "/api/requests/" + url.PathEscape(string(requestID)),
		body:    map[string]int{"telegram_message_id": messageID},
		timeout: LookupTimeout,
		event:   "backend_attach_message",
	}, nil)
}

// SavedAccount returns the account id the user last used for the casino, or
// an empty string. The "phone" casino id stores the withdrawal phone number.
func (c *Client) SavedAccount(ctx context.Context, userID int64, casinoID string) (string, error) {
	var resp struct {
		Data struct {
			AccountID string `json:"accountId"`
			Phone     string `json:"phone"`
		} `json:"data"`
	}

	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/api/public/casino-account",
		query: url.Values{
			"user_id":   {userKey(userID)},
			"casino_id": {casinoID},
		},
		timeout: LookupTimeout,
		event:   "backend_saved_account",
	}, &resp)
	if err != nil {
		return "", err
	}

	for _, v := range []string{resp.Data.AccountID, resp.Data.Phone} {
		v = strings.TrimSpace(v)
		if v != "" && v != "null" && v != "None" {
			return v, nil
		}
	}
	return "", nil
}

// SaveAccount remembers the account id for the casino.
func (c *Client) SaveAccount(ctx context.Context, userID int64, casinoID, accountID string) error {
	return c.do(ctx, call{
		method: http.MethodPost,
		path:   "/api/public/casino-account",
		body: map[string]string{
			"user_id":    userKey(userID),
			"casino_id":  casinoID,
			"account_id": accountID,
		},
		timeout: LookupTimeout,
		event:   "backend_save_account",
	}, nil)
}

// IngestChat forwards a free-form user message to the operator chat.
func (c *Client) IngestChat(ctx context.Context, userID int64, msg ChatMessage) error {
	if msg.Type == "" {
		msg.Type = "text"
	}

	return c.do(ctx, call{
		method:  http.MethodPost,
		path:    "/api/users/" + userKey(userID) + "/chat/ingest",
		body:    msg,
		timeout: LookupTimeout,
		event:   "backend_chat_ingest",
	}, nil)
}

// ChatMessage is a user message relayed to operators.
type ChatMessage struct {
	Text      string `json:"message_text"`
	Type      string `json:"message_type"`
	MediaURL  string `json:"media_url,omitempty"`
	MessageID int    `json:"telegram_message_id"`
}
