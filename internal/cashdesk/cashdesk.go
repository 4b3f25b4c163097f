// Package cashdesk talks to the 1xBet cashdesk API used for manual payouts.
package cashdesk

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"luxon_pay_bot/internal/logging"
)

const (
	// DefaultBaseURL is the cashdesk bot API root.
	DefaultBaseURL = "https://partners.servcul.com/CashdeskBotAPI"

	requestTimeout = 30 * time.Second
	maxBodySize    = 1 << 20
	language       = "ru"
)

// Credentials identify the cashdesk. All fields are required.
type Credentials struct {
	Hash        string `envconfig:"XBET_HASH" required:"true"`
	CashierPass string `envconfig:"XBET_CASHIERPASS" required:"true"`
	Login       string `envconfig:"XBET_LOGIN" required:"true"`
	CashdeskID  string `envconfig:"XBET_CASHDESKID" required:"true"`
}

// Validate reports missing credential fields.
func (c Credentials) Validate() error {
	var missing []string
	if c.Hash == "" {
		missing = append(missing, "hash")
	}
	if c.CashierPass == "" {
		missing = append(missing, "cashierpass")
	}
	if c.Login == "" {
		missing = append(missing, "login")
	}
	if c.CashdeskID == "" {
		missing = append(missing, "cashdeskid")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing cashdesk credentials: %s", strings.Join(missing, ", "))
	}
	if _, err := strconv.ParseInt(c.CashdeskID, 10, 64); err != nil {
		return fmt.Errorf("invalid cashdesk id: %w", err)
	}
	return nil
}

// Confirm is md5hex("account:hash").
func Confirm(account, hash string) string {
	sum := md5.Sum([]byte(account + ":" + hash))
	return hex.EncodeToString(sum[:])
}

// Sign builds the payout signature:
// sha256hex(sha256hex("hash=H&lng=ru&userid=U") + md5hex("code=C&cashierpass=P&cashdeskid=D")).
func Sign(account, code string, creds Credentials) string {
	first := sha256.Sum256([]byte("hash=" + creds.Hash + "&lng=" + language + "&userid=" + account))
	second := md5.Sum([]byte("code=" + code + "&cashierpass=" + creds.CashierPass + "&cashdeskid=" + creds.CashdeskID))

	combined := hex.EncodeToString(first[:]) + hex.EncodeToString(second[:])
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])
}

// Result is the outcome of a payout call.
type Result struct {
	Success bool
	Amount  decimal.Decimal
	Message string
	Status  int
	Data    map[string]interface{}
	Raw     string
}

// Client performs signed cashdesk requests.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
	logger  *logrus.Entry
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBaseURL overrides the API root.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			c.baseURL = base
		}
	}
}

// NewClient validates credentials and constructs a Client.
func NewClient(creds Credentials, logger *logrus.Entry, opts ...Option) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Logger()
	}

	c := &Client{
		baseURL: DefaultBaseURL,
		creds:   creds,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type payoutRequest struct {
	CashdeskID int64  `json:"cashdeskId"`
	Lng        string `json:"lng"`
	Code       string `json:"code"`
	Confirm    string `json:"confirm"`
}

// Payout withdraws funds from a player account using the player's withdrawal
// code. Transport failures return an error; API rejections return a Result
// with Success=false.
func (c *Client) Payout(ctx context.Context, account, code string) (Result, error) {
	if c == nil || c.http == nil {
		return Result{}, errors.New("cashdesk client is not initialized")
	}
	if ctx == nil {
		return Result{}, errors.New("context is required")
	}
	account = strings.TrimSpace(account)
	code = strings.TrimSpace(code)
	if account == "" || code == "" {
		return Result{}, errors.New("account and code are required")
	}

	cashdeskID, _ := strconv.ParseInt(c.creds.CashdeskID, 10, 64)
	body, err := json.Marshal(payoutRequest{
		CashdeskID: cashdeskID,
		Lng:        language,
		Code:       code,
		Confirm:    Confirm(account, c.creds.Hash),
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode payout request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	endpoint := c.baseURL + "/Deposit/" + account + "/Payout"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build payout request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("sign", Sign(account, code, c.creds))
	req.Header.Set("X-Request-ID", requestID)
	req.SetBasicAuth(c.creds.Login, c.creds.CashierPass)

	log := c.logger.WithFields(logging.Fields{
		"event":      "cashdesk_payout",
		"account_id": account,
		"request_id": requestID,
	})

	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Error("cashdesk request failed")
		return Result{}, fmt.Errorf("post payout: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Result{}, fmt.Errorf("read payout response: %w", err)
	}

	result := parseResult(resp.StatusCode, raw)
	log.WithFields(logging.Fields{
		"status":  resp.StatusCode,
		"success": result.Success,
		"amount":  result.Amount.String(),
	}).Info("cashdesk payout finished")
	return result, nil
}

func parseResult(status int, raw []byte) Result {
	ok := status >= 200 && status < 300
	result := Result{Status: status, Raw: string(raw)}

	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil || data == nil {
		result.Message = "Неверный формат ответа от API: " + truncate(result.Raw, 200)
		return result
	}
	result.Data = data

	flagged := isTrue(data["success"]) || isTrue(data["Success"])
	summa, hasAmount := firstPresent(data, "summa", "Summa")

	if ok && (flagged || hasAmount) {
		result.Success = true
		if hasAmount {
			result.Amount = toDecimal(summa).Abs()
		}
		result.Message = fmt.Sprintf("Вывод успешно выполнен! Сумма: %s KGS", result.Amount.StringFixed(2))
		return result
	}

	result.Message = fmt.Sprintf("Ошибка (Статус: %d)", status)
	for _, key := range []string{"message", "Message", "error", "Error"} {
		if s, ok := data[key].(string); ok && s != "" {
			result.Message = s
			break
		}
	}
	return result
}

func isTrue(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

func firstPresent(data map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if v, ok := data[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func toDecimal(v interface{}) decimal.Decimal {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err == nil {
			return d
		}
	}
	return decimal.Zero
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
