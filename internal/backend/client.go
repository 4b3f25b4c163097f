// Package backend is the HTTP client for the payment administration service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"luxon_pay_bot/internal/logging"
)

// Per-call timeouts.
const (
	LookupTimeout   = 5 * time.Second
	CheckTimeout    = 10 * time.Second
	ReferralTimeout = 15 * time.Second
	SubmitTimeout   = 30 * time.Second
)

const (
	maxResponseBytes   = 1 << 20
	requestIDHeader    = "X-Request-ID"
	defaultDialTimeout = 5 * time.Second
	defaultIdleTimeout = 30 * time.Second
	defaultTLSTimeout  = 5 * time.Second
)

// APIError is returned when the backend answers with a non-2xx status or an
// explicit success:false.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("backend returned status %d", e.Status)
}

// Temporary reports whether retrying might help.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// IsTemporary reports whether err is a transient transport failure or a
// retryable backend status.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" || opErr.Timeout()
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}

	return false
}

// Client talks to the backend over JSON.
type Client struct {
	baseURL      string
	http         *http.Client
	logger       *logrus.Entry
	newRequestID func() string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the tuned default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient constructs a Client for the given base URL.
func NewClient(baseURL string, logger *logrus.Entry, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("parse backend base url: %w", err)
	}
	if logger == nil {
		logger = logging.Logger()
	}

	c := &Client{
		baseURL:      baseURL,
		http:         buildHTTPClient(),
		logger:       logger,
		newRequestID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// buildHTTPClient returns a client without retries; callers decide what is
// safe to repeat.
func buildHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleTimeout,
		TLSHandshakeTimeout:   defaultTLSTimeout,
		ExpectContinueTimeout: time.Second,
	}

	return &http.Client{
		Timeout:   SubmitTimeout + 5*time.Second,
		Transport: transport,
	}
}

// envelope captures the status fields every endpoint may carry.
type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e envelope) message() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

type call struct {
	method  string
	path    string
	query   url.Values
	body    interface{}
	timeout time.Duration
	event   string
}

// do performs one request and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, req call, out interface{}) error {
	if c == nil || c.http == nil {
		return errors.New("backend client is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if req.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.timeout)
		defer cancel()
	}

	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var reader io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", req.path, err)
		}
		reader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", req.path, err)
	}
	requestID := c.newRequestID()
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(requestIDHeader, requestID)
	if reader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":      req.event + "_error",
			"path":       req.path,
			"request_id": requestID,
		}).WithError(err).Warn("backend request failed")
		return fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", req.path, err)
	}

	c.logger.WithFields(logging.Fields{
		"event":       req.event,
		"path":        req.path,
		"status":      resp.StatusCode,
		"request_id":  requestID,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debug("backend request completed")

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: env.message()}
	}
	if decodeErr != nil {
		if out == nil && len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		return fmt.Errorf("decode %s response: %w", req.path, decodeErr)
	}
	if env.Success != nil && !*env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.message()}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.path, err)
	}
	return nil
}

func userKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
