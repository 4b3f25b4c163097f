// Package referral links new users to the referrer from their /start
// parameter and renders the referral program summary.
package referral

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"luxon_pay_bot/internal/backend"
	"luxon_pay_bot/internal/domain"
	"luxon_pay_bot/internal/logging"
)

// Policy bounds referral registration retries.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultPolicy makes three attempts two seconds apart.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Delay: 2 * time.Second}
}

// Backend is the subset of the backend client used by referrals.
type Backend interface {
	RegisterReferral(ctx context.Context, link backend.ReferralLink) error
	ReferralData(ctx context.Context, userID int64) (backend.ReferralStats, error)
}

// ParseCode extracts the referrer id from a "ref<id>" or "ref_<id>" start
// parameter.
func ParseCode(param string) (int64, bool) {
	param = strings.TrimSpace(param)
	if !strings.HasPrefix(param, "ref") {
		return 0, false
	}
	code := strings.TrimPrefix(strings.TrimPrefix(param, "ref"), "_")
	if code == "" {
		return 0, false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return 0, false
		}
	}

	id, err := strconv.ParseInt(code, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Service registers referral links and fetches referral statistics.
type Service struct {
	backend Backend
	policy  Policy
	logger  *logrus.Entry
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewService constructs a Service. Non-positive policy values fall back to
// DefaultPolicy.
func NewService(b Backend, policy Policy, logger *logrus.Entry) *Service {
	def := DefaultPolicy()
	if policy.Attempts <= 0 {
		policy.Attempts = def.Attempts
	}
	if policy.Delay < 0 {
		policy.Delay = def.Delay
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Service{
		backend: b,
		policy:  policy,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// Link registers the referred user under the referrer named by the start
// parameter. Failures are logged and never surfaced; the return value
// reports whether the link was stored.
func (s *Service) Link(ctx context.Context, referred domain.Profile, startParam string) bool {
	if s == nil || s.backend == nil || ctx == nil {
		return false
	}

	referrerID, ok := ParseCode(startParam)
	if !ok {
		if strings.HasPrefix(strings.TrimSpace(startParam), "ref") {
			s.logger.WithFields(logging.Fields{
				"event":   "referral_code_invalid",
				"user_id": referred.UserID,
				"param":   startParam,
			}).Warn("ignoring malformed referral code")
		}
		return false
	}

	log := s.logger.WithFields(logging.Fields{
		"user_id":     referred.UserID,
		"referrer_id": referrerID,
	})

	if referrerID == referred.UserID {
		log.WithField("event", "referral_self").Warn("user tried to refer themselves")
		return false
	}

	link := backend.ReferralLink{
		ReferrerID: referrerID,
		ReferredID: referred.UserID,
		Username:   referred.Username,
		FirstName:  referred.FirstName,
		LastName:   referred.LastName,
	}

	for attempt := 1; attempt <= s.policy.Attempts; attempt++ {
		err := s.backend.RegisterReferral(ctx, link)
		if err == nil {
			log.WithFields(logging.Fields{
				"event":   "referral_registered",
				"attempt": attempt,
			}).Info("referral link registered")
			return true
		}

		if final(err) {
			log.WithField("event", "referral_rejected").WithError(err).Warn("referral link rejected")
			return false
		}

		log.WithFields(logging.Fields{
			"event":   "referral_attempt_failed",
			"attempt": attempt,
		}).WithError(err).Warn("referral registration failed")

		if attempt == s.policy.Attempts {
			break
		}
		if err := s.sleep(ctx, s.policy.Delay); err != nil {
			return false
		}
	}

	log.WithFields(logging.Fields{
		"event":    "referral_gave_up",
		"attempts": s.policy.Attempts,
	}).Error("referral registration gave up")
	return false
}

// final reports rejections that retrying cannot fix.
func final(err error) bool {
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "already referred") || strings.Contains(msg, "cannot refer yourself")
}

// Stats fetches the referral summary for the user.
func (s *Service) Stats(ctx context.Context, userID int64) (backend.ReferralStats, error) {
	if s == nil || s.backend == nil {
		return backend.ReferralStats{}, errors.New("referral service is not initialized")
	}
	if ctx == nil {
		return backend.ReferralStats{}, errors.New("context is required")
	}
	return s.backend.ReferralData(ctx, userID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
