// Package countdown runs per-user cancellable deadlines that refresh a
// payment message while the user pays and fire once when time runs out.
package countdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"luxon_pay_bot/internal/logging"
)

const (
	defaultMaxFailures = 3
	defaultMaxBackoff  = 30 * time.Second

	coarseStep = 10 * time.Second
	fineStep   = 5 * time.Second
)

// Clock is the time source used by timers.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Handlers receive timer events. OnTick may fail when the chat transport
// rejects an edit; OnFail is called instead of OnExpire after too many
// consecutive failures.
type Handlers struct {
	OnTick   func(ctx context.Context, remaining time.Duration, display string) error
	OnExpire func(ctx context.Context)
	OnFail   func(ctx context.Context, err error)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock injects the time source.
func WithClock(clock Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithFailurePolicy overrides the consecutive failure limit and backoff cap.
func WithFailurePolicy(maxFailures int, maxBackoff time.Duration) Option {
	return func(m *Manager) {
		if maxFailures > 0 {
			m.maxFailures = maxFailures
		}
		if maxBackoff > 0 {
			m.maxBackoff = maxBackoff
		}
	}
}

// Manager owns at most one timer per user.
type Manager struct {
	mu     sync.Mutex
	timers map[int64]*timer

	clock       Clock
	logger      *logrus.Entry
	maxFailures int
	maxBackoff  time.Duration
}

type timer struct {
	mu       sync.Mutex
	stopped  bool
	deadline time.Time
	cancel   chan struct{}
	once     sync.Once
}

func (t *timer) stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.once.Do(func() { close(t.cancel) })
}

// NewManager constructs a Manager.
func NewManager(logger *logrus.Entry, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.Logger()
	}

	m := &Manager{
		timers:      make(map[int64]*timer),
		clock:       realClock{},
		logger:      logger,
		maxFailures: defaultMaxFailures,
		maxBackoff:  defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches a timer for the user, replacing any running one. alive is
// consulted before every callback; once it reports false the timer stops
// silently.
func (m *Manager) Start(ctx context.Context, userID int64, duration time.Duration, alive func() bool, h Handlers) error {
	if m == nil {
		return errors.New("countdown manager is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if duration <= 0 {
		return fmt.Errorf("countdown duration must be positive, got %s", duration)
	}

	t := &timer{
		deadline: m.clock.Now().Add(duration),
		cancel:   make(chan struct{}),
	}

	m.mu.Lock()
	prev := m.timers[userID]
	m.timers[userID] = t
	m.mu.Unlock()

	if prev != nil {
		prev.stop()
	}

	go m.run(ctx, userID, t, alive, h)

	m.logger.WithFields(logging.Fields{
		"event":    "timer_started",
		"user_id":  userID,
		"duration": duration.String(),
	}).Debug("countdown started")

	return nil
}

// Cancel stops the user's timer. It waits for an in-flight tick, so no tick
// runs once Cancel returns. An expiry that was already underway still
// reaches OnExpire, which must re-check liveness under the caller's own
// serialization.
func (m *Manager) Cancel(userID int64) bool {
	if m == nil {
		return false
	}

	m.mu.Lock()
	t, ok := m.timers[userID]
	delete(m.timers, userID)
	m.mu.Unlock()

	if !ok {
		return false
	}
	t.stop()
	return true
}

// Active reports whether the user has a running timer.
func (m *Manager) Active(userID int64) bool {
	if m == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[userID]
	return ok
}

// Deadline returns the expiry instant of the user's timer.
func (m *Manager) Deadline(userID int64) (time.Time, bool) {
	if m == nil {
		return time.Time{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[userID]
	if !ok {
		return time.Time{}, false
	}
	return t.deadline, true
}

// Len returns the number of running timers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manager) release(userID int64, t *timer) {
	m.mu.Lock()
	if m.timers[userID] == t {
		delete(m.timers, userID)
	}
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context, userID int64, t *timer, alive func() bool, h Handlers) {
	log := m.logger.WithField("user_id", userID)
	failures := 0
	lastDisplay := ""

	for {
		remaining := t.deadline.Sub(m.clock.Now())
		if remaining <= 0 {
			m.expire(ctx, userID, t, alive, h, log)
			return
		}

		select {
		case <-t.cancel:
			return
		case <-ctx.Done():
			t.stop()
			m.release(userID, t)
			return
		case <-m.clock.After(m.nextWait(remaining, failures)):
		}

		remaining = t.deadline.Sub(m.clock.Now())
		if remaining <= 0 {
			m.expire(ctx, userID, t, alive, h, log)
			return
		}

		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			return
		}
		if alive != nil && !alive() {
			t.stopped = true
			t.mu.Unlock()
			m.release(userID, t)
			log.WithField("event", "timer_orphaned").Debug("session ended, countdown stopped")
			return
		}

		display := Format(remaining)
		if display == lastDisplay || h.OnTick == nil {
			t.mu.Unlock()
			continue
		}

		err := h.OnTick(ctx, remaining, display)
		if err == nil {
			failures = 0
			lastDisplay = display
			t.mu.Unlock()
			continue
		}

		failures++
		log.WithFields(logging.Fields{
			"event":    "timer_tick_failed",
			"failures": failures,
		}).WithError(err).Warn("countdown refresh failed")

		if failures < m.maxFailures {
			t.mu.Unlock()
			continue
		}

		t.stopped = true
		t.mu.Unlock()
		m.release(userID, t)

		log.WithField("event", "timer_failed").Warn("countdown gave up after repeated refresh failures")
		if h.OnFail != nil {
			h.OnFail(ctx, err)
		}
		return
	}
}

func (m *Manager) expire(ctx context.Context, userID int64, t *timer, alive func() bool, h Handlers, log *logrus.Entry) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	live := alive == nil || alive()
	t.mu.Unlock()

	m.release(userID, t)

	if !live {
		return
	}

	log.WithField("event", "timer_expired").Info("countdown expired")
	if h.OnExpire != nil {
		h.OnExpire(ctx)
	}
}

// nextWait aligns the next refresh to a round displayed value and stretches
// it exponentially while refreshes keep failing.
func (m *Manager) nextWait(remaining time.Duration, failures int) time.Duration {
	step := coarseStep
	if remaining <= time.Minute {
		step = fineStep
	}

	wait := remaining % step
	if wait == 0 {
		wait = step
	}

	if failures > 0 {
		wait = step
		for i := 0; i < failures && wait < m.maxBackoff; i++ {
			wait *= 2
		}
		if wait > m.maxBackoff {
			wait = m.maxBackoff
		}
	}

	if wait > remaining {
		wait = remaining
	}
	return wait
}

// Format renders the remaining time as M:SS, rounding partial seconds up.
func Format(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	secs := int64((remaining + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
