// Package session keeps the in-memory state of each user's deposit or
// withdrawal dialog.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind distinguishes deposit and withdrawal flows.
type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
)

// Step is a dialog state. Terminal steps never stay in the registry; they are
// reported as outcomes when a session ends.
type Step string

const (
	StepSelectBookmaker Step = "select_bookmaker"
	StepEnterPlayerID   Step = "enter_player_id"

	StepEnterAmount  Step = "enter_amount"
	StepAwaitPayment Step = "await_payment"
	StepAwaitProof   Step = "await_proof_image"

	StepEnterPhone   Step = "enter_phone"
	StepAwaitQRImage Step = "await_qr_image"
	StepEnterCode    Step = "enter_code"
	StepCheckAmount  Step = "check_amount"
	StepSubmit       Step = "submit"

	StepComplete  Step = "complete"
	StepCancelled Step = "cancelled"
	StepExpired   Step = "expired"
)

// Terminal reports whether the step ends a flow.
func (s Step) Terminal() bool {
	switch s {
	case StepComplete, StepCancelled, StepExpired:
		return true
	}
	return false
}

// Payload holds the values collected while the dialog advances.
type Payload struct {
	ChatID    int64
	Bookmaker string
	PlayerID  string
	Phone     string
	Amount    decimal.Decimal
	Code      string
	QRFileID  string
	BankLinks map[string]string

	// Banks enabled in settings when the links were issued.
	DepositBanks []string

	// Coordinates of the payment message refreshed by the countdown.
	PaymentMessageID int
	PaymentIsPhoto   bool
}

// HasPaymentMessage reports whether a payment message is on screen.
func (p Payload) HasPaymentMessage() bool {
	return p.ChatID != 0 && p.PaymentMessageID != 0
}

// Session is one user's in-progress flow.
type Session struct {
	ID        string
	UserID    int64
	Kind      Kind
	Step      Step
	Payload   Payload
	CreatedAt time.Time
}

func (s *Session) clone() Session {
	out := *s
	if s.Payload.BankLinks != nil {
		out.Payload.BankLinks = make(map[string]string, len(s.Payload.BankLinks))
		for k, v := range s.Payload.BankLinks {
			out.Payload.BankLinks[k] = v
		}
	}
	if s.Payload.DepositBanks != nil {
		out.Payload.DepositBanks = append([]string(nil), s.Payload.DepositBanks...)
	}
	return out
}

// Registry maps user ids to their single active session. Countdown goroutines
// read it concurrently with dialog handlers, so access is guarded.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	now      func() time.Time
	newID    func() string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[int64]*Session),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Start creates a session at the first step of a flow, replacing any prior
// session for the user.
func (r *Registry) Start(userID int64, kind Kind, chatID int64) Session {
	s := &Session{
		ID:        r.newID(),
		UserID:    userID,
		Kind:      kind,
		Step:      StepSelectBookmaker,
		Payload:   Payload{ChatID: chatID},
		CreatedAt: r.now(),
	}

	r.mu.Lock()
	r.sessions[userID] = s
	r.mu.Unlock()

	return s.clone()
}

// Restore installs a session rebuilt from persisted state at the given step.
func (r *Registry) Restore(userID int64, kind Kind, step Step, payload Payload) Session {
	s := &Session{
		ID:        r.newID(),
		UserID:    userID,
		Kind:      kind,
		Step:      step,
		Payload:   payload,
		CreatedAt: r.now(),
	}

	r.mu.Lock()
	r.sessions[userID] = s
	r.mu.Unlock()

	return s.clone()
}

// Get returns a copy of the user's session.
func (r *Registry) Get(userID int64) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Update applies fn to the stored session. It returns false when the user has
// no session.
func (r *Registry) Update(userID int64, fn func(*Session)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok {
		return false
	}
	fn(s)
	return true
}

// End removes and returns the user's session.
func (r *Registry) End(userID int64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, userID)
	return s.clone(), true
}

// Alive reports whether the given session is still the user's current one.
func (r *Registry) Alive(userID int64, sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[userID]
	return ok && s.ID == sessionID
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
