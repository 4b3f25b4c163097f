// Package flow runs the deposit and withdrawal dialogs. It is independent of
// the chat library: inbound updates arrive as Events and replies leave
// through a Transport.
package flow

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"luxon_pay_bot/internal/backend"
	"luxon_pay_bot/internal/countdown"
	"luxon_pay_bot/internal/domain"
	"luxon_pay_bot/internal/logging"
	"luxon_pay_bot/internal/pending"
	"luxon_pay_bot/internal/qr"
	"luxon_pay_bot/internal/session"
	"luxon_pay_bot/internal/settings"
)

// DefaultDepositTimeout is how long a user has to pay once links are shown.
const DefaultDepositTimeout = 5 * time.Minute

// Backend is the subset of the payment backend the dialogs call.
type Backend interface {
	CheckPendingDeposit(ctx context.Context, userID int64) (bool, error)
	GenerateQR(ctx context.Context, req backend.QRRequest) (backend.QRResult, error)
	CreatePayment(ctx context.Context, req backend.PaymentRequest) (backend.ID, error)
	WithdrawCheck(ctx context.Context, bookmaker, playerID, code string) (decimal.Decimal, error)
	WithdrawExecute(ctx context.Context, bookmaker, playerID, code string, amount decimal.Decimal) error
	AttachMessage(ctx context.Context, requestID backend.ID, messageID int) error
	SavedAccount(ctx context.Context, userID int64, casinoID string) (string, error)
	SaveAccount(ctx context.Context, userID int64, casinoID, accountID string) error
}

// SettingsSource serves the current payment settings.
type SettingsSource interface {
	Snapshot(ctx context.Context) settings.Snapshot
}

// RequestRecorder keeps a local copy of submitted requests.
type RequestRecorder interface {
	Record(ctx context.Context, rec domain.RequestRecord) (domain.RequestRecord, error)
}

// Deps are the collaborators an Engine needs.
type Deps struct {
	Transport Transport
	Backend   Backend
	Settings  SettingsSource
	Sessions  *session.Registry
	Pending   pending.Store
	Timers    *countdown.Manager
	Logger    *logrus.Entry
}

// Option customizes an Engine.
type Option func(*Engine)

// WithDepositTimeout overrides how long payment links stay valid.
func WithDepositTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.depositTimeout = d
		}
	}
}

// WithLinks sets the website and support URLs used by the menu buttons.
func WithLinks(website, support string) Option {
	return func(e *Engine) {
		e.websiteURL = strings.TrimRight(strings.TrimSpace(website), "/")
		e.supportURL = strings.TrimSpace(support)
	}
}

// WithClock injects the time source used for pending record expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRequestLog records every request the backend accepts.
func WithRequestLog(log RequestRecorder) Option {
	return func(e *Engine) {
		e.requests = log
	}
}

// Engine dispatches user events to the dialog steps. Events of one user are
// handled one at a time; different users proceed in parallel.
type Engine struct {
	transport Transport
	backend   Backend
	settings  SettingsSource
	sessions  *session.Registry
	pending   pending.Store
	timers    *countdown.Manager
	requests  RequestRecorder
	logger    *logrus.Entry

	locks *userLocks

	depositTimeout time.Duration
	websiteURL     string
	supportURL     string

	now      func() time.Time
	tyiyn    func() int64
	renderQR func(content string) ([]byte, error)
}

// NewEngine validates deps and constructs an Engine.
func NewEngine(deps Deps, opts ...Option) (*Engine, error) {
	switch {
	case deps.Transport == nil:
		return nil, errors.New("transport is required")
	case deps.Backend == nil:
		return nil, errors.New("backend is required")
	case deps.Settings == nil:
		return nil, errors.New("settings source is required")
	case deps.Sessions == nil:
		return nil, errors.New("session registry is required")
	case deps.Pending == nil:
		return nil, errors.New("pending store is required")
	case deps.Timers == nil:
		return nil, errors.New("countdown manager is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Logger()
	}

	e := &Engine{
		transport:      deps.Transport,
		backend:        deps.Backend,
		settings:       deps.Settings,
		sessions:       deps.Sessions,
		pending:        deps.Pending,
		timers:         deps.Timers,
		logger:         logger,
		locks:          newUserLocks(),
		depositTimeout: DefaultDepositTimeout,
		now:            time.Now,
		tyiyn:          func() int64 { return rand.Int63n(99) + 1 },
		renderQR:       qr.Render,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// IsCancel reports whether the event asks to abandon the current request.
func IsCancel(ev Event) bool {
	if ev.Callback == CallbackCancel {
		return true
	}
	return ev.Text != "" && strings.Contains(strings.ToLower(ev.Text), "отменить заявку")
}

func isStartCommand(text string) bool {
	return text == "/start" || strings.HasPrefix(text, "/start ") || strings.HasPrefix(text, "/start@")
}

// Handle processes one event. Result.Handled is false for free text that no
// dialog consumed, so the caller may route it elsewhere.
func (e *Engine) Handle(ctx context.Context, ev Event) Result {
	if e == nil || ctx == nil {
		return Result{}
	}
	if ev.ChatID == 0 {
		ev.ChatID = ev.UserID
	}

	unlock := e.locks.lock(ev.UserID)
	defer unlock()

	handled := Result{Handled: true}

	if IsCancel(ev) {
		e.cancel(ctx, ev)
		if ev.Callback != "" {
			handled.CallbackText = textCancelledCallback
		}
		return handled
	}

	if ev.Callback != "" {
		if strings.HasPrefix(ev.Callback, callbackBankPrefix) && strings.HasSuffix(ev.Callback, callbackBankDisabled) {
			return Result{Handled: true, CallbackText: textBankDisabled, CallbackAlert: true}
		}
		return Result{}
	}

	switch text := strings.TrimSpace(ev.Text); {
	case isStartCommand(text):
		e.start(ctx, ev)
		return handled
	case text == ButtonDeposit:
		e.beginDeposit(ctx, ev)
		return handled
	case text == ButtonWithdraw:
		e.beginWithdraw(ctx, ev)
		return handled
	case text == ButtonSupport:
		e.send(ctx, ev.ChatID, textSupport, linkKeyboard("🚀 Открыть поддержку", "", e.supportURL))
		return handled
	case text == ButtonHistory:
		e.send(ctx, ev.ChatID, textHistory, linkKeyboard("🚀 Открыть историю", e.websiteURL+"/history", ""))
		return handled
	case text == ButtonInstruction:
		e.send(ctx, ev.ChatID, textInstruction, linkKeyboard("🚀 Открыть инструкцию", e.websiteURL+"/instruction", ""))
		return handled
	}

	s, ok := e.sessions.Get(ev.UserID)
	if !ok {
		if ev.PhotoFileID != "" {
			e.resumeDeposit(ctx, ev)
			return handled
		}
		return Result{}
	}

	e.step(ctx, s, ev)
	return handled
}

// Start handles /start: any open request is dropped and the main menu shown.
func (e *Engine) Start(ctx context.Context, ev Event) {
	e.withLock(ev.UserID, func() { e.start(ctx, ev) })
}

// BeginDeposit opens the deposit dialog.
func (e *Engine) BeginDeposit(ctx context.Context, ev Event) {
	e.withLock(ev.UserID, func() { e.beginDeposit(ctx, ev) })
}

// BeginWithdraw opens the withdrawal dialog.
func (e *Engine) BeginWithdraw(ctx context.Context, ev Event) {
	e.withLock(ev.UserID, func() { e.beginWithdraw(ctx, ev) })
}

// Cancel abandons the user's request and shows the main menu.
func (e *Engine) Cancel(ctx context.Context, ev Event) {
	e.withLock(ev.UserID, func() { e.cancel(ctx, ev) })
}

// EndSession stops the user's timer, drops the pending record and the session
// and removes the payment message. It reports whether a session existed.
func (e *Engine) EndSession(ctx context.Context, userID int64, outcome session.Step) bool {
	var ended bool
	e.withLock(userID, func() {
		_, ended = e.endSession(ctx, userID, outcome)
	})
	return ended
}

func (e *Engine) withLock(userID int64, fn func()) {
	if e == nil {
		return
	}
	unlock := e.locks.lock(userID)
	defer unlock()
	fn()
}

// endSession is the only place a flow ends. Callers hold the user's lock.
func (e *Engine) endSession(ctx context.Context, userID int64, outcome session.Step) (session.Session, bool) {
	e.timers.Cancel(userID)
	e.pending.Clear(ctx, userID)

	s, ok := e.sessions.End(userID)
	if !ok {
		return session.Session{}, false
	}
	if s.Payload.HasPaymentMessage() {
		e.delete(ctx, s.Payload.ChatID, s.Payload.PaymentMessageID)
	}

	logging.With(e.logger, logging.Scope{
		UserID:    userID,
		SessionID: s.ID,
		Kind:      string(s.Kind),
		Event:     "session_ended",
	}).WithFields(logging.Fields{
		"step":    s.Step,
		"outcome": outcome,
	}).Info("dialog finished")

	return s, true
}

func (e *Engine) start(ctx context.Context, ev Event) {
	e.endSession(ctx, ev.UserID, session.StepCancelled)

	snap := e.settings.Snapshot(ctx)
	if snap.Pause {
		e.send(ctx, ev.ChatID, pauseText(snap.MaintenanceMessage), &Keyboard{Remove: true})
		return
	}

	e.send(ctx, ev.ChatID, menuGreeting(ev.Profile), linkKeyboard("🌐 Открыть сайт", e.websiteURL, ""))
	e.send(ctx, ev.ChatID, textMenuPrompt, mainMenuKeyboard())
}

func (e *Engine) cancel(ctx context.Context, ev Event) {
	if _, ok := e.endSession(ctx, ev.UserID, session.StepCancelled); ok {
		e.send(ctx, ev.ChatID, textCancelled, nil)
	}
	e.mainMenu(ctx, ev.ChatID)
}

func (e *Engine) step(ctx context.Context, s session.Session, ev Event) {
	switch {
	case s.Kind == session.KindDeposit && s.Step == session.StepSelectBookmaker:
		e.depositBookmaker(ctx, s, ev)
	case s.Kind == session.KindDeposit && s.Step == session.StepEnterPlayerID:
		e.depositPlayerID(ctx, s, ev)
	case s.Kind == session.KindDeposit && s.Step == session.StepEnterAmount:
		e.depositAmount(ctx, s, ev)
	case s.Kind == session.KindDeposit && (s.Step == session.StepAwaitPayment || s.Step == session.StepAwaitProof):
		e.depositProof(ctx, s, ev)

	case s.Kind == session.KindWithdraw && s.Step == session.StepSelectBookmaker:
		e.withdrawBookmaker(ctx, s, ev)
	case s.Kind == session.KindWithdraw && s.Step == session.StepEnterPhone:
		e.withdrawPhone(ctx, s, ev)
	case s.Kind == session.KindWithdraw && s.Step == session.StepAwaitQRImage:
		e.withdrawQR(ctx, s, ev)
	case s.Kind == session.KindWithdraw && s.Step == session.StepEnterPlayerID:
		e.withdrawPlayerID(ctx, s, ev)
	case s.Kind == session.KindWithdraw && s.Step == session.StepEnterCode:
		e.withdrawCode(ctx, s, ev)

	default:
		e.logger.WithFields(logging.Fields{
			"event":   "session_step_unknown",
			"user_id": s.UserID,
			"kind":    s.Kind,
			"step":    s.Step,
		}).Warn("session in unexpected step")
		e.endSession(ctx, s.UserID, session.StepCancelled)
		e.send(ctx, ev.ChatID, textNoSession, nil)
		e.mainMenu(ctx, ev.ChatID)
	}
}

// selectBookmaker resolves the keyboard label the user picked. It re-prompts
// and returns false on anything else.
func (e *Engine) selectBookmaker(ctx context.Context, ev Event, options []domain.Bookmaker) (domain.Bookmaker, bool) {
	b, ok := domain.BookmakerByTitle(ev.Text)
	if !ok {
		e.send(ctx, ev.ChatID, textChooseFromList, bookmakerKeyboard(options))
		return domain.Bookmaker{}, false
	}
	return b, true
}

// savedAccount looks up a remembered account; failures only cost the shortcut.
func (e *Engine) savedAccount(ctx context.Context, userID int64, casinoID string) string {
	value, err := e.backend.SavedAccount(ctx, userID, casinoID)
	if err != nil {
		e.logger.WithFields(logging.Fields{
			"event":     "saved_account_failed",
			"user_id":   userID,
			"casino_id": casinoID,
		}).WithError(err).Warn("failed to load saved account")
		return ""
	}
	return value
}

func (e *Engine) saveAccount(ctx context.Context, userID int64, casinoID, value string) {
	if err := e.backend.SaveAccount(ctx, userID, casinoID, value); err != nil {
		e.logger.WithFields(logging.Fields{
			"event":     "save_account_failed",
			"user_id":   userID,
			"casino_id": casinoID,
		}).WithError(err).Warn("failed to save account")
	}
}

func (e *Engine) record(ctx context.Context, rec domain.RequestRecord, amount decimal.Decimal) {
	if e.requests == nil || rec.RequestID == "" {
		return
	}

	value, err := domain.DecimalAmount(amount)
	if err == nil {
		rec.Amount = value
		rec.CreatedAt = e.now().UTC()
		_, err = e.requests.Record(ctx, rec)
	}
	if err != nil {
		e.logger.WithFields(logging.Fields{
			"event":      "request_record_failed",
			"user_id":    rec.UserID,
			"request_id": rec.RequestID,
		}).WithError(err).Warn("failed to store request copy")
	}
}

func (e *Engine) mainMenu(ctx context.Context, chatID int64) {
	e.send(ctx, chatID, textMenuPrompt, mainMenuKeyboard())
}

func (e *Engine) send(ctx context.Context, chatID int64, text string, kb *Keyboard) int {
	id, err := e.transport.SendText(ctx, chatID, text, kb)
	if err != nil {
		e.transportFailed("send_message_failed", chatID, err)
		return 0
	}
	return id
}

func (e *Engine) delete(ctx context.Context, chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if err := e.transport.Delete(ctx, chatID, messageID); err != nil {
		e.transportFailed("delete_message_failed", chatID, err)
	}
}

func (e *Engine) transportFailed(event string, chatID int64, err error) {
	e.logger.WithFields(logging.Fields{
		"event":   event,
		"chat_id": chatID,
	}).WithError(err).Warn("telegram delivery failed")
}

// failureText turns a backend error into a user message.
func failureText(err error, prefix, fallback string) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return prefix + apiErr.Message
	}
	if backend.IsTemporary(err) {
		return textServerDown
	}
	return fallback
}
