package flow

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"luxon_pay_bot/internal/backend"
	"luxon_pay_bot/internal/countdown"
	"luxon_pay_bot/internal/domain"
	"luxon_pay_bot/internal/pending"
	"luxon_pay_bot/internal/session"
	"luxon_pay_bot/internal/settings"
)

const testUser int64 = 42

type sent struct {
	chatID int64
	id     int
	text   string
	kb     *Keyboard
	photo  bool
}

type edit struct {
	messageID int
	text      string
	caption   bool
}

type fakeTransport struct {
	mu        sync.Mutex
	nextID    int
	sent      []sent
	edits     []edit
	deleted   []int
	files     map[string][]byte
	editFails int
	editErr   error
	sendErr   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{nextID: 100, files: map[string][]byte{}}
}

func (f *fakeTransport) push(chatID int64, text string, kb *Keyboard, photo bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, sent{chatID: chatID, id: f.nextID, text: text, kb: kb, photo: photo})
	return f.nextID, nil
}

func (f *fakeTransport) SendText(_ context.Context, chatID int64, text string, kb *Keyboard) (int, error) {
	return f.push(chatID, text, kb, false)
}

func (f *fakeTransport) SendPhoto(_ context.Context, chatID int64, png []byte, caption string, kb *Keyboard) (int, error) {
	if len(png) == 0 {
		return 0, errors.New("empty photo")
	}
	return f.push(chatID, caption, kb, true)
}

func (f *fakeTransport) edit(messageID int, text string, caption bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	if f.editFails > 0 {
		f.editFails--
		return errors.New("too many requests")
	}
	f.edits = append(f.edits, edit{messageID: messageID, text: text, caption: caption})
	return nil
}

func (f *fakeTransport) EditText(_ context.Context, _ int64, messageID int, text string, _ *Keyboard) error {
	return f.edit(messageID, text, false)
}

func (f *fakeTransport) EditCaption(_ context.Context, _ int64, messageID int, caption string, _ *Keyboard) error {
	return f.edit(messageID, caption, true)
}

func (f *fakeTransport) Delete(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) Download(_ context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[fileID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

func (f *fakeTransport) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.text)
	}
	return out
}

func (f *fakeTransport) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sent{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) count(text string) int {
	n := 0
	for _, t := range f.texts() {
		if t == text {
			n++
		}
	}
	return n
}

func (f *fakeTransport) wasDeleted(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deleted {
		if d == id {
			return true
		}
	}
	return false
}

func (f *fakeTransport) find(pred func(sent) bool) (sent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.sent {
		if pred(m) {
			return m, true
		}
	}
	return sent{}, false
}

type fakeBackend struct {
	mu sync.Mutex

	hasPending bool
	pendingErr error

	qr      backend.QRResult
	qrErr   error
	qrCalls []backend.QRRequest

	payments   []backend.PaymentRequest
	paymentID  backend.ID
	paymentErr error

	withdrawAmount decimal.Decimal
	withdrawErr    error
	executeCalls   int
	executeErr     error

	attached map[backend.ID]int
	saved    map[string]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		qr: backend.QRResult{
			BankURLs: map[string]string{
				"omoney": "https://pay.example/omoney",
				"mbank":  "https://pay.example/mbank",
			},
		},
		paymentID:      "777",
		withdrawAmount: decimal.NewFromInt(1500),
		attached:       map[backend.ID]int{},
		saved:          map[string]string{},
	}
}

func (b *fakeBackend) CheckPendingDeposit(context.Context, int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasPending, b.pendingErr
}

func (b *fakeBackend) GenerateQR(_ context.Context, req backend.QRRequest) (backend.QRResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.qrCalls = append(b.qrCalls, req)
	if b.qrErr != nil {
		return backend.QRResult{}, b.qrErr
	}
	result := b.qr
	if result.Amount.IsZero() {
		result.Amount = req.Amount
	}
	return result, nil
}

func (b *fakeBackend) CreatePayment(_ context.Context, req backend.PaymentRequest) (backend.ID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payments = append(b.payments, req)
	if b.paymentErr != nil {
		return "", b.paymentErr
	}
	return b.paymentID, nil
}

func (b *fakeBackend) WithdrawCheck(context.Context, string, string, string) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.withdrawAmount, b.withdrawErr
}

func (b *fakeBackend) WithdrawExecute(context.Context, string, string, string, decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.executeCalls++
	return b.executeErr
}

func (b *fakeBackend) AttachMessage(_ context.Context, id backend.ID, messageID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attached[id] = messageID
	return nil
}

func (b *fakeBackend) SavedAccount(_ context.Context, _ int64, casinoID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saved[casinoID], nil
}

func (b *fakeBackend) SaveAccount(_ context.Context, _ int64, casinoID, accountID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saved[casinoID] = accountID
	return nil
}

func (b *fakeBackend) paymentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.payments)
}

type fakeSettings struct {
	snap settings.Snapshot
}

func (f *fakeSettings) Snapshot(context.Context) settings.Snapshot { return f.snap }

type fakeRecorder struct {
	mu      sync.Mutex
	records []domain.RequestRecord
}

func (r *fakeRecorder) Record(_ context.Context, rec domain.RequestRecord) (domain.RequestRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return rec, nil
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) sleeping() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// advance moves the clock once a timer is asleep and wakes every waiter due.
func (c *fakeClock) advance(t *testing.T, d time.Duration) {
	t.Helper()
	eventually(t, func() bool { return c.sleeping() > 0 }, "timer never went to sleep")

	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

// fireNext advances to the earliest sleeping waiter.
func (c *fakeClock) fireNext(t *testing.T) {
	t.Helper()
	eventually(t, func() bool { return c.sleeping() > 0 }, "timer never went to sleep")

	c.mu.Lock()
	next := c.waiters[0].at
	for _, w := range c.waiters[1:] {
		if w.at.Before(next) {
			next = w.at
		}
	}
	d := next.Sub(c.now)
	c.mu.Unlock()

	c.advance(t, d)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("%s", msg)
		}
		time.Sleep(time.Millisecond)
	}
}

type harness struct {
	engine   *Engine
	tr       *fakeTransport
	be       *fakeBackend
	settings *fakeSettings
	sessions *session.Registry
	pending  *pending.FileStore
	timers   *countdown.Manager
	clock    *fakeClock
	records  *fakeRecorder
	hook     *test.Hook
	path     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessAt(t, filepath.Join(t.TempDir(), "pending.json"), newFakeClock(), newFakeBackend())
}

func newHarnessAt(t *testing.T, path string, clock *fakeClock, be *fakeBackend) *harness {
	t.Helper()

	logger, hook := test.NewNullLogger()
	log := logrus.NewEntry(logger)

	store, err := pending.OpenFile(path, log, pending.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("open pending store: %v", err)
	}

	h := &harness{
		tr:       newFakeTransport(),
		be:       be,
		settings: &fakeSettings{snap: settings.Defaults()},
		sessions: session.NewRegistry(),
		pending:  store,
		timers:   countdown.NewManager(log, countdown.WithClock(clock)),
		clock:    clock,
		records:  &fakeRecorder{},
		hook:     hook,
		path:     path,
	}

	engine, err := NewEngine(Deps{
		Transport: h.tr,
		Backend:   h.be,
		Settings:  h.settings,
		Sessions:  h.sessions,
		Pending:   h.pending,
		Timers:    h.timers,
		Logger:    log,
	}, WithClock(clock.Now), WithRequestLog(h.records), WithLinks("https://lux-on.org/", "https://t.me/support"))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.tyiyn = func() int64 { return 37 }
	engine.renderQR = func(content string) ([]byte, error) { return []byte("png:" + content), nil }
	h.engine = engine

	t.Cleanup(func() { h.timers.Cancel(testUser) })
	return h
}

func (h *harness) text(t *testing.T, text string) Result {
	t.Helper()
	return h.engine.Handle(context.Background(), Event{
		UserID:  testUser,
		ChatID:  testUser,
		Profile: domain.Profile{UserID: testUser, Username: "player", FirstName: "Айбек"},
		Text:    text,
	})
}

func (h *harness) photo(t *testing.T, fileID string) Result {
	t.Helper()
	return h.engine.Handle(context.Background(), Event{
		UserID:      testUser,
		ChatID:      testUser,
		Profile:     domain.Profile{UserID: testUser, Username: "player", FirstName: "Айбек"},
		PhotoFileID: fileID,
	})
}

func (h *harness) callback(t *testing.T, data string) Result {
	t.Helper()
	return h.engine.Handle(context.Background(), Event{
		UserID:   testUser,
		ChatID:   testUser,
		Callback: data,
	})
}

func (h *harness) step(t *testing.T) session.Step {
	t.Helper()
	s, ok := h.sessions.Get(testUser)
	if !ok {
		t.Fatalf("expected an active session")
	}
	return s.Step
}

// toPayment walks a 1xbet deposit up to the payment message.
func (h *harness) toPayment(t *testing.T) session.Session {
	t.Helper()
	h.text(t, ButtonDeposit)
	h.text(t, "1XBET")
	h.text(t, "12345")
	h.text(t, "500")

	s, ok := h.sessions.Get(testUser)
	if !ok || s.Step != session.StepAwaitPayment {
		t.Fatalf("expected await_payment, got %+v (ok=%v)", s, ok)
	}
	return s
}

// assertCleared checks that no session, timer or pending record is left.
func (h *harness) assertCleared(t *testing.T) {
	t.Helper()
	if _, ok := h.sessions.Get(testUser); ok {
		t.Fatalf("session still present")
	}
	if h.timers.Active(testUser) {
		t.Fatalf("timer still running")
	}
	if _, ok := h.pending.Get(context.Background(), testUser); ok {
		t.Fatalf("pending record still present")
	}
}
