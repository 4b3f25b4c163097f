package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"luxon_pay_bot/internal/backend"
	"luxon_pay_bot/internal/domain"
	"luxon_pay_bot/internal/flow"
	"luxon_pay_bot/internal/guard"
)

type fakeDialog struct {
	events []flow.Event
	result flow.Result
}

func (f *fakeDialog) Handle(_ context.Context, ev flow.Event) flow.Result {
	f.events = append(f.events, ev)
	return f.result
}

type answer struct {
	id    string
	text  string
	alert bool
}

type fakeMessenger struct {
	mu      sync.Mutex
	texts   []string
	answers []answer
}

func (f *fakeMessenger) SendText(_ context.Context, _ int64, text string, _ *flow.Keyboard) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return len(f.texts), nil
}

func (f *fakeMessenger) AnswerCallback(_ context.Context, id, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answer{id, text, alert})
	return nil
}

type fakeUsers struct {
	profiles []domain.Profile
	err      error
}

func (f *fakeUsers) EnsureUser(_ context.Context, p domain.Profile) (bool, error) {
	f.profiles = append(f.profiles, p)
	return len(f.profiles) == 1, f.err
}

type fakeReferrals struct {
	links    []string
	stats    backend.ReferralStats
	statsErr error
}

func (f *fakeReferrals) Link(_ context.Context, _ domain.Profile, param string) bool {
	f.links = append(f.links, param)
	return true
}

func (f *fakeReferrals) Stats(context.Context, int64) (backend.ReferralStats, error) {
	return f.stats, f.statsErr
}

type fakeChat struct {
	messages []backend.ChatMessage
}

func (f *fakeChat) IngestChat(_ context.Context, _ int64, msg backend.ChatMessage) error {
	f.messages = append(f.messages, msg)
	return nil
}

type routerHarness struct {
	router    *Router
	dialog    *fakeDialog
	messenger *fakeMessenger
	users     *fakeUsers
	referrals *fakeReferrals
	chat      *fakeChat
	hook      *logtest.Hook
}

func newRouterHarness(t *testing.T, limiter *guard.Limiter) *routerHarness {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	h := &routerHarness{
		dialog:    &fakeDialog{},
		messenger: &fakeMessenger{},
		users:     &fakeUsers{},
		referrals: &fakeReferrals{},
		chat:      &fakeChat{},
		hook:      hook,
	}

	r, err := NewRouter(RouterDeps{
		Dialog:    h.dialog,
		Messenger: h.messenger,
		Limiter:   limiter,
		Users:     h.users,
		Referrals: h.referrals,
		Chat:      h.chat,
		Logger:    logrus.NewEntry(logger),
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	r.async = func(fn func()) { fn() }
	h.router = r
	return h
}

func privateMessage(text string) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:   10,
		From: &models.User{ID: 5, Username: "aibek", FirstName: "Айбек"},
		Chat: models.Chat{ID: 5, Type: models.ChatTypePrivate},
		Text: text,
	}}
}

func TestNewRouterRequiresDeps(t *testing.T) {
	if _, err := NewRouter(RouterDeps{Messenger: &fakeMessenger{}}); err == nil {
		t.Fatalf("expected dialog error")
	}
	if _, err := NewRouter(RouterDeps{Dialog: &fakeDialog{}}); err == nil {
		t.Fatalf("expected messenger error")
	}
}

func TestRouterForwardsPrivateMessages(t *testing.T) {
	h := newRouterHarness(t, nil)
	h.dialog.result = flow.Result{Handled: true}

	h.router.HandleUpdate(context.Background(), privateMessage(" 💰 Пополнить "))

	if len(h.dialog.events) != 1 {
		t.Fatalf("expected one dialog event")
	}
	ev := h.dialog.events[0]
	if ev.UserID != 5 || ev.ChatID != 5 || ev.MessageID != 10 || ev.Text != flow.ButtonDeposit || ev.Profile.FirstName != "Айбек" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if len(h.users.profiles) != 1 || h.users.profiles[0].Username != "aibek" {
		t.Fatalf("expected user registration, got %+v", h.users.profiles)
	}
	if len(h.chat.messages) != 0 {
		t.Fatalf("handled messages must not be ingested")
	}
}

func TestRouterIgnoresGroupsAndBots(t *testing.T) {
	h := newRouterHarness(t, nil)

	group := privateMessage("hi")
	group.Message.Chat.Type = models.ChatTypeSupergroup
	h.router.HandleUpdate(context.Background(), group)

	fromBot := privateMessage("hi")
	fromBot.Message.From.IsBot = true
	h.router.HandleUpdate(context.Background(), fromBot)

	if len(h.dialog.events) != 0 || len(h.users.profiles) != 0 {
		t.Fatalf("expected group and bot messages ignored")
	}
}

func TestRouterPhotoAndImageDocument(t *testing.T) {
	h := newRouterHarness(t, nil)
	h.dialog.result = flow.Result{Handled: true}

	photo := privateMessage("")
	photo.Message.Photo = []models.PhotoSize{{FileID: "small"}, {FileID: "large"}}
	h.router.HandleUpdate(context.Background(), photo)

	doc := privateMessage("")
	doc.Message.Document = &models.Document{FileID: "scan", MimeType: "image/png"}
	h.router.HandleUpdate(context.Background(), doc)

	pdf := privateMessage("")
	pdf.Message.Document = &models.Document{FileID: "statement", MimeType: "application/pdf"}
	h.router.HandleUpdate(context.Background(), pdf)

	got := []string{h.dialog.events[0].PhotoFileID, h.dialog.events[1].PhotoFileID, h.dialog.events[2].PhotoFileID}
	if got[0] != "large" || got[1] != "scan" || got[2] != "" {
		t.Fatalf("unexpected photo ids %v", got)
	}
}

func TestRouterStartLinksReferral(t *testing.T) {
	h := newRouterHarness(t, nil)
	h.dialog.result = flow.Result{Handled: true}

	h.router.HandleUpdate(context.Background(), privateMessage("/start ref_777"))
	h.router.HandleUpdate(context.Background(), privateMessage("/start"))

	if len(h.referrals.links) != 1 || h.referrals.links[0] != "ref_777" {
		t.Fatalf("expected one referral link, got %v", h.referrals.links)
	}
	if len(h.dialog.events) != 2 || h.dialog.events[0].Text != "/start ref_777" {
		t.Fatalf("expected /start forwarded to the dialog, got %+v", h.dialog.events)
	}
}

func TestRouterReferralStats(t *testing.T) {
	h := newRouterHarness(t, nil)
	h.referrals.stats = backend.ReferralStats{Earned: decimal.NewFromInt(150), ReferralCount: 3}

	h.router.HandleUpdate(context.Background(), privateMessage("/referral"))

	if len(h.messenger.texts) != 1 || !strings.Contains(h.messenger.texts[0], "👥 Рефералов: 3") {
		t.Fatalf("unexpected reply %v", h.messenger.texts)
	}
	if len(h.dialog.events) != 0 {
		t.Fatalf("/referral must not reach the dialog")
	}

	h.referrals.statsErr = errors.New("timeout")
	h.router.HandleUpdate(context.Background(), privateMessage("/referral@luxon_bot"))
	if h.messenger.texts[1] != textReferralError {
		t.Fatalf("expected referral error text, got %q", h.messenger.texts[1])
	}
}

func TestRouterIngestsUnhandledText(t *testing.T) {
	h := newRouterHarness(t, nil)

	h.router.HandleUpdate(context.Background(), privateMessage("Где мой платеж?"))
	h.router.HandleUpdate(context.Background(), privateMessage("/unknown"))
	h.router.HandleUpdate(context.Background(), privateMessage(flow.ButtonCancel))

	sticker := privateMessage("")
	sticker.Message.Sticker = &models.Sticker{FileID: "sticker-1"}
	h.router.HandleUpdate(context.Background(), sticker)

	if len(h.chat.messages) != 2 {
		t.Fatalf("expected text and sticker ingested, got %+v", h.chat.messages)
	}
	if m := h.chat.messages[0]; m.Text != "Где мой платеж?" || m.Type != "text" || m.MessageID != 10 {
		t.Fatalf("unexpected chat message %+v", m)
	}
	if m := h.chat.messages[1]; m.Type != "sticker" || m.MediaURL != "sticker-1" {
		t.Fatalf("unexpected sticker message %+v", m)
	}
}

func TestRouterRejectsSuspiciousText(t *testing.T) {
	h := newRouterHarness(t, nil)

	h.router.HandleUpdate(context.Background(), privateMessage("1; DROP TABLE users"))

	if len(h.chat.messages) != 0 || len(h.messenger.texts) != 1 || h.messenger.texts[0] != textInvalidInput {
		t.Fatalf("expected warning without ingest, got %v", h.messenger.texts)
	}
	if h.hook.LastEntry().Data["event"] != "chat_input_rejected" {
		t.Fatalf("expected rejection log")
	}
}

func TestRouterCallbackAnswered(t *testing.T) {
	h := newRouterHarness(t, nil)
	h.dialog.result = flow.Result{Handled: true, CallbackText: "Банк недоступен", CallbackAlert: true}

	h.router.HandleUpdate(context.Background(), &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb-1",
		From: models.User{ID: 5},
		Data: "deposit_bank_bakai_disabled",
		Message: models.MaybeInaccessibleMessage{
			Type:    models.MaybeInaccessibleMessageTypeMessage,
			Message: &models.Message{ID: 33, Chat: models.Chat{ID: 5}},
		},
	}})

	ev := h.dialog.events[0]
	if ev.Callback != "deposit_bank_bakai_disabled" || ev.ChatID != 5 || ev.MessageID != 33 {
		t.Fatalf("unexpected callback event %+v", ev)
	}
	if len(h.messenger.answers) != 1 || h.messenger.answers[0] != (answer{"cb-1", "Банк недоступен", true}) {
		t.Fatalf("unexpected answers %+v", h.messenger.answers)
	}
}

func TestRouterRateLimitNotifiesOnce(t *testing.T) {
	h := newRouterHarness(t, guard.NewLimiter(time.Minute, 2, 10*time.Minute))
	h.dialog.result = flow.Result{Handled: true}

	for i := 0; i < 5; i++ {
		h.router.HandleUpdate(context.Background(), privateMessage(flow.ButtonSupport))
	}

	if len(h.dialog.events) != 2 {
		t.Fatalf("expected two events admitted, got %d", len(h.dialog.events))
	}
	if len(h.messenger.texts) != 1 || !strings.Contains(h.messenger.texts[0], "через 10 мин") {
		t.Fatalf("expected a single block notice, got %v", h.messenger.texts)
	}

	h.router.HandleUpdate(context.Background(), &models.Update{CallbackQuery: &models.CallbackQuery{ID: "cb", From: models.User{ID: 5}}})
	if len(h.messenger.answers) != 0 {
		t.Fatalf("blocked callbacks are answered only when the block starts")
	}
}

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in, cmd, arg string
	}{
		{"/start", "/start", ""},
		{"/start ref123", "/start", "ref123"},
		{"/START@luxon_bot  ref_1 ", "/start", "ref_1"},
		{"hello", "", ""},
	}
	for _, tc := range cases {
		cmd, arg := splitCommand(tc.in)
		if cmd != tc.cmd || arg != tc.arg {
			t.Fatalf("splitCommand(%q) = %q, %q", tc.in, cmd, arg)
		}
	}
}
