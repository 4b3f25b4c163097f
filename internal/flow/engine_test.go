package flow

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"luxon_pay_bot/internal/session"
)

func TestNewEngineRequiresDeps(t *testing.T) {
	h := newHarness(t)
	full := Deps{
		Transport: h.tr,
		Backend:   h.be,
		Settings:  h.settings,
		Sessions:  h.sessions,
		Pending:   h.pending,
		Timers:    h.timers,
	}

	cases := map[string]func(d *Deps){
		"transport": func(d *Deps) { d.Transport = nil },
		"backend":   func(d *Deps) { d.Backend = nil },
		"settings":  func(d *Deps) { d.Settings = nil },
		"sessions":  func(d *Deps) { d.Sessions = nil },
		"pending":   func(d *Deps) { d.Pending = nil },
		"timers":    func(d *Deps) { d.Timers = nil },
	}
	for name, mutate := range cases {
		deps := full
		mutate(&deps)
		if _, err := NewEngine(deps); err == nil || !strings.Contains(err.Error(), "required") {
			t.Fatalf("%s: expected required error, got %v", name, err)
		}
	}

	if _, err := NewEngine(full); err != nil {
		t.Fatalf("expected engine, got %v", err)
	}
}

func TestIsCancel(t *testing.T) {
	cases := []struct {
		ev   Event
		want bool
	}{
		{Event{Text: ButtonCancel}, true},
		{Event{Text: "ОТМЕНИТЬ ЗАЯВКУ пожалуйста"}, true},
		{Event{Callback: CallbackCancel}, true},
		{Event{Text: "отмена"}, false},
		{Event{Text: "500"}, false},
		{Event{}, false},
	}
	for _, tc := range cases {
		if got := IsCancel(tc.ev); got != tc.want {
			t.Fatalf("IsCancel(%+v) = %v, want %v", tc.ev, got, tc.want)
		}
	}
}

func TestStartShowsMenuAndDropsSession(t *testing.T) {
	h := newHarness(t)
	s := h.toPayment(t)

	if res := h.text(t, "/start ref123"); !res.Handled {
		t.Fatalf("expected /start to be handled")
	}
	h.assertCleared(t)
	if !h.tr.wasDeleted(s.Payload.PaymentMessageID) {
		t.Fatalf("expected payment message removed")
	}

	greeting, ok := h.tr.find(func(m sent) bool { return strings.HasPrefix(m.text, "👋 Привет, Айбек!") })
	if !ok || greeting.kb == nil || greeting.kb.Inline[0][0].WebApp != "https://lux-on.org" {
		t.Fatalf("expected greeting with website button, got %+v", greeting)
	}
	last := h.tr.last()
	if last.text != textMenuPrompt || len(last.kb.Reply) != 3 || last.kb.Reply[0][0] != ButtonDeposit {
		t.Fatalf("expected main menu, got %+v", last)
	}
}

func TestStartWhilePaused(t *testing.T) {
	h := newHarness(t)
	h.settings.snap.Pause = true
	h.settings.snap.MaintenanceMessage = "Обновление до 18:00"

	h.text(t, "/start")

	last := h.tr.last()
	if last.text != "⏸️ Бот на паузе\n\nОбновление до 18:00" || last.kb == nil || !last.kb.Remove {
		t.Fatalf("expected pause notice, got %+v", last)
	}
}

func TestMenuLinks(t *testing.T) {
	h := newHarness(t)

	h.text(t, ButtonSupport)
	if last := h.tr.last(); last.text != textSupport || last.kb.Inline[0][0].URL != "https://t.me/support" {
		t.Fatalf("unexpected support reply %+v", last)
	}

	h.text(t, ButtonHistory)
	if last := h.tr.last(); last.text != textHistory || last.kb.Inline[0][0].WebApp != "https://lux-on.org/history" {
		t.Fatalf("unexpected history reply %+v", last)
	}

	h.text(t, ButtonInstruction)
	if last := h.tr.last(); last.text != textInstruction || last.kb.Inline[0][0].WebApp != "https://lux-on.org/instruction" {
		t.Fatalf("unexpected instruction reply %+v", last)
	}
}

func TestFreeTextOutsideFlowIsNotHandled(t *testing.T) {
	h := newHarness(t)

	if res := h.text(t, "Здравствуйте, где мой платеж?"); res.Handled {
		t.Fatalf("free text without a session must be left to the caller")
	}
	if res := h.callback(t, "something_else"); res.Handled {
		t.Fatalf("unknown callbacks must not be handled")
	}
	if len(h.tr.texts()) != 0 {
		t.Fatalf("expected no replies, got %v", h.tr.texts())
	}
}

func TestCancelAtEveryStateClearsEverything(t *testing.T) {
	withdrawTo := func(extra ...func(h *harness)) func(h *harness) {
		return func(h *harness) {
			h.text(t, ButtonWithdraw)
			for _, f := range extra {
				f(h)
			}
		}
	}
	say := func(text string) func(h *harness) { return func(h *harness) { h.text(t, text) } }
	sendPhoto := func(id string) func(h *harness) {
		return func(h *harness) {
			h.tr.files[id] = []byte("image")
			h.photo(t, id)
		}
	}
	restore := func(kind session.Kind, step session.Step) func(h *harness) {
		return func(h *harness) {
			h.sessions.Restore(testUser, kind, step, session.Payload{
				ChatID:    testUser,
				Bookmaker: "1xbet",
				PlayerID:  "12345",
				Amount:    decimal.RequireFromString("500.37"),
			})
			h.pending.Set(context.Background(), testUser, []byte(`{"amount":"500.37","player_id":"12345","bookmaker":"1xbet"}`), h.clock.Now().Add(DefaultDepositTimeout))
		}
	}

	cases := []struct {
		name  string
		setup func(h *harness)
		step  session.Step
	}{
		{"deposit select bookmaker", say(ButtonDeposit), session.StepSelectBookmaker},
		{"deposit player id", func(h *harness) { h.text(t, ButtonDeposit); h.text(t, "1XBET") }, session.StepEnterPlayerID},
		{"deposit amount", func(h *harness) { h.text(t, ButtonDeposit); h.text(t, "1XBET"); h.text(t, "12345") }, session.StepEnterAmount},
		{"deposit await payment", func(h *harness) { h.toPayment(t) }, session.StepAwaitPayment},
		{"deposit await proof", restore(session.KindDeposit, session.StepAwaitProof), session.StepAwaitProof},
		{"withdraw select bookmaker", withdrawTo(), session.StepSelectBookmaker},
		{"withdraw phone", withdrawTo(say("1XBET")), session.StepEnterPhone},
		{"withdraw qr image", withdrawTo(say("1XBET"), say("+996700123456")), session.StepAwaitQRImage},
		{"withdraw player id", withdrawTo(say("1XBET"), say("+996700123456"), sendPhoto("qr")), session.StepEnterPlayerID},
		{"withdraw code", withdrawTo(say("1XBET"), say("+996700123456"), sendPhoto("qr"), say("12345")), session.StepEnterCode},
		{"withdraw check amount", restore(session.KindWithdraw, session.StepCheckAmount), session.StepCheckAmount},
		{"withdraw submit", restore(session.KindWithdraw, session.StepSubmit), session.StepSubmit},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(h)
			if got := h.step(t); got != tc.step {
				t.Fatalf("setup reached %s, want %s", got, tc.step)
			}
			s, _ := h.sessions.Get(testUser)

			if res := h.text(t, ButtonCancel); !res.Handled {
				t.Fatalf("cancel must be handled")
			}

			h.assertCleared(t)
			if h.tr.count(textCancelled) != 1 {
				t.Fatalf("expected one cancellation notice, got %v", h.tr.texts())
			}
			if last := h.tr.last(); last.text != textMenuPrompt {
				t.Fatalf("expected main menu after cancel, got %q", last.text)
			}
			if s.Payload.HasPaymentMessage() && !h.tr.wasDeleted(s.Payload.PaymentMessageID) {
				t.Fatalf("expected payment message removed")
			}
		})
	}
}

func TestCancelCallbackAnswers(t *testing.T) {
	h := newHarness(t)
	h.toPayment(t)

	res := h.callback(t, CallbackCancel)
	if !res.Handled || res.CallbackText != textCancelledCallback {
		t.Fatalf("unexpected callback result %+v", res)
	}
	h.assertCleared(t)
}

func TestCancelWithoutSessionShowsMenu(t *testing.T) {
	h := newHarness(t)

	h.text(t, ButtonCancel)

	if h.tr.count(textCancelled) != 0 || h.tr.last().text != textMenuPrompt {
		t.Fatalf("expected only the menu, got %v", h.tr.texts())
	}
}

func TestRestartingFlowKeepsSingleSessionAndTimer(t *testing.T) {
	h := newHarness(t)
	first := h.toPayment(t)
	second := h.toPayment(t)

	if first.ID == second.ID {
		t.Fatalf("expected a fresh session")
	}
	if h.sessions.Len() != 1 || h.timers.Len() != 1 {
		t.Fatalf("expected one session and one timer, got %d/%d", h.sessions.Len(), h.timers.Len())
	}
	if !h.tr.wasDeleted(first.Payload.PaymentMessageID) {
		t.Fatalf("expected the previous payment message removed")
	}
}

func TestEndSessionClearsAllState(t *testing.T) {
	h := newHarness(t)
	h.toPayment(t)

	if !h.engine.EndSession(context.Background(), testUser, session.StepCancelled) {
		t.Fatalf("expected a session to end")
	}
	h.assertCleared(t)
	if h.engine.EndSession(context.Background(), testUser, session.StepCancelled) {
		t.Fatalf("second end must report no session")
	}
}

func TestUserLocksAreReleased(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.text(t, ButtonSupport)
		}()
	}
	wg.Wait()

	if n := h.engine.locks.len(); n != 0 {
		t.Fatalf("expected no lingering locks, got %d", n)
	}
	if h.tr.count(textSupport) != 20 {
		t.Fatalf("expected every event handled")
	}
}

func TestEngineIgnoresNilInputs(t *testing.T) {
	var e *Engine
	if res := e.Handle(context.Background(), Event{UserID: 1}); res.Handled {
		t.Fatalf("nil engine must not handle events")
	}

	h := newHarness(t)
	if res := h.engine.Handle(nil, Event{UserID: 1, Text: ButtonSupport}); res.Handled {
		t.Fatalf("nil context must not be handled")
	}
}

var (
	_ Transport = (*fakeTransport)(nil)
	_ Backend   = (*fakeBackend)(nil)
)
