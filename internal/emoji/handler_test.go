package emoji

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"luxon_pay_bot/internal/flow"
)

const testChat = int64(777)

type sentText struct {
	text string
	kb   *flow.Keyboard
}

type sentDoc struct {
	filename string
	data     []byte
	caption  string
}

type fakeMessenger struct {
	sent     []sentText
	edited   []string
	docs     []sentDoc
	answered []string
}

func (f *fakeMessenger) SendText(_ context.Context, _ int64, text string, kb *flow.Keyboard) (int, error) {
	f.sent = append(f.sent, sentText{text, kb})
	return len(f.sent), nil
}

func (f *fakeMessenger) EditText(_ context.Context, _ int64, _ int, text string, _ *flow.Keyboard) error {
	f.edited = append(f.edited, text)
	return nil
}

func (f *fakeMessenger) SendDocument(_ context.Context, _ int64, filename string, data []byte, caption string) error {
	f.docs = append(f.docs, sentDoc{filename, data, caption})
	return nil
}

func (f *fakeMessenger) AnswerCallback(_ context.Context, id, _ string, _ bool) error {
	f.answered = append(f.answered, id)
	return nil
}

type fakeStorage struct {
	entries []Entry
	err     error
}

func (f *fakeStorage) Save(_ context.Context, entries []Entry) ([]Entry, error) {
	if f.err != nil {
		return nil, f.err
	}
	var changed []Entry
	for _, e := range entries {
		found := false
		for _, have := range f.entries {
			if have.ID == e.ID {
				found = true
			}
		}
		if !found {
			f.entries = append(f.entries, e)
			changed = append(changed, e)
		}
	}
	return changed, nil
}

func (f *fakeStorage) List(context.Context) ([]Entry, error) {
	return f.entries, f.err
}

func (f *fakeStorage) Count(context.Context) (int64, error) {
	return int64(len(f.entries)), f.err
}

func (f *fakeStorage) Clear(context.Context) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	n := int64(len(f.entries))
	f.entries = nil
	return n, nil
}

func newTestHandler(t *testing.T, store *fakeStorage) (*Handler, *fakeMessenger) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	chat := &fakeMessenger{}
	h, err := NewHandler(chat, store, logrus.NewEntry(logger))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h, chat
}

func textUpdate(text string, entities ...models.MessageEntity) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:       1,
		From:     &models.User{ID: testChat},
		Chat:     models.Chat{ID: testChat, Type: models.ChatTypePrivate},
		Text:     text,
		Entities: entities,
	}}
}

func customEmoji(offset, length int, id string) models.MessageEntity {
	return models.MessageEntity{Type: models.MessageEntityTypeCustomEmoji, Offset: offset, Length: length, CustomEmojiID: id}
}

func TestCollectCustomEmojis(t *testing.T) {
	msg := textUpdate("a🔥b💎🔥",
		customEmoji(1, 2, "11"),
		models.MessageEntity{Type: models.MessageEntityTypeBold, Offset: 0, Length: 1},
		customEmoji(4, 2, "22"),
		customEmoji(6, 2, "11"),
	).Message

	got := Collect(msg)
	if len(got) != 2 || got[0] != (Entry{Emoji: "🔥", ID: "11"}) || got[1] != (Entry{Emoji: "💎", ID: "22"}) {
		t.Fatalf("unexpected entries %+v", got)
	}
	if Collect(nil) != nil {
		t.Fatalf("nil message yields nothing")
	}
}

func TestHandlerSavesCollectedEmojis(t *testing.T) {
	store := &fakeStorage{}
	h, chat := newTestHandler(t, store)

	h.HandleUpdate(context.Background(), textUpdate("🔥", customEmoji(0, 2, "5368324170671202286")))

	if len(store.entries) != 1 {
		t.Fatalf("expected entry saved, got %+v", store.entries)
	}
	reply := chat.sent[0]
	if !strings.HasPrefix(reply.text, "✅ Сохранено 1 эмодзи:") || !strings.Contains(reply.text, "🔥 → 5368324170671202286") {
		t.Fatalf("unexpected reply %q", reply.text)
	}
	if reply.kb == nil || reply.kb.Inline[0][0].Data != CallbackConfig {
		t.Fatalf("expected config button, got %+v", reply.kb)
	}

	h.HandleUpdate(context.Background(), textUpdate("🔥", customEmoji(0, 2, "5368324170671202286")))
	h.HandleUpdate(context.Background(), textUpdate("просто текст"))
	if chat.sent[1].text != textNotFound || chat.sent[2].text != textNotFound {
		t.Fatalf("expected not found hints, got %+v", chat.sent[1:])
	}
}

func TestHandlerCommands(t *testing.T) {
	store := &fakeStorage{}
	h, chat := newTestHandler(t, store)
	ctx := context.Background()

	h.HandleUpdate(ctx, textUpdate("/config"))
	h.HandleUpdate(ctx, textUpdate("/list"))
	if chat.sent[0].text != textNoEmojis || chat.sent[1].text != textEmptyList {
		t.Fatalf("unexpected empty replies %+v", chat.sent)
	}

	store.entries = []Entry{{Emoji: "🔥", ID: "11"}}
	h.HandleUpdate(ctx, textUpdate("/start"))
	if !strings.Contains(chat.sent[2].text, "💡 Сохранено эмодзи: 1") || len(chat.sent[2].kb.Inline) != 3 {
		t.Fatalf("unexpected start reply %+v", chat.sent[2])
	}

	h.HandleUpdate(ctx, textUpdate("/config@emoji_bot"))
	if len(chat.docs) != 1 || chat.docs[0].filename != ConfigFilename || chat.docs[0].caption != "📋 Конфиг файл\n\nСохранено эмодзи: 1" {
		t.Fatalf("unexpected document %+v", chat.docs)
	}
	if last := chat.sent[len(chat.sent)-1].text; last != string(chat.docs[0].data) {
		t.Fatalf("expected config echoed as text, got %q", last)
	}

	h.HandleUpdate(ctx, textUpdate("/clear"))
	if len(store.entries) != 0 || chat.sent[len(chat.sent)-1].text != textCleared {
		t.Fatalf("expected store cleared")
	}
}

func TestHandlerCallbacks(t *testing.T) {
	store := &fakeStorage{entries: []Entry{{Emoji: "🔥", ID: "11"}}}
	h, chat := newTestHandler(t, store)
	ctx := context.Background()

	callback := func(id, data string) *models.Update {
		return &models.Update{CallbackQuery: &models.CallbackQuery{
			ID:   id,
			From: models.User{ID: testChat},
			Data: data,
			Message: models.MaybeInaccessibleMessage{
				Type:    models.MaybeInaccessibleMessageTypeMessage,
				Message: &models.Message{ID: 50, Chat: models.Chat{ID: testChat}},
			},
		}}
	}

	h.HandleUpdate(ctx, callback("q1", CallbackList))
	h.HandleUpdate(ctx, callback("q2", CallbackConfig))
	h.HandleUpdate(ctx, callback("q3", CallbackClear))

	if strings.Join(chat.answered, ",") != "q1,q2,q3" {
		t.Fatalf("every callback must be answered, got %v", chat.answered)
	}
	if !strings.HasPrefix(chat.sent[0].text, "📊 Сохранено эмодзи: 1") || len(chat.docs) != 1 {
		t.Fatalf("unexpected list/config output %+v %+v", chat.sent, chat.docs)
	}
	if len(chat.edited) != 1 || chat.edited[0] != textClearedEdit || len(store.entries) != 0 {
		t.Fatalf("expected clear to edit the message, got %v", chat.edited)
	}
}

func TestHandlerStoreFailure(t *testing.T) {
	store := &fakeStorage{err: errors.New("mongo down")}
	h, chat := newTestHandler(t, store)

	h.HandleUpdate(context.Background(), textUpdate("🔥", customEmoji(0, 2, "11")))

	if len(chat.sent) != 1 || chat.sent[0].text != textStoreFailure {
		t.Fatalf("unexpected reply %+v", chat.sent)
	}
}

func TestFormatListTruncates(t *testing.T) {
	entries := make([]Entry, 200)
	for i := range entries {
		entries[i] = Entry{Emoji: "🔥", ID: "5368324170671202286"}
	}

	out := FormatList(entries)
	if len([]rune(out)) > maxMessageLen {
		t.Fatalf("list exceeds message limit: %d", len([]rune(out)))
	}
	if !strings.Contains(out, "... и еще ") {
		t.Fatalf("expected truncation marker")
	}
}

func TestNewHandlerRequiresDeps(t *testing.T) {
	if _, err := NewHandler(nil, &fakeStorage{}, nil); err == nil {
		t.Fatalf("expected messenger error")
	}
	if _, err := NewHandler(&fakeMessenger{}, nil, nil); err == nil {
		t.Fatalf("expected store error")
	}
}
