package telegram

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"luxon_pay_bot/internal/config"
)

type fakeBot struct {
	mu          sync.Mutex
	startedWith context.Context

	messages []*bot.SendMessageParams
	photos   []*bot.SendPhotoParams
	docs     []*bot.SendDocumentParams
	edits    []*bot.EditMessageTextParams
	captions []*bot.EditMessageCaptionParams
	deleted  []*bot.DeleteMessageParams
	answers  []*bot.AnswerCallbackQueryParams

	nextID     int
	sendErr    error
	fileLink   string
	fileErr    error
	memberType models.ChatMemberType
}

func (f *fakeBot) Start(ctx context.Context) {
	f.startedWith = ctx
}

func (f *fakeBot) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.messages = append(f.messages, p)
	f.nextID++
	return &models.Message{ID: f.nextID}, nil
}

func (f *fakeBot) SendPhoto(_ context.Context, p *bot.SendPhotoParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, p)
	f.nextID++
	return &models.Message{ID: f.nextID}, nil
}

func (f *fakeBot) SendDocument(_ context.Context, p *bot.SendDocumentParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, p)
	f.nextID++
	return &models.Message{ID: f.nextID}, nil
}

func (f *fakeBot) EditMessageText(_ context.Context, p *bot.EditMessageTextParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, p)
	return &models.Message{ID: p.MessageID}, nil
}

func (f *fakeBot) EditMessageCaption(_ context.Context, p *bot.EditMessageCaptionParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captions = append(f.captions, p)
	return &models.Message{ID: p.MessageID}, nil
}

func (f *fakeBot) DeleteMessage(_ context.Context, p *bot.DeleteMessageParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, p)
	return true, nil
}

func (f *fakeBot) GetFile(_ context.Context, p *bot.GetFileParams) (*models.File, error) {
	if f.fileErr != nil {
		return nil, f.fileErr
	}
	return &models.File{FileID: p.FileID, FilePath: "photos/" + p.FileID + ".jpg"}, nil
}

func (f *fakeBot) FileDownloadLink(file *models.File) string {
	return f.fileLink + "/" + file.FilePath
}

func (f *fakeBot) AnswerCallbackQuery(_ context.Context, p *bot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, p)
	return true, nil
}

func (f *fakeBot) GetChatMember(_ context.Context, p *bot.GetChatMemberParams) (*models.ChatMember, error) {
	return &models.ChatMember{Type: f.memberType}, nil
}

func TestNewClientCreatesBot(t *testing.T) {
	origCreateBot := createBot
	defer func() { createBot = origCreateBot }()

	var gotToken string
	var gotOptions []bot.Option
	b := &fakeBot{}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		gotToken = token
		gotOptions = options
		return b, nil
	}

	cfg := config.Config{TelegramToken: "token-123"}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client, err := NewClient(cfg, logrus.NewEntry(logger))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if client == nil || client.bot == nil || client.http == nil {
		t.Fatalf("expected client, bot and http client to be initialized")
	}

	if gotToken != cfg.TelegramToken {
		t.Fatalf("expected token %q, got %q", cfg.TelegramToken, gotToken)
	}

	if len(gotOptions) != 3 {
		t.Fatalf("expected 3 bot options (allowed updates, default handler, error handler), got %d", len(gotOptions))
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(config.Config{TelegramToken: "  "}, nil); err == nil {
		t.Fatalf("expected token error")
	}
}

func TestNewClientPropagatesBotError(t *testing.T) {
	origCreateBot := createBot
	defer func() { createBot = origCreateBot }()

	expected := errors.New("boom")
	createBot = func(string, ...bot.Option) (botAPI, error) {
		return nil, expected
	}

	_, err := NewClient(config.Config{TelegramToken: "token"}, nil)
	if !errors.Is(err, expected) {
		t.Fatalf("expected error %v, got %v", expected, err)
	}
}

func TestClientStartLogsAndUsesContext(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	fb := &fakeBot{}
	client := &Client{
		bot:    fb,
		logger: logrus.NewEntry(hookLogger),
	}

	ctx := context.Background()
	client.Start(ctx)

	if fb.startedWith != ctx {
		t.Fatalf("expected bot to start with provided context")
	}

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries (start/stop), got %d", len(entries))
	}

	if entries[0].Data["event"] != "telegram_listen" {
		t.Fatalf("expected start log event, got %v", entries[0].Data["event"])
	}
	if entries[1].Data["event"] != "telegram_stopped" {
		t.Fatalf("expected stop log event, got %v", entries[1].Data["event"])
	}
}

func TestExtractUpdateMeta(t *testing.T) {
	tests := []struct {
		name   string
		update *models.Update
		want   updateMeta
	}{
		{
			name: "message",
			update: &models.Update{
				Message: &models.Message{
					From: &models.User{ID: 10},
					Chat: models.Chat{ID: 20},
					Text: " 💰 Пополнить ",
				},
			},
			want: updateMeta{userID: 10, chatID: 20, text: "💰 Пополнить", updateType: "message"},
		},
		{
			name: "edited message",
			update: &models.Update{
				EditedMessage: &models.Message{
					From: &models.User{ID: 11},
					Chat: models.Chat{ID: 21},
					Text: "updated",
				},
			},
			want: updateMeta{userID: 11, chatID: 21, text: "updated", updateType: "edited_message"},
		},
		{
			name: "callback query",
			update: &models.Update{
				CallbackQuery: &models.CallbackQuery{
					From: models.User{ID: 12},
					Data: "cancel_request",
					Message: models.MaybeInaccessibleMessage{
						Type: models.MaybeInaccessibleMessageTypeMessage,
						Message: &models.Message{
							Chat: models.Chat{ID: 22},
						},
					},
				},
			},
			want: updateMeta{userID: 12, chatID: 22, text: "cancel_request", updateType: "callback_query"},
		},
		{
			name: "callback on inaccessible message",
			update: &models.Update{
				CallbackQuery: &models.CallbackQuery{
					From: models.User{ID: 15},
					Message: models.MaybeInaccessibleMessage{
						Type:                models.MaybeInaccessibleMessageTypeInaccessibleMessage,
						InaccessibleMessage: &models.InaccessibleMessage{Chat: models.Chat{ID: 25}},
					},
				},
			},
			want: updateMeta{userID: 15, chatID: 25, updateType: "callback_query"},
		},
		{
			name: "my chat member",
			update: &models.Update{
				MyChatMember: &models.ChatMemberUpdated{
					From: models.User{ID: 13},
					Chat: models.Chat{ID: 23},
				},
			},
			want: updateMeta{userID: 13, chatID: 23, updateType: "my_chat_member"},
		},
		{
			name:   "unknown",
			update: &models.Update{},
			want:   updateMeta{updateType: "unknown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractUpdateMeta(tt.update)
			if got != tt.want {
				t.Fatalf("extractUpdateMeta() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDispatchLogsAndForwardsUpdate(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	client := &Client{bot: &fakeBot{}, logger: logrus.NewEntry(hookLogger)}

	var got *models.Update
	client.SetHandler(UpdateHandlerFunc(func(_ context.Context, u *models.Update) { got = u }))

	update := &models.Update{
		Message: &models.Message{
			From: &models.User{ID: 99},
			Chat: models.Chat{ID: 199},
			Text: "ping",
		},
	}

	client.dispatch(context.Background(), nil, update)

	if got != update {
		t.Fatalf("expected handler to receive the update")
	}

	entry := hook.AllEntries()[0]
	if entry.Data["event"] != "telegram_update" {
		t.Fatalf("expected event=telegram_update, got %v", entry.Data["event"])
	}
	if entry.Data["user_id"] != int64(99) || entry.Data["chat_id"] != int64(199) {
		t.Fatalf("expected user_id=99 and chat_id=199, got user_id=%v chat_id=%v", entry.Data["user_id"], entry.Data["chat_id"])
	}
	if entry.Data["text"] != "ping" {
		t.Fatalf("expected text=ping, got %v", entry.Data["text"])
	}
	if entry.Data["update_type"] != "message" {
		t.Fatalf("expected update_type=message, got %v", entry.Data["update_type"])
	}
}

func TestDispatchWithoutHandler(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	client := &Client{bot: &fakeBot{}, logger: logrus.NewEntry(hookLogger)}

	client.dispatch(context.Background(), nil, nil)
	if len(hook.AllEntries()) != 0 {
		t.Fatalf("nil update must be ignored")
	}

	client.dispatch(context.Background(), nil, &models.Update{})
	if len(hook.AllEntries()) != 1 {
		t.Fatalf("expected only the receive log, got %d entries", len(hook.AllEntries()))
	}
}

func TestErrorHandlerLogs(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	handler := errorHandler(logrus.NewEntry(hookLogger))

	handler(nil)
	handler(errors.New("conflict: terminated by other getUpdates request"))

	if len(hook.AllEntries()) != 1 || hook.LastEntry().Data["event"] != "telegram_error" {
		t.Fatalf("expected one telegram_error entry, got %v", hook.AllEntries())
	}
}
