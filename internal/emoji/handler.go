package emoji

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"luxon_pay_bot/internal/flow"
	"luxon_pay_bot/internal/logging"
	"luxon_pay_bot/internal/moderation"
)

// Callback data of the inline buttons.
const (
	CallbackConfig = "get_config"
	CallbackClear  = "clear_all"
	CallbackList   = "list_emojis"
)

const (
	textStart = "👋 Бот для сбора премиум эмодзи\n\n" +
		"📝 Как использовать:\n" +
		"1. Отправьте мне сообщение с премиум эмодзи\n" +
		"2. Бот автоматически сохранит их\n" +
		"3. Нажмите кнопку «Конфиг» для получения конфига\n\n" +
		"💡 Сохранено эмодзи: %d"
	textCleared      = "✅ Все эмодзи удалены!"
	textClearedEdit  = "✅ Все эмодзи удалены!\n\nИспользуйте /start для начала работы."
	textNoEmojis     = "❌ Нет сохраненных эмодзи. Отправьте премиум эмодзи боту."
	textEmptyList    = "❌ Нет сохраненных эмодзи."
	textNotFound     = "ℹ️ Премиум эмодзи не найдены в сообщении.\n\nОтправьте сообщение с премиум эмодзи, и я сохраню их автоматически."
	textStoreFailure = "❌ Не удалось обратиться к хранилищу. Попробуйте позже."
	textConfigTooBig = "⚠️ Конфиг слишком большой, отправлен только файл"

	// Telegram rejects messages over 4096 characters.
	maxMessageLen = 4096
	listCutoff    = 3500
)

// Messenger is the chat surface of the collector.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, kb *flow.Keyboard) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string, kb *flow.Keyboard) error
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// Storage is the emoji persistence used by the handler.
type Storage interface {
	Save(ctx context.Context, entries []Entry) ([]Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Count(ctx context.Context) (int64, error)
	Clear(ctx context.Context) (int64, error)
}

// Handler serves the collector bot updates.
type Handler struct {
	messenger Messenger
	store     Storage
	logger    *logrus.Entry
}

// NewHandler constructs a Handler.
func NewHandler(messenger Messenger, store Storage, logger *logrus.Entry) (*Handler, error) {
	if messenger == nil {
		return nil, errors.New("messenger is required")
	}
	if store == nil {
		return nil, errors.New("emoji store is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}
	return &Handler{messenger: messenger, store: store, logger: logger}, nil
}

// HandleUpdate implements telegram.UpdateHandler.
func (h *Handler) HandleUpdate(ctx context.Context, update *models.Update) {
	if h == nil || ctx == nil || update == nil {
		return
	}

	switch {
	case update.Message != nil:
		h.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *models.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, "/") {
		command, _, _ := strings.Cut(text, " ")
		command, _, _ = strings.Cut(command, "@")
		switch strings.ToLower(command) {
		case "/start":
			h.start(ctx, chatID)
		case "/list":
			h.list(ctx, chatID)
		case "/clear":
			if h.clear(ctx, chatID) {
				h.reply(ctx, chatID, textCleared, nil)
			}
		case "/config":
			h.config(ctx, chatID)
		}
		return
	}

	found := Collect(msg)
	if len(found) == 0 {
		h.reply(ctx, chatID, textNotFound, nil)
		return
	}

	changed, err := h.store.Save(ctx, found)
	if err != nil {
		h.storeFailed(ctx, chatID, "emoji_save_failed", err)
		return
	}
	if len(changed) == 0 {
		h.reply(ctx, chatID, textNotFound, nil)
		return
	}

	total, err := h.store.Count(ctx)
	if err != nil {
		h.storeFailed(ctx, chatID, "emoji_count_failed", err)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ Сохранено %d эмодзи:\n\n", len(changed))
	for _, e := range changed {
		fmt.Fprintf(&b, "%s → %s\n", e.Emoji, e.ID)
	}
	fmt.Fprintf(&b, "\n📊 Всего сохранено: %d", total)

	h.reply(ctx, chatID, b.String(), &flow.Keyboard{Inline: [][]flow.Button{
		{{Text: "📋 Получить конфиг", Data: CallbackConfig}},
	}})
}

func (h *Handler) handleCallback(ctx context.Context, q *models.CallbackQuery) {
	var chatID int64
	var messageID int
	if q.Message.Message != nil {
		chatID, messageID = q.Message.Message.Chat.ID, q.Message.Message.ID
	}
	if chatID == 0 {
		chatID = q.From.ID
	}

	answer := ""
	switch q.Data {
	case CallbackConfig:
		h.config(ctx, chatID)
	case CallbackList:
		h.list(ctx, chatID)
	case CallbackClear:
		if h.clear(ctx, chatID) {
			answer = textCleared
			if messageID != 0 {
				if err := h.messenger.EditText(ctx, chatID, messageID, textClearedEdit, nil); err != nil {
					h.logger.WithField("event", "telegram_edit_failed").WithError(err).Warn("failed to edit message")
				}
			}
		}
	}

	if err := h.messenger.AnswerCallback(ctx, q.ID, answer, false); err != nil {
		h.logger.WithField("event", "telegram_answer_failed").WithError(err).Warn("failed to answer callback")
	}
}

func (h *Handler) start(ctx context.Context, chatID int64) {
	n, err := h.store.Count(ctx)
	if err != nil {
		h.storeFailed(ctx, chatID, "emoji_count_failed", err)
		return
	}

	h.reply(ctx, chatID, fmt.Sprintf(textStart, n), &flow.Keyboard{Inline: [][]flow.Button{
		{{Text: "📋 Конфиг", Data: CallbackConfig}},
		{{Text: "🗑️ Очистить все", Data: CallbackClear}},
		{{Text: "📊 Список эмодзи", Data: CallbackList}},
	}})
}

func (h *Handler) list(ctx context.Context, chatID int64) {
	entries, err := h.store.List(ctx)
	if err != nil {
		h.storeFailed(ctx, chatID, "emoji_list_failed", err)
		return
	}
	h.reply(ctx, chatID, FormatList(entries), nil)
}

func (h *Handler) clear(ctx context.Context, chatID int64) bool {
	if _, err := h.store.Clear(ctx); err != nil {
		h.storeFailed(ctx, chatID, "emoji_clear_failed", err)
		return false
	}
	return true
}

func (h *Handler) config(ctx context.Context, chatID int64) {
	entries, err := h.store.List(ctx)
	if err != nil {
		h.storeFailed(ctx, chatID, "emoji_list_failed", err)
		return
	}
	if len(entries) == 0 {
		h.reply(ctx, chatID, textNoEmojis, nil)
		return
	}

	doc, err := Export(entries)
	if err != nil {
		h.storeFailed(ctx, chatID, "emoji_export_failed", err)
		return
	}

	caption := fmt.Sprintf("📋 Конфиг файл\n\nСохранено эмодзи: %d", len(entries))
	if err := h.messenger.SendDocument(ctx, chatID, ConfigFilename, doc, caption); err != nil {
		h.logger.WithFields(logging.Fields{
			"event":   "telegram_send_failed",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to send config document")
		return
	}

	h.logger.WithFields(logging.Fields{
		"event":   "emoji_config_exported",
		"chat_id": chatID,
		"count":   len(entries),
	}).Info("exported emoji config")

	if len(doc) < maxMessageLen {
		h.reply(ctx, chatID, string(doc), nil)
	} else {
		h.reply(ctx, chatID, textConfigTooBig, nil)
	}
}

func (h *Handler) storeFailed(ctx context.Context, chatID int64, event string, err error) {
	h.logger.WithFields(logging.Fields{
		"event":   event,
		"chat_id": chatID,
	}).WithError(err).Error("emoji store operation failed")
	h.reply(ctx, chatID, textStoreFailure, nil)
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string, kb *flow.Keyboard) {
	if _, err := h.messenger.SendText(ctx, chatID, text, kb); err != nil {
		h.logger.WithFields(logging.Fields{
			"event":   "telegram_send_failed",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to send reply")
	}
}

// Collect extracts custom emoji entities from a message text.
func Collect(msg *models.Message) []Entry {
	if msg == nil {
		return nil
	}

	var out []Entry
	seen := make(map[string]bool)
	for _, e := range msg.Entities {
		if e.Type != models.MessageEntityTypeCustomEmoji || e.CustomEmojiID == "" || seen[e.CustomEmojiID] {
			continue
		}
		seen[e.CustomEmojiID] = true

		char := moderation.EntityText(msg.Text, e.Offset, e.Length)
		if char == "" {
			char = "?"
		}
		out = append(out, Entry{Emoji: char, ID: e.CustomEmojiID})
	}
	return out
}

// FormatList renders the numbered list, truncated below the message limit.
func FormatList(entries []Entry) string {
	if len(entries) == 0 {
		return textEmptyList
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Сохранено эмодзи: %d\n\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s → %s\n", i+1, e.Emoji, e.ID)
		if b.Len() > listCutoff && i+1 < len(entries) {
			fmt.Fprintf(&b, "\n... и еще %d эмодзи", len(entries)-i-1)
			break
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
