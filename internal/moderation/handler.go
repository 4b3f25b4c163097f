package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"luxon_pay_bot/internal/feature/group"
	"luxon_pay_bot/internal/flow"
	"luxon_pay_bot/internal/logging"
	"luxon_pay_bot/internal/telegram"
)

const (
	textWarning    = "⚠️ %s, ваше сообщение было удалено из-за нарушения правил группы."
	textNeedsAdmin = "⚠️ Для работы бота-модератора необходимо предоставить ему права администратора с возможностью удаления сообщений."
	textStart      = "👋 Привет! Я бот-модератор для групп.\n\n" +
		"Добавьте меня в группу и предоставьте права администратора с возможностью удаления сообщений.\n\n" +
		"Я буду автоматически удалять сообщения, содержащие запрещенные слова."
	textHelp = "📖 Справка по боту-модератору\n\n" +
		"1. Добавьте бота в группу\n" +
		"2. Предоставьте боту права администратора\n" +
		"3. Включите право на удаление сообщений\n" +
		"4. Бот будет автоматически удалять сообщения с запрещенными словами\n\n" +
		"Владелец управляет списком командами /addword, /removeword и /words."
	textGroupsOnly   = "Я работаю только в группах. Добавьте меня в группу для начала модерации."
	textOwnerOnly    = "⛔ Команда доступна только владельцу бота."
	textWordUsage    = "❌ Укажите слово: %s <слово>"
	textWordAdded    = "✅ Слово '%s' добавлено в список"
	textWordExists   = "⚠️ Слово '%s' уже есть в списке"
	textWordRemoved  = "✅ Слово '%s' удалено из списка"
	textWordMissing  = "⚠️ Слово '%s' не найдено в списке"
	textWordsEmpty   = "📋 Список запрещенных слов пуст"
	textWordsFailure = "❌ Ошибка при сохранении изменений"
)

// DefaultWarningDelay is how long a warning stays in the group.
const DefaultWarningDelay = 10 * time.Second

// Messenger is the chat surface used by the moderator.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, kb *flow.Keyboard) (int, error)
	Delete(ctx context.Context, chatID int64, messageID int) error
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// Words is the persistent word list.
type Words interface {
	List(ctx context.Context) ([]string, error)
	Add(ctx context.Context, word string, addedBy int64) error
	Remove(ctx context.Context, word string) error
}

// Groups records the chats the bot belongs to.
type Groups interface {
	Track(ctx context.Context, m group.Membership) (bool, error)
	Leave(ctx context.Context, chatID int64) error
}

// Config holds the moderator settings.
type Config struct {
	OwnerID      int64
	WarningDelay time.Duration
	// SkipAdmins leaves messages of chat administrators alone.
	SkipAdmins bool
}

// Handler moderates group messages and serves owner commands in private
// chat.
type Handler struct {
	messenger Messenger
	words     Words
	groups    Groups
	cfg       Config
	logger    *logrus.Entry

	mu      sync.RWMutex
	matcher *Matcher

	after func(d time.Duration, fn func())
}

// NewHandler constructs a Handler. Groups may be nil.
func NewHandler(messenger Messenger, words Words, groups Groups, cfg Config, logger *logrus.Entry) (*Handler, error) {
	if messenger == nil {
		return nil, errors.New("messenger is required")
	}
	if words == nil {
		return nil, errors.New("word store is required")
	}
	if cfg.WarningDelay < 0 {
		cfg.WarningDelay = 0
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Handler{
		messenger: messenger,
		words:     words,
		groups:    groups,
		cfg:       cfg,
		logger:    logger,
		matcher:   NewMatcher(nil),
		after: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}, nil
}

// Reload rebuilds the matcher from the word store.
func (h *Handler) Reload(ctx context.Context) error {
	words, err := h.words.List(ctx)
	if err != nil {
		return fmt.Errorf("reload words: %w", err)
	}

	m := NewMatcher(words)
	h.mu.Lock()
	h.matcher = m
	h.mu.Unlock()

	h.logger.WithFields(logging.Fields{
		"event": "moderation_words_loaded",
		"count": m.Len(),
	}).Info("forbidden words loaded")
	return nil
}

// HandleUpdate implements telegram.UpdateHandler.
func (h *Handler) HandleUpdate(ctx context.Context, update *models.Update) {
	if h == nil || ctx == nil || update == nil {
		return
	}

	switch {
	case update.MyChatMember != nil:
		h.membershipChanged(ctx, update.MyChatMember)
	case update.Message != nil:
		h.handleMessage(ctx, update.Message)
	case update.EditedMessage != nil:
		if isGroup(update.EditedMessage.Chat) {
			h.moderate(ctx, update.EditedMessage)
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *models.Message) {
	switch {
	case isGroup(msg.Chat):
		h.moderate(ctx, msg)
	case msg.Chat.Type == models.ChatTypePrivate:
		h.private(ctx, msg)
	}
}

func (h *Handler) moderate(ctx context.Context, msg *models.Message) {
	if msg.From == nil {
		return
	}
	log := h.logger.WithFields(logging.Fields{
		"chat_id":    msg.Chat.ID,
		"user_id":    msg.From.ID,
		"message_id": msg.ID,
	})

	if h.cfg.SkipAdmins {
		admin, err := h.messenger.IsChatAdmin(ctx, msg.Chat.ID, msg.From.ID)
		if err != nil {
			log.WithField("event", "moderation_member_check_failed").WithError(err).Warn("failed to check member status")
		} else if admin {
			return
		}
	}

	text, entities := msg.Text, msg.Entities
	if text == "" {
		text, entities = msg.Caption, msg.CaptionEntities
	}

	var mentions []string
	for _, e := range entities {
		if e.Type == models.MessageEntityTypeMention {
			mentions = append(mentions, EntityText(text, e.Offset, e.Length))
		}
	}

	h.mu.RLock()
	matcher := h.matcher
	h.mu.RUnlock()

	word, ok := matcher.Match(text, mentions)
	if !ok {
		return
	}

	if err := h.messenger.Delete(ctx, msg.Chat.ID, msg.ID); err != nil {
		log.WithField("event", "moderation_delete_failed").WithError(err).Warn("failed to delete message")
	} else {
		log.WithFields(logging.Fields{
			"event": "moderation_deleted",
			"word":  word,
		}).Info("deleted message with forbidden word")
	}

	h.warn(ctx, msg)
}

func (h *Handler) warn(ctx context.Context, msg *models.Message) {
	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "Пользователь"
	}

	id, err := h.messenger.SendText(ctx, msg.Chat.ID, fmt.Sprintf(textWarning, name), nil)
	if err != nil {
		h.logger.WithFields(logging.Fields{
			"event":   "moderation_warning_failed",
			"chat_id": msg.Chat.ID,
		}).WithError(err).Warn("failed to send warning")
		return
	}
	if h.cfg.WarningDelay == 0 {
		return
	}

	chatID := msg.Chat.ID
	bg := context.WithoutCancel(ctx)
	h.after(h.cfg.WarningDelay, func() {
		if err := h.messenger.Delete(bg, chatID, id); err != nil {
			h.logger.WithFields(logging.Fields{
				"event":   "moderation_warning_cleanup_failed",
				"chat_id": chatID,
			}).WithError(err).Debug("failed to delete warning")
		}
	})
}

func (h *Handler) membershipChanged(ctx context.Context, u *models.ChatMemberUpdated) {
	if !isGroup(u.Chat) {
		return
	}

	switch u.NewChatMember.Type {
	case models.ChatMemberTypeLeft, models.ChatMemberTypeBanned:
		if h.groups != nil {
			if err := h.groups.Leave(ctx, u.Chat.ID); err != nil {
				h.logger.WithField("event", "group_leave_failed").WithError(err).Warn("failed to record group leave")
			}
		}
		return
	}

	admin := telegram.IsAdminMember(u.NewChatMember)
	wasMember := u.OldChatMember.Type != models.ChatMemberTypeLeft && u.OldChatMember.Type != models.ChatMemberTypeBanned

	if h.groups != nil {
		if _, err := h.groups.Track(ctx, group.Membership{ChatID: u.Chat.ID, Title: u.Chat.Title, BotIsAdmin: admin}); err != nil {
			h.logger.WithField("event", "group_track_failed").WithError(err).Warn("failed to record group")
		}
	}

	if !admin && !wasMember {
		h.logger.WithFields(logging.Fields{
			"event":   "moderation_missing_rights",
			"chat_id": u.Chat.ID,
			"title":   u.Chat.Title,
		}).Warn("bot added without admin rights")
		h.reply(ctx, u.Chat.ID, textNeedsAdmin)
	}
}

func (h *Handler) private(ctx context.Context, msg *models.Message) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		h.reply(ctx, msg.Chat.ID, textGroupsOnly)
		return
	}

	command, arg, _ := strings.Cut(text, " ")
	command, _, _ = strings.Cut(command, "@")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(command) {
	case "/start":
		h.reply(ctx, msg.Chat.ID, textStart)
	case "/help":
		h.reply(ctx, msg.Chat.ID, textHelp)
	case "/addword", "/removeword", "/words":
		if msg.From == nil || h.cfg.OwnerID == 0 || msg.From.ID != h.cfg.OwnerID {
			h.reply(ctx, msg.Chat.ID, textOwnerOnly)
			return
		}
		h.reply(ctx, msg.Chat.ID, h.ownerCommand(ctx, strings.ToLower(command), arg, msg.From.ID))
	}
}

func (h *Handler) ownerCommand(ctx context.Context, command, arg string, ownerID int64) string {
	if command == "/words" {
		words, err := h.words.List(ctx)
		if err != nil {
			h.logger.WithField("event", "moderation_words_list_failed").WithError(err).Error("failed to list words")
			return textWordsFailure
		}
		return formatWords(words)
	}

	if arg == "" {
		return fmt.Sprintf(textWordUsage, command)
	}

	var err error
	if command == "/addword" {
		err = h.words.Add(ctx, arg, ownerID)
	} else {
		err = h.words.Remove(ctx, arg)
	}

	switch {
	case errors.Is(err, ErrWordExists):
		return fmt.Sprintf(textWordExists, arg)
	case errors.Is(err, ErrWordNotFound):
		return fmt.Sprintf(textWordMissing, arg)
	case err != nil:
		h.logger.WithFields(logging.Fields{
			"event":   "moderation_words_update_failed",
			"command": command,
		}).WithError(err).Error("failed to update words")
		return textWordsFailure
	}

	if err := h.Reload(ctx); err != nil {
		h.logger.WithField("event", "moderation_reload_failed").WithError(err).Error("failed to reload words")
	}
	if command == "/addword" {
		return fmt.Sprintf(textWordAdded, arg)
	}
	return fmt.Sprintf(textWordRemoved, arg)
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	if _, err := h.messenger.SendText(ctx, chatID, text, nil); err != nil {
		h.logger.WithFields(logging.Fields{
			"event":   "telegram_send_failed",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to send reply")
	}
}

func formatWords(words []string) string {
	if len(words) == 0 {
		return textWordsEmpty
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 Запрещенные слова (%d):\n", len(words))
	for i, w := range words {
		fmt.Fprintf(&b, "\n%d. %s", i+1, w)
	}
	return b.String()
}

func isGroup(chat models.Chat) bool {
	return chat.Type == models.ChatTypeGroup || chat.Type == models.ChatTypeSupergroup
}
