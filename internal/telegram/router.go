package telegram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"luxon_pay_bot/internal/backend"
	"luxon_pay_bot/internal/domain"
	"luxon_pay_bot/internal/flow"
	"luxon_pay_bot/internal/guard"
	"luxon_pay_bot/internal/logging"
	"luxon_pay_bot/internal/referral"
)

const (
	textRateLimited   = "⚠️ Слишком много запросов. Попробуйте снова через %d мин.\n\nПожалуйста, подождите перед повторной попыткой."
	textRateLimitedCB = "Слишком много запросов. Попробуйте позже."
	textInvalidInput  = "⚠️ Сообщение содержит недопустимые символы. Пожалуйста, отправьте корректное сообщение."
	textReferralError = "❌ Ошибка при получении данных реферальной программы"
)

// Dialog is the deposit and withdrawal engine.
type Dialog interface {
	Handle(ctx context.Context, ev flow.Event) flow.Result
}

// Messenger sends replies on behalf of the router.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, kb *flow.Keyboard) (int, error)
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// UserRegistrar records the profile of every user that talks to the bot.
type UserRegistrar interface {
	EnsureUser(ctx context.Context, profile domain.Profile) (bool, error)
}

// Referrals links referred users and serves /referral.
type Referrals interface {
	Link(ctx context.Context, referred domain.Profile, startParam string) bool
	Stats(ctx context.Context, userID int64) (backend.ReferralStats, error)
}

// ChatIngester forwards free-form messages to operators.
type ChatIngester interface {
	IngestChat(ctx context.Context, userID int64, msg backend.ChatMessage) error
}

// RouterDeps lists the collaborators of the payment bot router. Limiter,
// Users, Referrals and Chat are optional.
type RouterDeps struct {
	Dialog    Dialog
	Messenger Messenger
	Limiter   *guard.Limiter
	Users     UserRegistrar
	Referrals Referrals
	Chat      ChatIngester
	Logger    *logrus.Entry
}

// Router turns payment bot updates into dialog events.
type Router struct {
	dialog    Dialog
	messenger Messenger
	limiter   *guard.Limiter
	users     UserRegistrar
	referrals Referrals
	chat      ChatIngester
	logger    *logrus.Entry

	// async runs work that must not hold up the update.
	async func(fn func())
}

// NewRouter constructs a Router.
func NewRouter(deps RouterDeps) (*Router, error) {
	if deps.Dialog == nil {
		return nil, errors.New("dialog is required")
	}
	if deps.Messenger == nil {
		return nil, errors.New("messenger is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Logger()
	}

	return &Router{
		dialog:    deps.Dialog,
		messenger: deps.Messenger,
		limiter:   deps.Limiter,
		users:     deps.Users,
		referrals: deps.Referrals,
		chat:      deps.Chat,
		logger:    deps.Logger,
		async:     func(fn func()) { go fn() },
	}, nil
}

// HandleUpdate routes private messages and callback queries.
func (r *Router) HandleUpdate(ctx context.Context, update *models.Update) {
	if r == nil || ctx == nil || update == nil {
		return
	}

	switch {
	case update.Message != nil:
		r.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		r.handleCallback(ctx, update.CallbackQuery)
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *models.Message) {
	if msg.From == nil || msg.From.IsBot || msg.Chat.Type != models.ChatTypePrivate {
		return
	}

	ev := messageEvent(msg)
	if !r.admit(ctx, ev.UserID, func(text string) {
		r.reply(ctx, ev.ChatID, text)
	}) {
		return
	}
	r.register(ctx, ev.Profile)

	command, arg := splitCommand(ev.Text)
	switch command {
	case "/start":
		if arg != "" && r.referrals != nil {
			profile := ev.Profile
			r.async(func() { r.referrals.Link(ctx, profile, arg) })
		}
	case "/referral":
		r.referralStats(ctx, ev)
		return
	}

	if res := r.dialog.Handle(ctx, ev); res.Handled {
		return
	}
	r.ingest(ctx, msg, ev)
}

func (r *Router) handleCallback(ctx context.Context, q *models.CallbackQuery) {
	ev := flow.Event{
		UserID:    q.From.ID,
		ChatID:    messageChatID(q.Message),
		MessageID: messageID(q.Message),
		Profile:   profile(&q.From),
		Callback:  q.Data,
	}

	if !r.admit(ctx, ev.UserID, func(string) {
		r.answer(ctx, q.ID, textRateLimitedCB, true)
	}) {
		return
	}
	r.register(ctx, ev.Profile)

	res := r.dialog.Handle(ctx, ev)
	r.answer(ctx, q.ID, res.CallbackText, res.CallbackAlert)
}

// admit applies the rate limit. notify runs once when a block starts.
func (r *Router) admit(ctx context.Context, userID int64, notify func(text string)) bool {
	if r.limiter == nil {
		return true
	}

	d := r.limiter.Allow(userID)
	if d.Allowed {
		return true
	}

	r.logger.WithFields(logging.Fields{
		"event":       "rate_limited",
		"user_id":     userID,
		"retry_after": d.RetryAfter.String(),
		"block_start": d.Blocked,
	}).Warn("update dropped by rate limit")

	if d.Blocked {
		minutes := int(math.Ceil(d.RetryAfter.Minutes()))
		if minutes < 1 {
			minutes = 1
		}
		notify(fmt.Sprintf(textRateLimited, minutes))
	}
	return false
}

func (r *Router) register(ctx context.Context, p domain.Profile) {
	if r.users == nil {
		return
	}
	if _, err := r.users.EnsureUser(ctx, p); err != nil {
		r.logger.WithFields(logging.Fields{
			"event":   "user_register_failed",
			"user_id": p.UserID,
		}).WithError(err).Warn("failed to register user")
	}
}

func (r *Router) referralStats(ctx context.Context, ev flow.Event) {
	if r.referrals == nil {
		r.reply(ctx, ev.ChatID, textReferralError)
		return
	}

	stats, err := r.referrals.Stats(ctx, ev.UserID)
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"event":   "referral_stats_failed",
			"user_id": ev.UserID,
		}).WithError(err).Warn("failed to load referral stats")
		r.reply(ctx, ev.ChatID, textReferralError)
		return
	}
	r.reply(ctx, ev.ChatID, referral.FormatStats(stats))
}

// ingest relays a message the dialog did not consume to the operators.
func (r *Router) ingest(ctx context.Context, msg *models.Message, ev flow.Event) {
	if r.chat == nil {
		return
	}

	chatMsg, ok := chatMessage(msg)
	if !ok || isSystemText(chatMsg.Text) {
		return
	}

	if chatMsg.Text != "" {
		if err := guard.ValidateInput(chatMsg.Text); err != nil {
			r.logger.WithFields(logging.Fields{
				"event":   "chat_input_rejected",
				"user_id": ev.UserID,
			}).WithError(err).Warn("rejected free text")
			r.reply(ctx, ev.ChatID, textInvalidInput)
			return
		}
	}

	if err := r.chat.IngestChat(ctx, ev.UserID, chatMsg); err != nil {
		r.logger.WithFields(logging.Fields{
			"event":   "chat_ingest_failed",
			"user_id": ev.UserID,
		}).WithError(err).Warn("failed to forward chat message")
	}
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if _, err := r.messenger.SendText(ctx, chatID, text, nil); err != nil {
		r.logger.WithFields(logging.Fields{
			"event":   "telegram_send_failed",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to send reply")
	}
}

func (r *Router) answer(ctx context.Context, callbackID, text string, alert bool) {
	if err := r.messenger.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		r.logger.WithFields(logging.Fields{
			"event":       "telegram_answer_failed",
			"callback_id": callbackID,
		}).WithError(err).Warn("failed to answer callback")
	}
}

func messageEvent(msg *models.Message) flow.Event {
	return flow.Event{
		UserID:      userID(msg.From),
		ChatID:      msg.Chat.ID,
		MessageID:   msg.ID,
		Profile:     profile(msg.From),
		Text:        strings.TrimSpace(msg.Text),
		PhotoFileID: imageFileID(msg),
	}
}

func profile(u *models.User) domain.Profile {
	if u == nil {
		return domain.Profile{}
	}
	return domain.Profile{
		UserID:    u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// imageFileID returns the largest photo size or an image document.
func imageFileID(msg *models.Message) string {
	if n := len(msg.Photo); n > 0 {
		return msg.Photo[n-1].FileID
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		return msg.Document.FileID
	}
	return ""
}

// splitCommand returns "/cmd" and its argument; bot mentions are dropped.
func splitCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	command, arg, _ := strings.Cut(text, " ")
	command, _, _ = strings.Cut(command, "@")
	return strings.ToLower(command), strings.TrimSpace(arg)
}

func chatMessage(msg *models.Message) (backend.ChatMessage, bool) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if strings.HasPrefix(text, "/") {
		return backend.ChatMessage{}, false
	}

	out := backend.ChatMessage{Text: text, Type: "text", MessageID: msg.ID}
	switch {
	case len(msg.Photo) > 0:
		out.Type, out.MediaURL = "photo", msg.Photo[len(msg.Photo)-1].FileID
	case msg.Video != nil:
		out.Type, out.MediaURL = "video", msg.Video.FileID
	case msg.Document != nil:
		out.Type, out.MediaURL = "document", msg.Document.FileID
	case msg.Voice != nil:
		out.Type, out.MediaURL = "voice", msg.Voice.FileID
	case msg.Audio != nil:
		out.Type, out.MediaURL = "audio", msg.Audio.FileID
	case msg.Sticker != nil:
		out.Type, out.MediaURL = "sticker", msg.Sticker.FileID
	}

	if out.Text == "" && out.MediaURL == "" {
		return backend.ChatMessage{}, false
	}
	return out, true
}

func isSystemText(text string) bool {
	switch text {
	case flow.ButtonCancel, flow.ButtonDeposit, flow.ButtonWithdraw,
		flow.ButtonSupport, flow.ButtonHistory, flow.ButtonInstruction:
		return true
	default:
		return false
	}
}
