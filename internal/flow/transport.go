package flow

import (
	"context"

	"luxon_pay_bot/internal/domain"
)

// Button is an inline keyboard button. Exactly one of URL, WebApp or Data is
// set.
type Button struct {
	Text   string
	URL    string
	WebApp string
	Data   string
}

// Keyboard describes the markup attached to an outgoing message. Reply and
// Inline are mutually exclusive; Remove hides the reply keyboard.
type Keyboard struct {
	Reply  [][]string
	Inline [][]Button
	Remove bool
}

// Transport is the chat surface the engine talks to. Send methods return the
// id of the delivered message.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, kb *Keyboard) (int, error)
	SendPhoto(ctx context.Context, chatID int64, png []byte, caption string, kb *Keyboard) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string, kb *Keyboard) error
	EditCaption(ctx context.Context, chatID int64, messageID int, caption string, kb *Keyboard) error
	Delete(ctx context.Context, chatID int64, messageID int) error
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// Event is one inbound user action already stripped of transport details.
type Event struct {
	UserID    int64
	ChatID    int64
	MessageID int
	Profile   domain.Profile

	Text     string
	Callback string

	// File id of a photo or image document; empty for other messages.
	PhotoFileID string
}

// Result tells the transport how the event was consumed.
type Result struct {
	Handled bool

	// Answer shown for a callback query.
	CallbackText  string
	CallbackAlert bool
}
