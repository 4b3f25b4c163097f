package domain

import "time"

// Group represents a chat moderated by the moderator bot.
type Group struct {
	ChatID     int64     `bson:"chat_id" json:"chat_id"`
	Title      string    `bson:"title" json:"title"`
	BotIsAdmin bool      `bson:"bot_is_admin" json:"bot_is_admin"`
	Active     bool      `bson:"active" json:"active"`
	JoinedAt   time.Time `bson:"joined_at" json:"joined_at"`
	LastSeenAt time.Time `bson:"last_seen_at" json:"last_seen_at"`
}
