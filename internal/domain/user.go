package domain

import "time"

// User represents a Telegram user who talked to the payment bot.
type User struct {
	UserID     int64     `bson:"user_id" json:"user_id"`
	Username   string    `bson:"username,omitempty" json:"username,omitempty"`
	FirstName  string    `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName   string    `bson:"last_name,omitempty" json:"last_name,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
	LastSeenAt time.Time `bson:"last_seen_at" json:"last_seen_at"`
}

// Profile is the subset of Telegram user data forwarded to the backend.
type Profile struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
}

// DisplayName returns the best human-readable name for greetings.
func (p Profile) DisplayName() string {
	switch {
	case p.FirstName != "":
		return p.FirstName
	case p.Username != "":
		return "@" + p.Username
	default:
		return "Пользователь"
	}
}
