// Package group tracks the chats the moderator bot was added to.
package group

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"luxon_pay_bot/internal/logging"
)

type groupCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Membership is the bot's standing in a chat.
type Membership struct {
	ChatID     int64
	Title      string
	BotIsAdmin bool
}

// Registrar records group membership changes.
type Registrar struct {
	groups groupCollection
	logger *logrus.Entry
	now    func() time.Time
}

// NewRegistrar constructs a Registrar for the groups collection.
func NewRegistrar(groups groupCollection, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		groups: groups,
		logger: logger,
		now:    time.Now,
	}
}

// Track upserts the group as active with the bot's current admin status. It
// reports whether the group was seen for the first time.
func (r *Registrar) Track(ctx context.Context, m Membership) (bool, error) {
	if err := r.check(ctx, m.ChatID); err != nil {
		return false, err
	}

	now := r.now().UTC().Truncate(time.Millisecond)
	title := strings.TrimSpace(m.Title)

	set := bson.M{
		"last_seen_at": now,
		"bot_is_admin": m.BotIsAdmin,
		"active":       true,
	}
	if title != "" {
		set["title"] = title
	}

	result, err := r.groups.UpdateOne(ctx,
		bson.M{"chat_id": m.ChatID},
		bson.M{
			"$set": set,
			"$setOnInsert": bson.M{
				"chat_id":   m.ChatID,
				"joined_at": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("track group: %w", err)
	}

	log := r.logger.WithFields(logging.Fields{
		"chat_id":      m.ChatID,
		"title":        title,
		"bot_is_admin": m.BotIsAdmin,
	})

	if result != nil && result.UpsertedCount > 0 {
		log.WithField("event", "group_registered").Info("registered new group")
		return true, nil
	}

	log.WithField("event", "group_seen").Debug("updated group membership")
	return false, nil
}

// Leave marks the group inactive after the bot was removed.
func (r *Registrar) Leave(ctx context.Context, chatID int64) error {
	if err := r.check(ctx, chatID); err != nil {
		return err
	}

	now := r.now().UTC().Truncate(time.Millisecond)
	_, err := r.groups.UpdateOne(ctx,
		bson.M{"chat_id": chatID},
		bson.M{"$set": bson.M{
			"active":       false,
			"bot_is_admin": false,
			"last_seen_at": now,
		}},
	)
	if err != nil {
		return fmt.Errorf("leave group: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "group_left",
		"chat_id": chatID,
	}).Info("bot removed from group")
	return nil
}

func (r *Registrar) check(ctx context.Context, chatID int64) error {
	if r == nil || r.groups == nil {
		return errors.New("group registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if chatID == 0 {
		return errors.New("chat id is required")
	}
	return nil
}
