// Package emoji implements the collector bot that records custom emoji ids
// and exports them as a YAML config document.
package emoji

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"luxon_pay_bot/internal/logging"
)

// Entry maps the fallback character of a custom emoji to its id.
type Entry struct {
	Emoji string `bson:"emoji"`
	ID    string `bson:"custom_emoji_id"`
}

type emojiCollection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// Store persists collected emojis in the premium_emojis collection.
type Store struct {
	emojis emojiCollection
	logger *logrus.Entry
	now    func() time.Time
}

// NewStore constructs a Store.
func NewStore(emojis emojiCollection, logger *logrus.Entry) *Store {
	if logger == nil {
		logger = logging.Logger()
	}
	return &Store{
		emojis: emojis,
		logger: logger,
		now:    time.Now,
	}
}

// Save upserts the entries and returns those that were new or changed.
func (s *Store) Save(ctx context.Context, entries []Entry) ([]Entry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	var changed []Entry
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		result, err := s.emojis.UpdateOne(ctx,
			bson.M{"custom_emoji_id": e.ID},
			bson.M{
				"$set":         bson.M{"emoji": e.Emoji, "updated_at": now},
				"$setOnInsert": bson.M{"created_at": now},
			},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return changed, fmt.Errorf("save emoji %s: %w", e.ID, err)
		}
		if result != nil && (result.UpsertedCount > 0 || result.ModifiedCount > 0) {
			changed = append(changed, e)
		}
	}

	if len(changed) > 0 {
		s.logger.WithFields(logging.Fields{
			"event": "emoji_saved",
			"count": len(changed),
		}).Info("saved custom emojis")
	}
	return changed, nil
}

// List returns every entry in collection order.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	cur, err := s.emojis.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find emojis: %w", err)
	}
	defer cur.Close(ctx)

	var out []Entry
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode emojis: %w", err)
	}
	return out, nil
}

// Count returns the number of stored emojis.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	n, err := s.emojis.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count emojis: %w", err)
	}
	return n, nil
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	result, err := s.emojis.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("clear emojis: %w", err)
	}

	var n int64
	if result != nil {
		n = result.DeletedCount
	}
	s.logger.WithFields(logging.Fields{
		"event": "emoji_cleared",
		"count": n,
	}).Info("cleared custom emojis")
	return n, nil
}

func (s *Store) check(ctx context.Context) error {
	if s == nil || s.emojis == nil {
		return errors.New("emoji store is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
