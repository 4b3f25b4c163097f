// Package moderation implements the group moderator bot: a forbidden word
// list in MongoDB, a matcher and the update handler.
package moderation

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

var (
	ErrWordExists   = errors.New("word already listed")
	ErrWordNotFound = errors.New("word not listed")
	ErrEmptyWord    = errors.New("word is empty")
)

// DefaultWords seeds an empty word list.
var DefaultWords = []string{
	"чотал",
	"шотал",
	"четр",
	"шытр",
	"чотр",
	"пул",
	"акча",
	"грев",
	"мошенник",
	"котик",
	"luxon_boss",
	"luxservice",
	"@luxon_boss",
	"@luxservice",
}

type wordCollection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

type wordDoc struct {
	Word      string    `bson:"word"`
	Display   string    `bson:"display"`
	AddedBy   int64     `bson:"added_by,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

// WordStore keeps forbidden words keyed by their lower-case form, so adding
// a word that differs only in case is a duplicate.
type WordStore struct {
	words  wordCollection
	logger *logrus.Entry
	now    func() time.Time
}

// NewWordStore constructs a WordStore over the forbidden_words collection.
func NewWordStore(words wordCollection, logger *logrus.Entry) *WordStore {
	if logger == nil {
		logger = logging.Logger()
	}
	return &WordStore{
		words:  words,
		logger: logger,
		now:    time.Now,
	}
}

// List returns the words in the order they were added, as they were typed.
func (s *WordStore) List(ctx context.Context) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	cur, err := s.words.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find words: %w", err)
	}
	defer cur.Close(ctx)

	var out []string
	for cur.Next(ctx) {
		var doc wordDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode word: %w", err)
		}
		if doc.Display == "" {
			doc.Display = doc.Word
		}
		out = append(out, doc.Display)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate words: %w", err)
	}
	return out, nil
}

// Add stores a word. It returns ErrWordExists when the word is already listed
// in any letter case.
func (s *WordStore) Add(ctx context.Context, word string, addedBy int64) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	display := strings.TrimSpace(word)
	key := strings.ToLower(display)
	if key == "" {
		return ErrEmptyWord
	}

	result, err := s.words.UpdateOne(ctx,
		bson.M{"word": key},
		bson.M{"$setOnInsert": bson.M{
			"display":    display,
			"added_by":   addedBy,
			"created_at": s.now().UTC().Truncate(time.Millisecond),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("add word: %w", err)
	}
	if result != nil && result.UpsertedCount == 0 {
		return ErrWordExists
	}

	s.logger.WithFields(logging.Fields{
		"event":    "moderation_word_added",
		"word":     display,
		"added_by": addedBy,
	}).Info("forbidden word added")
	return nil
}

// Remove deletes a word regardless of letter case.
func (s *WordStore) Remove(ctx context.Context, word string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	key := strings.ToLower(strings.TrimSpace(word))
	if key == "" {
		return ErrEmptyWord
	}

	result, err := s.words.DeleteOne(ctx, bson.M{"word": key})
	if err != nil {
		return fmt.Errorf("remove word: %w", err)
	}
	if result == nil || result.DeletedCount == 0 {
		return ErrWordNotFound
	}

	s.logger.WithFields(logging.Fields{
		"event": "moderation_word_removed",
		"word":  key,
	}).Info("forbidden word removed")
	return nil
}

// Seed stores the defaults when the collection is empty. It reports how many
// words were inserted.
func (s *WordStore) Seed(ctx context.Context, defaults []string) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	n, err := s.words.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count words: %w", err)
	}
	if n > 0 {
		return 0, nil
	}

	seeded := 0
	for _, w := range defaults {
		switch err := s.Add(ctx, w, 0); {
		case err == nil:
			seeded++
		case errors.Is(err, ErrWordExists), errors.Is(err, ErrEmptyWord):
		default:
			return seeded, fmt.Errorf("seed words: %w", err)
		}
	}

	s.logger.WithFields(logging.Fields{
		"event": "moderation_words_seeded",
		"count": seeded,
	}).Info("seeded default forbidden words")
	return seeded, nil
}

func (s *WordStore) check(ctx context.Context) error {
	if s == nil || s.words == nil {
		return errors.New("word store is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
