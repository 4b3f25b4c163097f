// Package user keeps the Telegram profiles of payment bot users in MongoDB.
package user

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

	"luxon_pay_bot/internal/domain"
	"luxon_pay_bot/internal/logging"
)

type userCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Registrar upserts the Telegram profile on every interaction.
type Registrar struct {
	users  userCollection
	logger *logrus.Entry
	now    func() time.Time
}

// NewRegistrar constructs a Registrar for the users collection.
func NewRegistrar(users userCollection, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		users:  users,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureUser stores the profile, refreshing names and last_seen_at. It
// reports whether the user was seen for the first time.
func (r *Registrar) EnsureUser(ctx context.Context, profile domain.Profile) (bool, error) {
	if r == nil || r.users == nil {
		return false, errors.New("user registrar is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}
	if profile.UserID == 0 {
		return false, errors.New("user id is required")
	}

	now := r.now().UTC().Truncate(time.Millisecond)

	set := bson.M{
		"updated_at":   now,
		"last_seen_at": now,
	}
	// Telegram omits empty names; keep what we already know.
	for field, value := range map[string]string{
		"username":   profile.Username,
		"first_name": profile.FirstName,
		"last_name":  profile.LastName,
	} {
		if v := strings.TrimSpace(value); v != "" {
			set[field] = v
		}
	}

	result, err := r.users.UpdateOne(ctx,
		bson.M{"user_id": profile.UserID},
		bson.M{
			"$set": set,
			"$setOnInsert": bson.M{
				"user_id":    profile.UserID,
				"created_at": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("ensure user: %w", err)
	}

	if result != nil && result.UpsertedCount > 0 {
		r.logger.WithFields(logging.Fields{
			"event":    "user_registered",
			"user_id":  profile.UserID,
			"username": profile.Username,
		}).Info("registered new user")
		return true, nil
	}

	r.logger.WithFields(logging.Fields{
		"event":   "user_seen",
		"user_id": profile.UserID,
	}).Debug("updated user last seen")

	return false, nil
}
