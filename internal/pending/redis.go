package pending

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"luxon_pay_bot/internal/logging"
)

const defaultRedisPrefix = "pending_deposit:"

// redisClient is the subset of redis commands the store uses.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps one key per user with a TTL matching the record expiry.
type RedisStore struct {
	client redisClient
	prefix string
	logger *logrus.Entry
	now    func() time.Time
}

// NewRedisStore constructs a RedisStore. An empty prefix uses the default.
func NewRedisStore(client redisClient, prefix string, logger *logrus.Entry) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

// Set stores the record; records already past their deadline are not written.
func (s *RedisStore) Set(ctx context.Context, userID int64, data json.RawMessage, expiresAt time.Time) {
	if s == nil || s.client == nil {
		return
	}

	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		s.Clear(ctx, userID)
		return
	}

	raw, err := json.Marshal(newRecord(data, expiresAt))
	if err != nil {
		s.warn("pending_persist_error", userID, err)
		return
	}

	if err := s.client.Set(ctx, s.prefix+key(userID), raw, ttl).Err(); err != nil {
		s.warn("pending_persist_error", userID, err)
	}
}

// Get returns the payload for a live record.
func (s *RedisStore) Get(ctx context.Context, userID int64) (json.RawMessage, bool) {
	if s == nil || s.client == nil {
		return nil, false
	}

	raw, err := s.client.Get(ctx, s.prefix+key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		s.warn("pending_read_error", userID, err)
		return nil, false
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.warn("pending_read_error", userID, err)
		s.Clear(ctx, userID)
		return nil, false
	}
	if rec.expired(s.now()) {
		s.Clear(ctx, userID)
		return nil, false
	}

	return rec.Data, true
}

// Clear deletes the user's key.
func (s *RedisStore) Clear(ctx context.Context, userID int64) {
	if s == nil || s.client == nil {
		return
	}

	if err := s.client.Del(ctx, s.prefix+key(userID)).Err(); err != nil {
		s.warn("pending_clear_error", userID, err)
	}
}

func (s *RedisStore) warn(event string, userID int64, err error) {
	s.logger.WithFields(logging.Fields{
		"event":   event,
		"user_id": userID,
	}).WithError(err).Warn("pending state redis operation failed")
}
