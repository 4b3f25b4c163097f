// Package store owns the MongoDB client and the collections shared by the
// bots.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"luxon_pay_bot/internal/config"
)

// Collection names.
const (
	CollectionUsers          = "users"
	CollectionGroups         = "groups"
	CollectionRequests       = "requests"
	CollectionForbiddenWords = "forbidden_words"
	CollectionPremiumEmojis  = "premium_emojis"
)

type mongoClient interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

// connectMongo is overridable for tests.
var connectMongo = func(ctx context.Context, opts *options.ClientOptions) (mongoClient, error) {
	return mongo.Connect(ctx, opts)
}

// createIndexes is overridable for tests.
var createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
	return coll.Indexes().CreateMany(ctx, models)
}

// Manager owns a MongoDB client and the configured database handle.
type Manager struct {
	client mongoClient
	db     *mongo.Database
}

// NewManager connects to MongoDB and verifies the connection with a ping.
func NewManager(ctx context.Context, cfg config.Config) (*Manager, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	client, err := connectMongo(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Manager{
		client: client,
		db:     client.Database(cfg.MongoDB),
	}, nil
}

// Ping checks connectivity against the primary.
func (m *Manager) Ping(ctx context.Context) error {
	if m == nil || m.client == nil {
		return errors.New("store manager is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// Database returns the configured database handle.
func (m *Manager) Database() *mongo.Database {
	return m.db
}

// Collection returns a collection handle for the given name.
func (m *Manager) Collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

func (m *Manager) Users() *mongo.Collection { return m.Collection(CollectionUsers) }
func (m *Manager) Groups() *mongo.Collection { return m.Collection(CollectionGroups) }
func (m *Manager) Requests() *mongo.Collection { return m.Collection(CollectionRequests) }
func (m *Manager) ForbiddenWords() *mongo.Collection { return m.Collection(CollectionForbiddenWords) }
func (m *Manager) PremiumEmojis() *mongo.Collection { return m.Collection(CollectionPremiumEmojis) }

// uniqueIndexes lists the unique key of every collection, in creation order.
var uniqueIndexes = []struct {
	collection string
	key        string
}{
	{CollectionUsers, "user_id"},
	{CollectionGroups, "chat_id"},
	{CollectionRequests, "request_id"},
	{CollectionForbiddenWords, "word"},
	{CollectionPremiumEmojis, "custom_emoji_id"},
}

// EnsureIndexes creates the unique indexes of every collection. Collections
// are created implicitly when missing.
func (m *Manager) EnsureIndexes(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errors.New("store manager is not initialized")
	}

	for _, idx := range uniqueIndexes {
		models := []mongo.IndexModel{
			{
				Keys: bson.D{{Key: idx.key, Value: 1}},
				Options: options.Index().
					SetName(idx.key + "_unique").
					SetUnique(true),
			},
		}
		if idx.collection == CollectionRequests {
			models = append(models, mongo.IndexModel{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("user_created"),
			})
		}

		if _, err := createIndexes(ctx, m.Collection(idx.collection), models); err != nil {
			return fmt.Errorf("create %s indexes: %w", idx.collection, err)
		}
	}

	return nil
}

// Close disconnects the Mongo client.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return m.client.Disconnect(ctx)
}
