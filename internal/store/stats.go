package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// Stats is a diagnostics summary of the payment bot's local records.
type Stats struct {
	Users         int64 `json:"users"`
	Requests      int64 `json:"requests"`
	RequestsToday int64 `json:"requests_today"`
}

// StatsProvider counts documents without exposing MongoDB to callers.
type StatsProvider struct {
	users    countCollection
	requests countCollection
	now      func() time.Time
}

// NewStatsProvider constructs a StatsProvider over the users and requests
// collections.
func NewStatsProvider(users, requests countCollection) *StatsProvider {
	return &StatsProvider{
		users:    users,
		requests: requests,
		now:      time.Now,
	}
}

// Stats counts users, requests, and requests created since UTC midnight.
func (p *StatsProvider) Stats(ctx context.Context) (Stats, error) {
	if ctx == nil {
		return Stats{}, errors.New("context is required")
	}
	if p == nil || p.users == nil || p.requests == nil {
		return Stats{}, errors.New("stats provider is not initialized")
	}

	var (
		out Stats
		err error
	)

	if out.Users, err = p.users.CountDocuments(ctx, bson.D{}); err != nil {
		return Stats{}, fmt.Errorf("count users: %w", err)
	}
	if out.Requests, err = p.requests.CountDocuments(ctx, bson.D{}); err != nil {
		return Stats{}, fmt.Errorf("count requests: %w", err)
	}

	midnight := p.now().UTC().Truncate(24 * time.Hour)
	if out.RequestsToday, err = p.requests.CountDocuments(ctx, bson.M{"created_at": bson.M{"$gte": midnight}}); err != nil {
		return Stats{}, fmt.Errorf("count today's requests: %w", err)
	}

	return out, nil
}
