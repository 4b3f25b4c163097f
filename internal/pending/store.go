// Package pending persists the resumable part of a deposit dialog so a proof
// image can still be accepted after the process restarts.
package pending

import (
	"context"
	"encoding/json"
	"time"
)

// Store keeps one record per user. Implementations log persistence failures
// instead of returning them; the store is a resume aid and must never block a
// payment submission.
type Store interface {
	Set(ctx context.Context, userID int64, data json.RawMessage, expiresAt time.Time)
	Get(ctx context.Context, userID int64) (json.RawMessage, bool)
	Clear(ctx context.Context, userID int64)
}

// record is the on-disk and in-redis layout of a single entry.
type record struct {
	Data      json.RawMessage `json:"data"`
	ExpiresAt float64         `json:"expires_at"`
}

func newRecord(data json.RawMessage, expiresAt time.Time) record {
	return record{
		Data:      data,
		ExpiresAt: float64(expiresAt.Unix()) + float64(expiresAt.Nanosecond())/float64(time.Second),
	}
}

func (r record) expired(now time.Time) bool {
	return r.deadline().Compare(now) <= 0
}

func (r record) deadline() time.Time {
	sec := int64(r.ExpiresAt)
	nsec := int64((r.ExpiresAt - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}
