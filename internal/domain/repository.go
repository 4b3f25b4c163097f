package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type insertFindCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
}

// RequestLog persists accepted deposit and withdrawal requests in MongoDB.
type RequestLog struct {
	collection insertFindCollection
	now        func() time.Time
}

// NewRequestLog constructs a RequestLog.
func NewRequestLog(collection insertFindCollection) *RequestLog {
	return &RequestLog{
		collection: collection,
		now:        time.Now,
	}
}

// DecimalAmount converts a money value to the BSON decimal type.
func DecimalAmount(amount decimal.Decimal) (primitive.Decimal128, error) {
	dec, err := primitive.ParseDecimal128(amount.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("convert amount %s: %w", amount.String(), err)
	}
	return dec, nil
}

// Record inserts the request, stamping created_at when it is missing. A
// request id that is already stored returns the stored record unchanged.
func (r *RequestLog) Record(ctx context.Context, rec RequestRecord) (RequestRecord, error) {
	if r == nil || r.collection == nil {
		return RequestRecord{}, errors.New("request log is not initialized")
	}
	if ctx == nil {
		return RequestRecord{}, errors.New("context is required")
	}
	if rec.RequestID == "" {
		return RequestRecord{}, errors.New("request_id is required")
	}
	if rec.UserID == 0 {
		return RequestRecord{}, errors.New("user_id is required")
	}

	existing, err := r.Get(ctx, rec.RequestID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, mongo.ErrNoDocuments):
		return RequestRecord{}, err
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC().Truncate(time.Millisecond)
	}

	if _, err := r.collection.InsertOne(ctx, rec); err != nil {
		return RequestRecord{}, fmt.Errorf("insert request: %w", err)
	}

	return rec, nil
}

// Get fetches a recorded request by backend id.
func (r *RequestLog) Get(ctx context.Context, requestID string) (RequestRecord, error) {
	if r == nil || r.collection == nil {
		return RequestRecord{}, errors.New("request log is not initialized")
	}
	if ctx == nil {
		return RequestRecord{}, errors.New("context is required")
	}
	if requestID == "" {
		return RequestRecord{}, errors.New("request_id is required")
	}

	result := r.collection.FindOne(ctx, bson.M{"request_id": requestID})
	if result == nil {
		return RequestRecord{}, errors.New("find request returned no result")
	}
	if err := result.Err(); err != nil {
		return RequestRecord{}, fmt.Errorf("find request: %w", err)
	}

	var rec RequestRecord
	if err := result.Decode(&rec); err != nil {
		return RequestRecord{}, fmt.Errorf("decode request: %w", err)
	}

	return rec, nil
}
