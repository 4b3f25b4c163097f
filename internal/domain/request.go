package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Request kinds.
const (
	RequestDeposit  = "deposit"
	RequestWithdraw = "withdraw"
)

// RequestRecord is the local audit copy of a request accepted by the backend.
type RequestRecord struct {
	RequestID string               `bson:"request_id" json:"request_id"`
	UserID    int64                `bson:"user_id" json:"user_id"`
	Kind      string               `bson:"kind" json:"kind"`
	Bookmaker string               `bson:"bookmaker" json:"bookmaker"`
	PlayerID  string               `bson:"player_id" json:"player_id"`
	Amount    primitive.Decimal128 `bson:"amount" json:"amount"`
	Bank      string               `bson:"bank,omitempty" json:"bank,omitempty"`
	Phone     string               `bson:"phone,omitempty" json:"phone,omitempty"`
	SessionID string               `bson:"session_id,omitempty" json:"session_id,omitempty"`
	CreatedAt time.Time            `bson:"created_at" json:"created_at"`
}
