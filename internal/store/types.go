// Package store persists conversation records. Persistence is best-effort:
// the call path logs and continues when a write fails.
package store

import (
	"context"
	"time"
)

// ConversationRecord is the per-call row, written once at call start and
// finalized when the call ends.
type ConversationRecord struct {
	CallID      string
	AgentID     string
	StartedAt   time.Time
	EndedAt     time.Time
	Outcome     string
	TurnCount   int
	TotalTokens int
}

// TurnRecord is one completed turn within a call, one row per role
// contribution.
type TurnRecord struct {
	ID        string
	CallID    string
	Seq       int
	Role      string
	Content   string
	Function  string
	BargedIn  bool
	LatencyMs int64
	CreatedAt time.Time
}

// CapturedDatum is a key/value pair the assistant extracted during a call.
type CapturedDatum struct {
	ID        string
	CallID    string
	Key       string
	Value     string
	CreatedAt time.Time
}

type Store interface {
	BeginConversation(ctx context.Context, rec ConversationRecord) error
	SaveTurn(ctx context.Context, rec TurnRecord) error
	SaveCapturedDatum(ctx context.Context, rec CapturedDatum) error
	EndConversation(ctx context.Context, callID, outcome string, endedAt time.Time, turnCount, totalTokens int) error
	Conversation(ctx context.Context, callID string) (ConversationRecord, []TurnRecord, error)
	Close() error
}
