package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore holds records for the process lifetime. Default when no
// DATABASE_URL is configured.
type InMemoryStore struct {
	mu       sync.RWMutex
	convs    map[string]ConversationRecord
	turns    map[string][]TurnRecord
	captured map[string][]CapturedDatum
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		convs:    make(map[string]ConversationRecord),
		turns:    make(map[string][]TurnRecord),
		captured: make(map[string][]CapturedDatum),
	}
}

func (s *InMemoryStore) BeginConversation(_ context.Context, rec ConversationRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.convs[rec.CallID]; !exists {
		s.convs[rec.CallID] = rec
	}
	return nil
}

func (s *InMemoryStore) SaveTurn(_ context.Context, rec TurnRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[rec.CallID] = append(s.turns[rec.CallID], rec)
	return nil
}

func (s *InMemoryStore) SaveCapturedDatum(_ context.Context, rec CapturedDatum) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captured[rec.CallID] = append(s.captured[rec.CallID], rec)
	return nil
}

func (s *InMemoryStore) EndConversation(_ context.Context, callID, outcome string, endedAt time.Time, turnCount, totalTokens int) error {
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[callID]
	if !ok {
		return fmt.Errorf("end conversation %s: not found", callID)
	}
	conv.EndedAt = endedAt
	conv.Outcome = outcome
	conv.TurnCount = turnCount
	conv.TotalTokens = totalTokens
	s.convs[callID] = conv
	return nil
}

func (s *InMemoryStore) Conversation(_ context.Context, callID string) (ConversationRecord, []TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[callID]
	if !ok {
		return ConversationRecord{}, nil, fmt.Errorf("conversation %s: not found", callID)
	}
	turns := make([]TurnRecord, len(s.turns[callID]))
	copy(turns, s.turns[callID])
	return conv, turns, nil
}

// CapturedData returns the data captured during a call, for tests and the
// ops API.
func (s *InMemoryStore) CapturedData(callID string) []CapturedDatum {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CapturedDatum, len(s.captured[callID]))
	copy(out, s.captured[callID])
	return out
}

func (s *InMemoryStore) Close() error { return nil }
