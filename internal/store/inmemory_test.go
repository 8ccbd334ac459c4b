package store

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	start := time.Now().UTC()
	if err := s.BeginConversation(ctx, ConversationRecord{CallID: "c1", AgentID: "support", StartedAt: start}); err != nil {
		t.Fatalf("BeginConversation() error = %v", err)
	}
	roles := []string{"assistant", "user", "assistant"}
	for seq := 1; seq <= 3; seq++ {
		err := s.SaveTurn(ctx, TurnRecord{CallID: "c1", Seq: seq, Role: roles[seq-1], Content: "hi"})
		if err != nil {
			t.Fatalf("SaveTurn(%d) error = %v", seq, err)
		}
	}
	if err := s.EndConversation(ctx, "c1", "completed", time.Now().UTC(), 3, 42); err != nil {
		t.Fatalf("EndConversation() error = %v", err)
	}

	conv, turns, err := s.Conversation(ctx, "c1")
	if err != nil {
		t.Fatalf("Conversation() error = %v", err)
	}
	if conv.Outcome != "completed" || conv.TurnCount != 3 || conv.TotalTokens != 42 {
		t.Fatalf("conversation = %+v", conv)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	for i, turn := range turns {
		if turn.Seq != i+1 {
			t.Fatalf("turn %d has seq %d", i, turn.Seq)
		}
		if turn.ID == "" {
			t.Fatalf("turn %d missing generated id", i)
		}
	}
}

func TestInMemoryBeginIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.BeginConversation(ctx, ConversationRecord{CallID: "c1", AgentID: "a", StartedAt: start}); err != nil {
		t.Fatalf("BeginConversation() error = %v", err)
	}
	if err := s.BeginConversation(ctx, ConversationRecord{CallID: "c1", AgentID: "b"}); err != nil {
		t.Fatalf("BeginConversation() second call error = %v", err)
	}

	conv, _, err := s.Conversation(ctx, "c1")
	if err != nil {
		t.Fatalf("Conversation() error = %v", err)
	}
	if conv.AgentID != "a" || !conv.StartedAt.Equal(start) {
		t.Fatalf("first record was overwritten: %+v", conv)
	}
}

func TestInMemoryUnknownConversation(t *testing.T) {
	s := NewInMemoryStore()
	if _, _, err := s.Conversation(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown conversation")
	}
	if err := s.EndConversation(context.Background(), "missing", "completed", time.Now(), 0, 0); err == nil {
		t.Fatalf("expected error ending unknown conversation")
	}
}

func TestInMemoryCapturedData(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	if err := s.SaveCapturedDatum(ctx, CapturedDatum{CallID: "c1", Key: "email", Value: "a@b.c"}); err != nil {
		t.Fatalf("SaveCapturedDatum() error = %v", err)
	}
	got := s.CapturedData("c1")
	if len(got) != 1 || got[0].Key != "email" {
		t.Fatalf("captured data = %+v", got)
	}
}
