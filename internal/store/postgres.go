package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps call transcripts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			call_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			outcome TEXT NOT NULL DEFAULT '',
			turn_count INT NOT NULL DEFAULT 0,
			total_tokens INT NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL REFERENCES conversations(call_id),
			seq INT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			function_name TEXT NOT NULL DEFAULT '',
			barged_in BOOLEAN NOT NULL DEFAULT FALSE,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (call_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS captured_data (
			id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_call_seq ON conversation_turns (call_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) BeginConversation(ctx context.Context, rec ConversationRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (call_id, agent_id, started_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (call_id) DO NOTHING`,
		rec.CallID, rec.AgentID, rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("begin conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, rec TurnRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_turns
		 (id, call_id, seq, role, content, function_name, barged_in, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.CallID, rec.Seq, rec.Role, rec.Content,
		rec.Function, rec.BargedIn, rec.LatencyMs, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveCapturedDatum(ctx context.Context, rec CapturedDatum) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO captured_data (id, call_id, key, value, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.CallID, rec.Key, rec.Value, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save captured datum: %w", err)
	}
	return nil
}

func (s *PostgresStore) EndConversation(ctx context.Context, callID, outcome string, endedAt time.Time, turnCount, totalTokens int) error {
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET ended_at=$2, outcome=$3, turn_count=$4, total_tokens=$5 WHERE call_id=$1`,
		callID, endedAt, outcome, turnCount, totalTokens,
	)
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Conversation(ctx context.Context, callID string) (ConversationRecord, []TurnRecord, error) {
	var (
		conv  ConversationRecord
		ended *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT call_id, agent_id, started_at, ended_at, outcome, turn_count, total_tokens
		 FROM conversations WHERE call_id=$1`, callID,
	).Scan(&conv.CallID, &conv.AgentID, &conv.StartedAt, &ended, &conv.Outcome, &conv.TurnCount, &conv.TotalTokens)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConversationRecord{}, nil, fmt.Errorf("conversation %s: not found", callID)
		}
		return ConversationRecord{}, nil, fmt.Errorf("query conversation: %w", err)
	}
	if ended != nil {
		conv.EndedAt = *ended
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, call_id, seq, role, content, function_name, barged_in, latency_ms, created_at
		 FROM conversation_turns WHERE call_id=$1 ORDER BY seq`, callID,
	)
	if err != nil {
		return ConversationRecord{}, nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []TurnRecord
	for rows.Next() {
		var t TurnRecord
		if err := rows.Scan(&t.ID, &t.CallID, &t.Seq, &t.Role, &t.Content,
			&t.Function, &t.BargedIn, &t.LatencyMs, &t.CreatedAt); err != nil {
			return ConversationRecord{}, nil, fmt.Errorf("scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return ConversationRecord{}, nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return conv, turns, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
