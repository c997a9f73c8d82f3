package memory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const turnsSchema = `
CREATE TABLE IF NOT EXISTS conversation_turns (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL DEFAULT '',
	session_id   TEXT NOT NULL,
	language     TEXT NOT NULL DEFAULT '',
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversation_turns_session_created
	ON conversation_turns (session_id, created_at);`

// Column order matches the TurnRecord field order for RowToStructByPos.
const recentTurnsQuery = `
SELECT id, user_id, session_id, language, role, content, pii_redacted, created_at
FROM (
	SELECT * FROM conversation_turns
	WHERE session_id = $1
	ORDER BY created_at DESC
	LIMIT $2
) recent
ORDER BY created_at ASC`

// PostgresStore persists conversation history in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, turnsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init conversation_turns schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, record TurnRecord) error {
	r := withDefaults(record)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_turns (id, user_id, session_id, language, role, content, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.UserID, r.SessionID, r.Language, r.Role, r.Content, r.PIIRedacted, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

// RecentTurns returns the newest limit turns, oldest first. limit <= 0
// returns the whole session.
func (s *PostgresStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	var bound any
	if limit > 0 {
		bound = limit
	}
	rows, err := s.pool.Query(ctx, recentTurnsQuery, sessionID, bound)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	items, err := pgx.CollectRows(rows, pgx.RowToStructByPos[TurnRecord])
	if err != nil {
		return nil, fmt.Errorf("collect turn rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
