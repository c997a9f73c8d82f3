package memory

import (
	"context"
	"time"
)

// Roles stored with each turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TurnRecord stores a single user or assistant conversational turn.
type TurnRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	Language    string    `json:"language"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves conversation history per session.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	// RecentTurns returns up to limit turns for sessionID, oldest first.
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// Mode reports the backend name of s.
func Mode(s Store) string {
	switch s.(type) {
	case *PostgresStore:
		return "postgres"
	case *RedisStore:
		return "redis"
	case *InMemoryStore:
		return "in-memory"
	default:
		return "custom"
	}
}
