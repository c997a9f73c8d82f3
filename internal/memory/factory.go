package memory

import (
	"context"
	"strings"
	"time"

	"github.com/ent0n29/lingotalk/internal/reliability"
)

// Options selects and tunes the history backend.
type Options struct {
	DatabaseURL   string
	RedisURL      string
	RedisTTL      time.Duration
	MaxPerSession int
	// ConnectAttempts bounds startup retries while the backend comes up.
	ConnectAttempts int
}

// NewStore creates a postgres- or redis-backed store when configured,
// otherwise in-memory.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	var store Store
	connect := func(ctx context.Context) error {
		var err error
		switch {
		case strings.TrimSpace(opts.DatabaseURL) != "":
			store, err = NewPostgresStore(ctx, opts.DatabaseURL)
		case strings.TrimSpace(opts.RedisURL) != "":
			store, err = NewRedisStore(ctx, opts.RedisURL, opts.RedisTTL, opts.MaxPerSession)
		default:
			store = NewInMemoryStore(opts.MaxPerSession)
		}
		return err
	}
	if err := reliability.Retry(ctx, opts.ConnectAttempts, 250*time.Millisecond, 4*time.Second, connect); err != nil {
		return nil, err
	}
	return store, nil
}
