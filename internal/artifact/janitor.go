package artifact

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// StartJanitor sweeps the store on schedule (standard cron spec or
// "@every <duration>") until ctx is canceled. An empty schedule disables it.
// The returned func blocks until a running sweep has finished.
func (s *Store) StartJanitor(ctx context.Context, schedule string, ttl time.Duration) (func(), error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return func() {}, nil
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("artifact janitor ttl must be positive")
	}

	c := rcron.New(rcron.WithChain(rcron.SkipIfStillRunning(rcron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if n := s.Sweep(ttl); n > 0 {
			s.logger.Debug().Int("deleted_files", n).Msg("scheduled artifact sweep")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	s.logger.Info().Str("schedule", schedule).Dur("ttl", ttl).Msg("artifact janitor started")

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		<-c.Stop().Done()
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-c.Stop().Done()
	}, nil
}
