package llm

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// LazyAdapter builds its underlying adapter on first use. Concurrent first
// callers share one construction; a failed construction is not cached.
type LazyAdapter struct {
	build func() (Adapter, error)

	group   singleflight.Group
	mu      sync.RWMutex
	adapter Adapter
}

func NewLazyAdapter(build func() (Adapter, error)) *LazyAdapter {
	return &LazyAdapter{build: build}
}

// Get returns the memoized adapter, constructing it if needed.
func (l *LazyAdapter) Get() (Adapter, error) {
	l.mu.RLock()
	a := l.adapter
	l.mu.RUnlock()
	if a != nil {
		return a, nil
	}

	v, err, _ := l.group.Do("adapter", func() (any, error) {
		l.mu.RLock()
		existing := l.adapter
		l.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}
		built, err := l.build()
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.adapter = built
		l.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Adapter), nil
}

func (l *LazyAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	a, err := l.Get()
	if err != nil {
		return Response{}, err
	}
	return a.Complete(ctx, req)
}
