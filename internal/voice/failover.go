package voice

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// FailoverTranscriber prefers the primary backend and switches to fallback
// when primary fails. Once fallback succeeds it stays active until it fails;
// then primary is retried.
type FailoverTranscriber struct {
	primary        Transcriber
	fallback       Transcriber
	fallbackActive atomic.Bool
}

func NewFailoverTranscriber(primary, fallback Transcriber) *FailoverTranscriber {
	return &FailoverTranscriber{primary: primary, fallback: fallback}
}

// FallbackActive reports whether requests currently go to the fallback.
func (f *FailoverTranscriber) FallbackActive() bool {
	return f.fallbackActive.Load()
}

func (f *FailoverTranscriber) Transcribe(ctx context.Context, audioPath, language string) (Transcript, error) {
	if f.fallbackActive.Load() {
		out, fbErr := f.fallback.Transcribe(ctx, audioPath, language)
		if fbErr == nil || isTerminal(ctx, fbErr) {
			return out, fbErr
		}
		// Fallback failed after being active; try primary again.
		out, prErr := f.primary.Transcribe(ctx, audioPath, language)
		if prErr == nil {
			f.fallbackActive.Store(false)
			return out, nil
		}
		return Transcript{}, fmt.Errorf("stt fallback failed: %v; stt primary failed: %w", fbErr, prErr)
	}

	out, prErr := f.primary.Transcribe(ctx, audioPath, language)
	if prErr == nil || isTerminal(ctx, prErr) {
		return out, prErr
	}
	out, fbErr := f.fallback.Transcribe(ctx, audioPath, language)
	if fbErr != nil {
		return Transcript{}, fmt.Errorf("stt primary failed: %v; stt fallback failed: %w", prErr, fbErr)
	}
	f.fallbackActive.Store(true)
	return out, nil
}

// isTerminal reports errors that another backend cannot fix.
func isTerminal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, ErrEmptyAudio)
}
