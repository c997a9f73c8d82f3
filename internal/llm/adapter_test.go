package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ent0n29/lingotalk/internal/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAdapterAutoWithoutKeyUsesMock(t *testing.T) {
	a, err := NewAdapter(Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	if Name(a) != "mock" {
		t.Fatalf("Name() = %q, want mock", Name(a))
	}

	resp, err := a.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hello"}}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !strings.Contains(resp.Text, "I heard you: hello") {
		t.Fatalf("unexpected response text: %q", resp.Text)
	}
}

func TestNewAdapterModes(t *testing.T) {
	a, err := NewAdapter(Config{Mode: "auto", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", Name(a))

	_, err = NewAdapter(Config{Mode: "openai"})
	assert.Error(t, err)

	_, err = NewAdapter(Config{Mode: "bogus"})
	assert.Error(t, err)
}

func TestMockAdapterEmitsRequestedMarkers(t *testing.T) {
	m, _ := segment.MarkersFor(segment.Japanese)
	resp, err := NewMockAdapter().Complete(context.Background(), Request{
		System:   "reply then " + m.Vocabulary + " and " + m.Examples,
		Messages: []Message{{Role: RoleUser, Content: "こんにちは"}},
	})
	require.NoError(t, err)

	got := segment.Segment(resp.Text, segment.Japanese, segment.Extended)
	assert.Equal(t, "I heard you: こんにちは", got.Conversation)
	assert.NotEmpty(t, got.Vocabulary)
	assert.NotEmpty(t, got.ExampleResponses)
	require.NotNil(t, resp.Usage)
	assert.Positive(t, resp.Usage.TotalTokens)
}

func TestMockAdapterHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockAdapter().Complete(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFallbackAdapterUsesFallback(t *testing.T) {
	a := NewFallbackAdapter(errAdapter{}, okAdapter{text: "fallback"})
	resp, err := a.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text != "fallback" {
		t.Fatalf("resp.Text = %q, want fallback", resp.Text)
	}
}

func TestFallbackAdapterSkipsFallbackOnCanceledContext(t *testing.T) {
	fb := &countingAdapter{text: "fallback"}
	a := NewFallbackAdapter(cancelAdapter{}, fb)
	_, err := a.Complete(context.Background(), Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if fb.calls.Load() != 0 {
		t.Fatalf("fallback should not be called, calls = %d", fb.calls.Load())
	}
}

func TestFallbackAdapterReportsBothErrors(t *testing.T) {
	a := NewFallbackAdapter(errAdapter{}, errAdapter{})
	_, err := a.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback adapter error")
}

func TestLazyAdapterBuildsOnceUnderConcurrency(t *testing.T) {
	var builds atomic.Int32
	release := make(chan struct{})
	lazy := NewLazyAdapter(func() (Adapter, error) {
		builds.Add(1)
		<-release
		return okAdapter{text: "ok"}, nil
	})
	assert.Equal(t, "lazy", Name(lazy))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := lazy.Complete(context.Background(), Request{})
			if err == nil && resp.Text != "ok" {
				err = errors.New("unexpected text " + resp.Text)
			}
			errs <- err
		}()
	}
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), builds.Load())

	_, err := lazy.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), builds.Load())
}

func TestLazyAdapterRetriesFailedConstruction(t *testing.T) {
	var builds atomic.Int32
	lazy := NewLazyAdapter(func() (Adapter, error) {
		if builds.Add(1) == 1 {
			return nil, errors.New("not ready")
		}
		return okAdapter{text: "ok"}, nil
	})

	_, err := lazy.Complete(context.Background(), Request{})
	require.Error(t, err)

	resp, err := lazy.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, int32(2), builds.Load())
}

type errAdapter struct{}

func (errAdapter) Complete(context.Context, Request) (Response, error) {
	return Response{}, errors.New("boom")
}

type okAdapter struct {
	text string
}

func (a okAdapter) Complete(context.Context, Request) (Response, error) {
	return Response{Text: a.text}, nil
}

type cancelAdapter struct{}

func (cancelAdapter) Complete(context.Context, Request) (Response, error) {
	return Response{}, context.Canceled
}

type countingAdapter struct {
	text  string
	calls atomic.Int32
}

func (a *countingAdapter) Complete(context.Context, Request) (Response, error) {
	a.calls.Add(1)
	return Response{Text: a.text}, nil
}
