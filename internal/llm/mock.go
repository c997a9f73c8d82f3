package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/lingotalk/internal/segment"
)

// MockAdapter provides deterministic local replies when no API key is set.
// Replies carry the section markers the tutor prompts ask for, so the full
// pipeline can be exercised offline.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

const mockModel = "mock-tutor"

func (a *MockAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	words := int64(len(strings.Fields(text)))
	return Response{
		Text:  text,
		Model: mockModel,
		Usage: &Usage{CompletionTokens: words, TotalTokens: words},
	}, nil
}

func buildMockReply(req Request) string {
	base := "I am listening."
	if n := len(req.Messages); n > 0 {
		if last := strings.TrimSpace(req.Messages[n-1].Content); last != "" {
			base = last
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I heard you: %s", base)
	for _, lang := range []segment.Language{segment.English, segment.Japanese} {
		m, _ := segment.MarkersFor(lang)
		if !strings.Contains(req.System, m.Vocabulary) {
			continue
		}
		fmt.Fprintf(&b, "\n%s\n1. heard: 들었다 - Example 1: I heard you. - Example 2: Have you heard?", m.Vocabulary)
		if strings.Contains(req.System, m.Examples) {
			fmt.Fprintf(&b, "\n%s\n1. Thanks for listening.\n2. Could you say that again?", m.Examples)
		}
		break
	}
	return b.String()
}
