package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimHistoryKeepsNewestWithinBudget(t *testing.T) {
	words := func(s string) int { return len(s) }
	msgs := []Message{
		{Role: RoleUser, Content: "aaaaaaaaaa"},
		{Role: RoleAssistant, Content: "bbbbb"},
		{Role: RoleUser, Content: "ccccc"},
	}

	// each message costs len + 4
	got := TrimHistory(msgs, 18, words)
	assert.Equal(t, msgs[1:], got)

	assert.Equal(t, msgs, TrimHistory(msgs, 0, words))
	assert.Empty(t, TrimHistory(msgs, 3, words))
	assert.Equal(t, msgs, TrimHistory(msgs, 1000, words))
}

func TestCountTokensEmpty(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
}

func TestCountTokensUsesEstimateUntilWarm(t *testing.T) {
	if tokenizer.Load() != nil {
		t.Skip("tokenizer already loaded")
	}
	assert.Equal(t, 2, CountTokens("abcdefgh"))
	assert.Equal(t, 1, CountTokens("日本"))
	assert.Equal(t, estimateTokens("how are you today"), CountTokens("how are you today"))
}
