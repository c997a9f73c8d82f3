package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-3.5-turbo-0125",
  "choices": [{"index": 0, "finish_reason": "stop", "logprobs": null,
    "message": {"role": "assistant", "content": "Nice to meet you!", "refusal": null}}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
}`

func TestOpenAIAdapterComplete(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	}))
	defer srv.Close()

	a, err := NewOpenAIAdapter(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Model: "gpt-3.5-turbo"})
	require.NoError(t, err)

	resp, err := a.Complete(context.Background(), Request{
		System: "You are a tutor.",
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
			{Role: RoleUser, Content: "   "},
			{Role: RoleUser, Content: "how are you?"},
		},
		MaxTokens:   1000,
		Temperature: 0.7,
		User:        "session-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Nice to meet you!", resp.Text)
	assert.Equal(t, "gpt-3.5-turbo-0125", resp.Model)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, int64(17), resp.Usage.TotalTokens)

	require.NotNil(t, captured)
	assert.Equal(t, "gpt-3.5-turbo", captured["model"])
	assert.InDelta(t, 0.7, captured["temperature"], 1e-9)
	assert.EqualValues(t, 1000, captured["max_tokens"])
	assert.Equal(t, "session-1", captured["user"])

	msgs, ok := captured["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4)
	roles := make([]string, 0, len(msgs))
	for _, m := range msgs {
		roles = append(roles, m.(map[string]any)["role"].(string))
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
}

func TestOpenAIAdapterSurfacesStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	a, err := NewOpenAIAdapter(Config{APIKey: "sk-bad", BaseURL: srv.URL + "/v1/", MaxRetries: 0})
	require.NoError(t, err)

	_, err = a.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
}

func TestNewOpenAIAdapterRequiresKey(t *testing.T) {
	_, err := NewOpenAIAdapter(Config{APIKey: "  "})
	assert.Error(t, err)
}

func TestStatusCodeOfPlainError(t *testing.T) {
	assert.Equal(t, 0, StatusCode(context.Canceled))
}

func TestNewAdapterReusesSharedClient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	}))
	defer srv.Close()

	client := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	// The adapter must use the shared client's base URL, not its own.
	a, err := NewAdapter(Config{Mode: "openai", APIKey: "sk-test", BaseURL: "http://127.0.0.1:1/v1/", Client: &client})
	require.NoError(t, err)
	assert.Equal(t, "openai", Name(a))

	resp, err := a.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "Nice to meet you!", resp.Text)
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewAdapterMockFallbackAnswersWhenOpenAIFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	a, err := NewAdapter(Config{Mode: "auto", APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Fallback: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "openai+mock", Name(a))

	resp, err := a.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hello"}}})
	require.NoError(t, err)
	assert.Equal(t, mockModel, resp.Model)
	assert.Contains(t, resp.Text, "I heard you: hello")
}

func TestNewAdapterFallbackSettings(t *testing.T) {
	a, err := NewAdapter(Config{Mode: "mock", Fallback: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "mock", Name(a))

	_, err = NewAdapter(Config{Mode: "openai", APIKey: "sk-test", Fallback: "anthropic"})
	assert.Error(t, err)
}
