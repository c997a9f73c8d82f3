package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/lingotalk/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		SessionInactivityTimeout: time.Minute,
		MetricsNamespace:         fmt.Sprintf("test_app_%d", time.Now().UnixNano()),
		MaxUploadBytes:           1 << 20,
		TempDir:                  filepath.Join(t.TempDir(), "temp"),
		TempFilesLifetime:        time.Hour,
		TempSweepSchedule:        "@every 1h",
		LLMProvider:              "auto",
		VoiceProvider:            "auto",
		ChatMaxTokens:            1000,
		ChatTemperature:          0.7,
		MemoryHistoryLimit:       20,
	}
}

func TestBuildWithoutKeyFallsBackToMock(t *testing.T) {
	res, err := Build(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer func() { require.NoError(t, res.Cleanup()) }()

	assert.Equal(t, "mock", res.Backends["llm"])
	assert.Equal(t, "mock", res.Backends["stt"])
	assert.Equal(t, "in-memory", res.Backends["memory"])

	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()

	body, _ := json.Marshal(map[string]string{"text": "hello"})
	httpRes, err := http.Post(ts.URL+"/chat/en", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer httpRes.Body.Close()
	assert.Equal(t, http.StatusOK, httpRes.StatusCode)
}

func TestBuildOpenAIModeRequiresKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLMProvider = "openai"
	_, err := Build(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestBuildRejectsBadSweepSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.TempSweepSchedule = "whenever"
	_, err := Build(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestBuildWithKeyUsesOpenAI(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenAIAPIKey = "sk-test"
	cfg.OpenAIBaseURL = "http://127.0.0.1:1/v1/"
	cfg.VoiceProvider = "openai"
	res, err := Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer res.Cleanup()

	assert.Equal(t, "openai", res.Backends["llm"])
	assert.Equal(t, "openai", res.Backends["stt"])
	assert.Equal(t, "openai", res.Backends["tts"])
}

func TestBuildWithMockFallbackAnswersWhenOpenAIUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenAIAPIKey = "sk-test"
	cfg.OpenAIBaseURL = "http://127.0.0.1:1/v1/"
	cfg.LLMFallback = "mock"
	res, err := Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer res.Cleanup()

	assert.Equal(t, "openai+mock", res.Backends["llm"])

	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()

	body, _ := json.Marshal(map[string]string{"text": "hello"})
	httpRes, err := http.Post(ts.URL+"/chat/en", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer httpRes.Body.Close()
	require.Equal(t, http.StatusOK, httpRes.StatusCode)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(httpRes.Body).Decode(&payload))
	assert.Contains(t, payload["conversation"], "I heard you: hello")
}

func TestBuildMockProviderIgnoresKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenAIAPIKey = "sk-test"
	cfg.LLMProvider = "mock"
	res, err := Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer res.Cleanup()

	assert.Equal(t, "mock", res.Backends["llm"])
}
