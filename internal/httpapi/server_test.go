package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/lingotalk/internal/artifact"
	"github.com/ent0n29/lingotalk/internal/config"
	"github.com/ent0n29/lingotalk/internal/llm"
	"github.com/ent0n29/lingotalk/internal/memory"
	"github.com/ent0n29/lingotalk/internal/observability"
	"github.com/ent0n29/lingotalk/internal/session"
	"github.com/ent0n29/lingotalk/internal/tutor"
	"github.com/ent0n29/lingotalk/internal/voice"
)

var metricsSeq atomic.Int64

type testEnv struct {
	ts        *httptest.Server
	artifacts *artifact.Store
	sessions  *session.Manager
	memory    memory.Store
}

func newTestEnv(t *testing.T, adapter llm.Adapter) *testEnv {
	t.Helper()
	if adapter == nil {
		adapter = llm.NewMockAdapter()
	}
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		MaxUploadBytes:           1 << 20,
		TempFilesLifetime:        time.Hour,
	}
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d_%d", time.Now().UnixNano(), metricsSeq.Add(1)))

	store, err := artifact.New(filepath.Join(t.TempDir(), "temp"))
	require.NoError(t, err)
	mem := memory.NewInMemoryStore(0)
	mock := voice.NewMockProvider()
	svc, err := tutor.NewService(tutor.Deps{
		LLM:         adapter,
		Transcriber: mock,
		Synthesizer: mock,
		Artifacts:   store,
		Memory:      mem,
		Metrics:     metrics,
	}, tutor.Options{CountTokens: func(s string) int { return len(s) }})
	require.NoError(t, err)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	srv := New(Deps{
		Config:    cfg,
		Sessions:  sessions,
		Tutor:     svc,
		Artifacts: store,
		Memory:    mem,
		Metrics:   metrics,
		Logger:    zerolog.Nop(),
		Backends:  map[string]string{"llm": "mock", "stt": "mock", "tts": "mock"},
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, artifacts: store, sessions: sessions, memory: mem}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(e.ts.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer res.Body.Close()
	var payload map[string]any
	_ = json.NewDecoder(res.Body).Decode(&payload)
	return res, payload
}

func (e *testEnv) postFile(t *testing.T, path string, content []byte, fields map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if content != nil {
		fw, err := mw.CreateFormFile("file", "speech.wav")
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	res, err := http.Post(e.ts.URL+path, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer res.Body.Close()
	var payload map[string]any
	_ = json.NewDecoder(res.Body).Decode(&payload)
	return res, payload
}

func (e *testEnv) artifactCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(e.artifacts.Dir())
	require.NoError(t, err)
	return len(entries)
}

type failingAdapter struct{}

func (failingAdapter) Complete(_ context.Context, _ llm.Request) (llm.Response, error) {
	return llm.Response{}, errors.New("model unavailable")
}

func TestCreateAndEndSession(t *testing.T) {
	env := newTestEnv(t, nil)

	res, created := env.postJSON(t, "/v1/conversation/session", map[string]string{
		"user_id":  "user-1",
		"language": "japanese",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	assert.Equal(t, "ja", created["language"])
	assert.Equal(t, "conversation", created["mode"])

	endRes, ended := env.postJSON(t, "/v1/conversation/session/"+sessionID+"/end", nil)
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}
	assert.Equal(t, "ended", ended["status"])

	missing, _ := env.postJSON(t, "/v1/conversation/session/nope/end", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestCreateSessionRejectsUnknownLanguage(t *testing.T) {
	env := newTestEnv(t, nil)
	res, payload := env.postJSON(t, "/v1/conversation/session", map[string]string{"language": "klingon"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "unsupported_language", payload["code"])
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, nil)

	res, err := http.Get(env.ts.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var health map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&health))
	assert.Equal(t, "in-memory", health["memory_mode"])

	ready, err := http.Get(env.ts.URL + "/readyz")
	require.NoError(t, err)
	defer ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)
	assert.NotEmpty(t, ready.Header.Get(requestIDHeader))
}

func TestChatSimpleSegmentsReply(t *testing.T) {
	env := newTestEnv(t, nil)

	res, payload := env.postJSON(t, "/chat/en", map[string]string{"text": "hello there"})
	require.Equal(t, http.StatusOK, res.StatusCode, "payload: %+v", payload)
	assert.Equal(t, "I heard you: hello there", payload["conversation"])
	assert.Contains(t, payload["vocabulary"], "heard")
	assert.Contains(t, payload["full_response"], "VOCABULARY_SECTION:")
	assert.Equal(t, "mock-tutor", payload["model"])
	_, hasExamples := payload["example_responses"]
	assert.False(t, hasExamples, "simple mode must not report example_responses")
	usage, ok := payload["usage"].(map[string]any)
	require.True(t, ok, "usage = %v", payload["usage"])
	assert.Contains(t, usage, "total_tokens")
}

func TestChatExtendedIncludesExamples(t *testing.T) {
	env := newTestEnv(t, nil)

	res, payload := env.postJSON(t, "/chat-extended/ja", map[string]string{"text": "こんにちは"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "I heard you: こんにちは", payload["conversation"])
	assert.Contains(t, payload["example_responses"], "Thanks for listening.")
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	res, payload := env.postJSON(t, "/chat/en", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.NotEmpty(t, payload["error"])

	res, _ = env.postJSON(t, "/chat/en", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, payload = env.postJSON(t, "/chat/fr", map[string]string{"text": "bonjour"})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "unsupported_language", payload["code"])
}

func TestChatUpstreamFailureIs500(t *testing.T) {
	env := newTestEnv(t, failingAdapter{})
	res, payload := env.postJSON(t, "/chat/en", map[string]string{"text": "hello"})
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "upstream_error", payload["code"])
	assert.Contains(t, payload["error"], "model unavailable")
}

func TestChatConversationToleratesBadHistory(t *testing.T) {
	env := newTestEnv(t, nil)

	res, payload := env.postJSON(t, "/chat-conversation/en", map[string]any{
		"text":    "and you?",
		"history": "not-a-list",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "I heard you: and you?", payload["conversation"])
	assert.Contains(t, payload, "example_responses")

	res, _ = env.postJSON(t, "/chat-conversation/en", map[string]any{
		"text": "second",
		"history": []map[string]string{
			{"role": "user", "content": "first"},
			{"role": "assistant", "content": "hi"},
		},
	})
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestSTTReportsRequestedLanguage(t *testing.T) {
	env := newTestEnv(t, nil)

	res, payload := env.postFile(t, "/stt/en", []byte("RIFFfake"), nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "simulated voice input", payload["text"])
	assert.Equal(t, "en", payload["language"])
	assert.Zero(t, env.artifactCount(t), "upload must be removed after the request")
}

func TestSTTMissingFile(t *testing.T) {
	env := newTestEnv(t, nil)

	res, payload := env.postFile(t, "/stt/en", nil, map[string]string{"note": "x"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "missing_file", payload["code"])
}

func TestSTTEmptyAudioIs400(t *testing.T) {
	env := newTestEnv(t, nil)

	res, payload := env.postFile(t, "/stt/en", []byte{}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "empty_audio", payload["code"])
}

func TestSTTUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, nil)

	res, payload := env.postFile(t, "/stt/en", bytes.Repeat([]byte{1}, 1<<20+64<<10), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
	assert.Equal(t, "upload_too_large", payload["code"])
}

func TestSTTChatConversationCarriesInputText(t *testing.T) {
	env := newTestEnv(t, nil)

	res, payload := env.postFile(t, "/stt-chat-conversation/en", []byte("RIFFfake"), map[string]string{
		"history":    "{broken",
		"session_id": "s-1",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "simulated voice input", payload["input_text"])
	assert.Equal(t, "I heard you: simulated voice input", payload["conversation"])
	assert.Contains(t, payload, "example_responses")

	turns, err := env.memory.RecentTurns(context.Background(), "s-1", 10)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestTTSServesAudioOnce(t *testing.T) {
	env := newTestEnv(t, nil)

	raw, _ := json.Marshal(map[string]string{"text": "hi"})
	res, err := http.Post(env.ts.URL+"/tts/ja", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "audio/wav", res.Header.Get("Content-Type"))
	assert.Contains(t, res.Header.Get("Content-Disposition"), "output_ja.wav")
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("RIFF")))
	assert.Zero(t, env.artifactCount(t))
}

func TestChatTTSThenFetchAudio(t *testing.T) {
	env := newTestEnv(t, nil)

	res, payload := env.postJSON(t, "/chat-tts/en", map[string]string{"text": "good morning"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	name, _ := payload["audio_file"].(string)
	require.NotEmpty(t, name)
	assert.False(t, strings.Contains(name, "/"), "audio_file must be a basename")

	audio, err := http.Get(env.ts.URL + "/audio/" + name)
	require.NoError(t, err)
	audio.Body.Close()
	assert.Equal(t, http.StatusOK, audio.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/audio/"+name, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-3")
	ranged, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	head, err := io.ReadAll(ranged.Body)
	ranged.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, ranged.StatusCode)
	assert.Equal(t, "RIFF", string(head))

	_, payload = env.postJSON(t, "/cleanup", map[string]string{"filename": name})
	assert.Equal(t, true, payload["success"])

	gone, err := http.Get(env.ts.URL + "/audio/" + name)
	require.NoError(t, err)
	gone.Body.Close()
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
}

func TestCleanupRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	path, err := env.artifacts.Write(strings.NewReader("x"), ".wav")
	require.NoError(t, err)

	_, payload := env.postJSON(t, "/cleanup", map[string]string{"filename": "../" + filepath.Base(path)})
	assert.Equal(t, true, payload["success"])

	_, payload = env.postJSON(t, "/cleanup", map[string]string{"filename": filepath.Base(path)})
	assert.Equal(t, false, payload["success"])

	_, payload = env.postJSON(t, "/cleanup", map[string]string{})
	assert.Equal(t, false, payload["success"])

	stale, err := env.artifacts.Write(strings.NewReader("x"), ".wav")
	require.NoError(t, err)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	_, err = env.artifacts.Write(strings.NewReader("y"), ".wav")
	require.NoError(t, err)

	_, payload = env.postJSON(t, "/cleanup/temp", nil)
	assert.Equal(t, true, payload["success"])
	assert.EqualValues(t, 1, payload["deleted_files"])
	assert.Equal(t, 1, env.artifactCount(t))
}

func TestTranslateDefaults(t *testing.T) {
	env := newTestEnv(t, nil)

	res, payload := env.postJSON(t, "/translation/translate", map[string]string{"text": "안녕하세요"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ko", payload["source_language"])
	assert.Equal(t, "en", payload["target_language"])
	assert.Equal(t, "안녕하세요", payload["original_text"])
	assert.NotEmpty(t, payload["translated_text"])

	res, payload = env.postJSON(t, "/translation/translate", map[string]string{"source_language": "en"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.NotEmpty(t, payload["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.postJSON(t, "/chat/en", map[string]string{"text": "hello"})

	res, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	perf, err := http.Get(env.ts.URL + "/v1/perf/latency")
	require.NoError(t, err)
	defer perf.Body.Close()
	assert.Equal(t, http.StatusOK, perf.StatusCode)
}

func TestParseHistory(t *testing.T) {
	assert.Nil(t, parseHistory(nil))
	assert.Nil(t, parseHistory(json.RawMessage(`{"role":"user"}`)))
	got := parseHistory(json.RawMessage(`[{"role":"user","content":"hi"}]`))
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Content)
}

func TestUploadSuffix(t *testing.T) {
	assert.Equal(t, ".mp3", uploadSuffix("clip.MP3"))
	assert.Equal(t, ".wav", uploadSuffix("noext"))
	assert.Equal(t, ".wav", uploadSuffix("weird.../x"))
	assert.Equal(t, ".wav", uploadSuffix("a.toolongext"))
}
