// Package httpapi exposes the tutoring pipeline, artifact downloads and
// conversation sessions over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/lingotalk/internal/artifact"
	"github.com/ent0n29/lingotalk/internal/config"
	"github.com/ent0n29/lingotalk/internal/memory"
	"github.com/ent0n29/lingotalk/internal/observability"
	"github.com/ent0n29/lingotalk/internal/session"
	"github.com/ent0n29/lingotalk/internal/tutor"
	"github.com/ent0n29/lingotalk/internal/voice"
)

// Tutor is the pipeline the handlers drive.
type Tutor interface {
	Chat(ctx context.Context, req tutor.ChatRequest) (tutor.ChatResult, error)
	Transcribe(ctx context.Context, audioPath, language string) (voice.Transcript, error)
	TranscribeAndChat(ctx context.Context, audioPath string, req tutor.ChatRequest) (tutor.ChatResult, error)
	Speak(ctx context.Context, text, language string) (string, error)
	ChatAndSpeak(ctx context.Context, req tutor.ChatRequest) (tutor.ChatResult, error)
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Deps are the collaborators a Server routes to. Memory and Metrics are
// optional.
type Deps struct {
	Config    config.Config
	Sessions  *session.Manager
	Tutor     Tutor
	Artifacts *artifact.Store
	Memory    memory.Store
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
	// Backends is reported by /healthz.
	Backends map[string]string
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	tutor     Tutor
	artifacts *artifact.Store
	memory    memory.Store
	metrics   *observability.Metrics
	logger    zerolog.Logger
	backends  map[string]string
	upgrader  websocket.Upgrader
}

func New(deps Deps) *Server {
	cfg := deps.Config
	return &Server{
		cfg:       cfg,
		sessions:  deps.Sessions,
		tutor:     deps.Tutor,
		artifacts: deps.Artifacts,
		memory:    deps.Memory,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		backends:  deps.Backends,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a session unless
				// explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/stt/{lang}", s.handleSTT)
	r.Post("/tts/{lang}", s.handleTTS)
	r.Post("/chat/{lang}", s.chatHandler(tutor.ModeSimple))
	r.Post("/chat-extended/{lang}", s.chatHandler(tutor.ModeExtended))
	r.Post("/chat-conversation/{lang}", s.handleChatConversation)
	r.Post("/chat-tts/{lang}", s.handleChatTTS)
	r.Post("/stt-chat/{lang}", s.sttChatHandler(tutor.ModeSimple))
	r.Post("/stt-chat-extended/{lang}", s.sttChatHandler(tutor.ModeExtended))
	r.Post("/stt-chat-conversation/{lang}", s.sttChatHandler(tutor.ModeConversation))

	r.Get("/audio/{filename}", s.handleAudio)
	r.Post("/cleanup", s.handleCleanup)
	r.Post("/cleanup/temp", s.handleCleanupTemp)
	r.Post("/translation/translate", s.handleTranslate)

	r.Post("/v1/conversation/session", s.handleCreateSession)
	r.Post("/v1/conversation/session/{id}/end", s.handleEndSession)
	r.Get("/v1/conversation/ws", s.handleSessionWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"backends":    s.backends,
		"memory_mode": s.memoryMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.memory != nil {
		if err := s.memory.Ping(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "memory_unavailable", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"memory_mode": s.memoryMode(),
		"temp_dir":    s.artifacts.Dir(),
	})
}

// handlePerfLatency reports rolling per-stage latency percentiles.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"backends": s.backends,
		"stages":   s.metrics.SnapshotStages(),
	})
}

func (s *Server) memoryMode() string {
	if s.memory == nil {
		return "disabled"
	}
	return memory.Mode(s.memory)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	lang, ok := parseLanguage(req.Language)
	if !ok {
		respondError(w, http.StatusBadRequest, "unsupported_language", "language must be english or japanese")
		return
	}
	mode, ok := tutor.ParseMode(req.Mode)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_mode", "mode must be simple, extended or conversation")
		return
	}
	if req.Mode == "" {
		mode = tutor.ModeConversation
	}

	sess := s.sessions.Create(req.UserID, string(lang), string(mode))
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		Language:        sess.Language,
		Mode:            sess.Mode,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	respondJSON(w, http.StatusOK, sess)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
