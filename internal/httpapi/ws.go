package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/lingotalk/internal/llm"
	"github.com/ent0n29/lingotalk/internal/logging"
	"github.com/ent0n29/lingotalk/internal/protocol"
	"github.com/ent0n29/lingotalk/internal/reliability"
	"github.com/ent0n29/lingotalk/internal/session"
	"github.com/ent0n29/lingotalk/internal/tutor"
	"github.com/ent0n29/lingotalk/internal/voice"
)

const (
	wsReadLimit    = 8 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsQueueSize    = 64
)

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusConflict, "session_ended", "session is no longer active")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := logging.FromContext(r.Context()).With().Str("session_id", sessionID).Logger()
	s.sessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(logging.WithContext(r.Context(), logger))
	defer cancel()

	outbound := make(chan any, wsQueueSize)
	turns := make(chan protocol.ClientTurn, wsQueueSize)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					logger.Debug().Err(err).Msg("ws write failed")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.countWS("outbound", t)
				}
			}
		}
	}()

	send := func(msg any) {
		select {
		case <-ctx.Done():
		case outbound <- msg:
		}
	}

	// Turns run one at a time so replies keep the order of the utterances.
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		for turn := range turns {
			if ctx.Err() != nil {
				continue
			}
			send(s.runTurn(ctx, sessionID, turn))
		}
	}()

	send(protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sessionID,
		Code:      "session_ready",
		Detail:    sess.Language + "/" + sess.Mode,
	})

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			// The peer is gone; abandon any turn in flight.
			cancel()
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.countWS("inbound", t)
		}

		switch msg := parsed.(type) {
		case protocol.ClientTurn:
			if msg.SessionID != sessionID {
				send(mismatchEvent(sessionID))
				continue
			}
			select {
			case <-ctx.Done():
				break readLoop
			case turns <- msg:
			}
		case protocol.ClientControl:
			if msg.SessionID != sessionID {
				send(mismatchEvent(sessionID))
				continue
			}
			switch msg.Action {
			case protocol.ActionPing:
				_ = s.sessions.Touch(sessionID)
				send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "pong"})
			case protocol.ActionEnd:
				if _, err := s.sessions.End(sessionID); err == nil {
					s.sessionEvent("ended")
				}
				send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "session_ended"})
				break readLoop
			default:
				send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "unknown_action",
					Source:    "gateway",
					Detail:    "unsupported control action: " + msg.Action,
				})
			}
		}
	}

	close(turns)
	<-workerDone
	// Let queued replies drain before the connection closes.
	close(outbound)
	<-writerDone
	cancel()
	s.sessionEvent("ws_disconnected")
}

// runTurn answers one utterance and returns the message to send back.
func (s *Server) runTurn(ctx context.Context, sessionID string, turn protocol.ClientTurn) any {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return turnError(sessionID, "session_not_found", "gateway", false, err)
	}
	lang, ok := parseLanguage(firstNonEmpty(turn.Language, sess.Language))
	if !ok {
		return turnError(sessionID, "unsupported_language", "gateway", false, errors.New("language must be english or japanese"))
	}
	mode, ok := tutor.ParseMode(firstNonEmpty(turn.Mode, sess.Mode))
	if !ok {
		return turnError(sessionID, "invalid_mode", "gateway", false, errors.New("mode must be simple, extended or conversation"))
	}

	turnID := uuid.NewString()
	if err := s.sessions.StartTurn(sessionID, turnID); err != nil {
		return turnError(sessionID, "session_ended", "gateway", false, err)
	}
	defer s.sessions.FinishTurn(sessionID, turnID)

	req := tutor.ChatRequest{
		Text:      turn.Text,
		Language:  lang,
		Mode:      mode,
		SessionID: sessionID,
		UserID:    sess.UserID,
	}

	var res tutor.ChatResult
	if strings.TrimSpace(turn.Text) != "" {
		res, err = s.tutor.Chat(ctx, req)
		res.InputText = turn.Text
	} else {
		res, err = s.chatFromAudio(ctx, turn, req)
	}
	if err != nil {
		return s.pipelineError(ctx, sessionID, "chat", err)
	}

	if turn.Speak {
		path, err := s.tutor.Speak(ctx, res.Conversation, string(lang))
		if err != nil {
			return s.pipelineError(ctx, sessionID, "tts", err)
		}
		res.AudioFile = filepath.Base(path)
	}

	return protocol.TutorReply{
		Type:             protocol.TypeTutorReply,
		SessionID:        sessionID,
		TurnID:           turnID,
		InputText:        res.InputText,
		Conversation:     res.Conversation,
		Vocabulary:       res.Vocabulary,
		ExampleResponses: res.ExampleResponses,
		FullResponse:     res.FullResponse,
		Model:            res.Model,
		AudioFile:        res.AudioFile,
	}
}

func (s *Server) chatFromAudio(ctx context.Context, turn protocol.ClientTurn, req tutor.ChatRequest) (tutor.ChatResult, error) {
	raw, err := base64.StdEncoding.DecodeString(turn.AudioBase64)
	if err != nil {
		return tutor.ChatResult{}, errInvalidAudio
	}
	if len(raw) == 0 {
		return tutor.ChatResult{}, voice.ErrEmptyAudio
	}
	if int64(len(raw)) > s.cfg.MaxUploadBytes {
		return tutor.ChatResult{}, errAudioTooLarge
	}
	path, err := s.artifacts.Write(bytes.NewReader(raw), uploadSuffix("audio."+turn.AudioFormat))
	if err != nil {
		return tutor.ChatResult{}, err
	}
	defer s.artifacts.Delete(path)
	return s.tutor.TranscribeAndChat(ctx, path, req)
}

var (
	errInvalidAudio  = errors.New("audio_base64 is not valid base64")
	errAudioTooLarge = errors.New("audio payload exceeds limit")
)

func (s *Server) pipelineError(ctx context.Context, sessionID, source string, err error) protocol.ErrorEvent {
	switch {
	case errors.Is(err, errInvalidAudio):
		return turnError(sessionID, "invalid_audio", "gateway", false, err)
	case errors.Is(err, errAudioTooLarge):
		return turnError(sessionID, "audio_too_large", "gateway", false, err)
	case errors.Is(err, tutor.ErrEmptyText):
		return turnError(sessionID, "empty_text", source, false, err)
	case errors.Is(err, voice.ErrEmptyAudio):
		return turnError(sessionID, "empty_audio", source, false, err)
	}
	c := reliability.Classify(err, llm.StatusCode(err))
	logging.FromContext(ctx).Error().Err(err).Str("source", source).Str("class", c.Code).Msg("conversation turn failed")
	return turnError(sessionID, c.Code, source, c.Retryable, err)
}

func turnError(sessionID, code, source string, retryable bool, err error) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    err.Error(),
	}
}

func mismatchEvent(sessionID string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      "session_mismatch",
		Source:    "gateway",
		Detail:    "message session_id does not match the connection",
	}
}

func messageTypeOf(msg any) (protocol.MessageType, bool) {
	switch m := msg.(type) {
	case protocol.ClientTurn:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.TutorReply:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

func (s *Server) countWS(direction string, t protocol.MessageType) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}

func (s *Server) sessionEvent(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SessionEvents.WithLabelValues(event).Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
