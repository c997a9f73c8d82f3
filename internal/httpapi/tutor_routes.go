package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/lingotalk/internal/artifact"
	"github.com/ent0n29/lingotalk/internal/llm"
	"github.com/ent0n29/lingotalk/internal/logging"
	"github.com/ent0n29/lingotalk/internal/segment"
	"github.com/ent0n29/lingotalk/internal/tutor"
	"github.com/ent0n29/lingotalk/internal/voice"
)

const (
	defaultSourceLanguage = "ko"
	defaultTargetLanguage = "en"
	multipartMemory       = 8 << 20
)

var uploadSuffixPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,5}$`)

type textRequest struct {
	Text *string `json:"text"`
}

type conversationRequest struct {
	Text      *string         `json:"text"`
	History   json.RawMessage `json:"history"`
	SessionID string          `json:"session_id"`
}

type translateRequest struct {
	Text           *string `json:"text"`
	SourceLanguage string  `json:"source_language"`
	TargetLanguage string  `json:"target_language"`
}

type cleanupRequest struct {
	Filename string `json:"filename"`
}

type usagePayload struct {
	TotalTokens int64 `json:"total_tokens"`
}

type chatResponse struct {
	InputText        *string       `json:"input_text,omitempty"`
	Conversation     string        `json:"conversation"`
	Vocabulary       string        `json:"vocabulary"`
	ExampleResponses *string       `json:"example_responses,omitempty"`
	FullResponse     string        `json:"full_response"`
	Model            string        `json:"model"`
	Usage            *usagePayload `json:"usage"`
	AudioFile        string        `json:"audio_file,omitempty"`
}

func newChatResponse(res tutor.ChatResult, mode tutor.Mode, withInput bool) chatResponse {
	out := chatResponse{
		Conversation: res.Conversation,
		Vocabulary:   res.Vocabulary,
		FullResponse: res.FullResponse,
		Model:        res.Model,
		AudioFile:    res.AudioFile,
	}
	if mode != tutor.ModeSimple {
		examples := res.ExampleResponses
		out.ExampleResponses = &examples
	}
	if withInput {
		input := res.InputText
		out.InputText = &input
	}
	if res.Usage != nil && res.Usage.TotalTokens > 0 {
		out.Usage = &usagePayload{TotalTokens: res.Usage.TotalTokens}
	}
	return out
}

// parseLanguage defaults an empty value to English.
func parseLanguage(raw string) (segment.Language, bool) {
	if strings.TrimSpace(raw) == "" {
		return segment.English, true
	}
	return segment.ParseLanguage(raw)
}

func (s *Server) routeLanguage(w http.ResponseWriter, r *http.Request) (segment.Language, bool) {
	raw := chi.URLParam(r, "lang")
	lang, ok := segment.ParseLanguage(raw)
	if !ok {
		respondError(w, http.StatusNotFound, "unsupported_language", "unsupported language: "+raw)
		return "", false
	}
	return lang, true
}

// readText decodes a {"text": ...} body and rejects a missing or blank text.
func readText(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil || req.Text == nil {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return "", false
	}
	if strings.TrimSpace(*req.Text) == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text must not be empty")
		return "", false
	}
	return *req.Text, true
}

func (s *Server) chatHandler(mode tutor.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lang, ok := s.routeLanguage(w, r)
		if !ok {
			return
		}
		text, ok := readText(w, r)
		if !ok {
			return
		}
		res, err := s.tutor.Chat(r.Context(), tutor.ChatRequest{Text: text, Language: lang, Mode: mode})
		if err != nil {
			s.respondTutorError(w, r, "chat", err)
			return
		}
		respondJSON(w, http.StatusOK, newChatResponse(res, mode, false))
	}
}

func (s *Server) handleChatConversation(w http.ResponseWriter, r *http.Request) {
	lang, ok := s.routeLanguage(w, r)
	if !ok {
		return
	}
	var req conversationRequest
	if err := decodeJSON(r, &req); err != nil || req.Text == nil {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}
	res, err := s.tutor.Chat(r.Context(), tutor.ChatRequest{
		Text:      *req.Text,
		Language:  lang,
		Mode:      tutor.ModeConversation,
		History:   parseHistory(req.History),
		SessionID: strings.TrimSpace(req.SessionID),
	})
	if err != nil {
		s.respondTutorError(w, r, "chat", err)
		return
	}
	respondJSON(w, http.StatusOK, newChatResponse(res, tutor.ModeConversation, false))
}

func (s *Server) handleChatTTS(w http.ResponseWriter, r *http.Request) {
	lang, ok := s.routeLanguage(w, r)
	if !ok {
		return
	}
	text, ok := readText(w, r)
	if !ok {
		return
	}
	res, err := s.tutor.ChatAndSpeak(r.Context(), tutor.ChatRequest{Text: text, Language: lang, Mode: tutor.ModeSimple})
	if err != nil {
		s.respondTutorError(w, r, "chat-tts", err)
		return
	}
	respondJSON(w, http.StatusOK, newChatResponse(res, tutor.ModeSimple, false))
}

func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	lang, ok := s.routeLanguage(w, r)
	if !ok {
		return
	}
	path, done, ok := s.receiveUpload(w, r)
	if !ok {
		return
	}
	defer done()

	out, err := s.tutor.Transcribe(r.Context(), path, string(lang))
	if err != nil {
		s.respondTutorError(w, r, "stt", err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) sttChatHandler(mode tutor.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lang, ok := s.routeLanguage(w, r)
		if !ok {
			return
		}
		path, done, ok := s.receiveUpload(w, r)
		if !ok {
			return
		}
		defer done()

		req := tutor.ChatRequest{Language: lang, Mode: mode}
		if mode == tutor.ModeConversation {
			req.History = parseHistory(json.RawMessage(r.FormValue("history")))
			req.SessionID = strings.TrimSpace(r.FormValue("session_id"))
		}
		res, err := s.tutor.TranscribeAndChat(r.Context(), path, req)
		if err != nil {
			s.respondTutorError(w, r, "stt-chat", err)
			return
		}
		respondJSON(w, http.StatusOK, newChatResponse(res, mode, true))
	}
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	lang, ok := s.routeLanguage(w, r)
	if !ok {
		return
	}
	text, ok := readText(w, r)
	if !ok {
		return
	}
	path, err := s.tutor.Speak(r.Context(), text, string(lang))
	if err != nil {
		s.respondTutorError(w, r, "tts", err)
		return
	}
	if err := s.artifacts.ServeAndDelete(w, r, path, "output_"+string(lang)+".wav"); err != nil {
		s.artifacts.Delete(path)
		respondError(w, http.StatusInternalServerError, "serve_failed", err.Error())
	}
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	path, err := s.artifacts.Resolve(chi.URLParam(r, "filename"))
	if err != nil {
		respondError(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	if err := s.artifacts.Serve(w, r, path, filepath.Base(path)); err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "file not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "serve_failed", err.Error())
	}
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	_ = decodeJSON(r, &req)
	if strings.TrimSpace(req.Filename) == "" {
		respondJSON(w, http.StatusOK, map[string]bool{"success": false})
		return
	}
	path, err := s.artifacts.Resolve(req.Filename)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]bool{"success": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": s.artifacts.Delete(path)})
}

func (s *Server) handleCleanupTemp(w http.ResponseWriter, _ *http.Request) {
	n := s.artifacts.Sweep(s.cfg.TempFilesLifetime)
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "deleted_files": n})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := decodeJSON(r, &req); err != nil || req.Text == nil {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}
	if strings.TrimSpace(*req.Text) == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text must not be empty")
		return
	}
	source := strings.TrimSpace(req.SourceLanguage)
	if source == "" {
		source = defaultSourceLanguage
	}
	target := strings.TrimSpace(req.TargetLanguage)
	if target == "" {
		target = defaultTargetLanguage
	}

	translated, err := s.tutor.Translate(r.Context(), *req.Text, source, target)
	if err != nil {
		s.respondTutorError(w, r, "translation", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"source_language": source,
		"target_language": target,
		"original_text":   *req.Text,
		"translated_text": translated,
	})
}

// receiveUpload stores the multipart "file" field as an artifact. done
// deletes it and any multipart spill files.
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request) (string, func(), bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "upload_too_large", "audio upload exceeds limit")
			return "", nil, false
		}
		respondError(w, http.StatusBadRequest, "missing_file", "file is required")
		return "", nil, false
	}
	removeForm := func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		removeForm()
		respondError(w, http.StatusBadRequest, "missing_file", "file is required")
		return "", nil, false
	}
	defer file.Close()

	path, err := s.artifacts.Write(file, uploadSuffix(header.Filename))
	if err != nil {
		removeForm()
		logging.FromContext(r.Context()).Error().Err(err).Msg("store upload")
		respondError(w, http.StatusInternalServerError, "upload_failed", "could not store upload")
		return "", nil, false
	}
	return path, func() {
		s.artifacts.Delete(path)
		removeForm()
	}, true
}

func uploadSuffix(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if uploadSuffixPattern.MatchString(ext) {
		return ext
	}
	return ".wav"
}

// parseHistory decodes a JSON array of {role, content}; anything invalid
// yields an empty history.
func parseHistory(raw json.RawMessage) []llm.Message {
	if len(raw) == 0 {
		return nil
	}
	var out []llm.Message
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func (s *Server) respondTutorError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logger := logging.FromContext(r.Context())
	switch {
	case errors.Is(err, tutor.ErrEmptyText):
		respondError(w, http.StatusBadRequest, "empty_text", op+": no text to process")
	case errors.Is(err, voice.ErrEmptyAudio):
		respondError(w, http.StatusBadRequest, "empty_audio", op+": uploaded audio is empty")
	case errors.Is(err, context.Canceled):
		logger.Info().Str("op", op).Msg("request canceled by client")
		respondError(w, http.StatusServiceUnavailable, "canceled", op+": request canceled")
	default:
		logger.Error().Err(err).Str("op", op).Msg("pipeline failed")
		respondError(w, http.StatusInternalServerError, "upstream_error", op+" failed: "+err.Error())
	}
}
