// Package tutor runs the language-tutoring pipeline: transcription, chat
// completion, reply segmentation and speech synthesis.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ent0n29/lingotalk/internal/artifact"
	"github.com/ent0n29/lingotalk/internal/llm"
	"github.com/ent0n29/lingotalk/internal/logging"
	"github.com/ent0n29/lingotalk/internal/memory"
	"github.com/ent0n29/lingotalk/internal/observability"
	"github.com/ent0n29/lingotalk/internal/policy"
	"github.com/ent0n29/lingotalk/internal/segment"
	"github.com/ent0n29/lingotalk/internal/voice"
)

// ErrEmptyText is returned when there is nothing to send to the model or
// to synthesize.
var ErrEmptyText = errors.New("tutor: empty text")

const translationTemperature = 0.3

// Deps are the collaborators a Service is built from. Memory and Metrics
// are optional.
type Deps struct {
	LLM         llm.Adapter
	Transcriber voice.Transcriber
	Synthesizer voice.Synthesizer
	Artifacts   *artifact.Store
	Memory      memory.Store
	Metrics     *observability.Metrics
}

// Options tune completion requests and history handling.
type Options struct {
	MaxTokens          int
	Temperature        float64
	HistoryTokenBudget int
	HistoryLimit       int
	// CountTokens sizes history entries; defaults to llm.CountTokens.
	CountTokens func(string) int

	LLMBackend string
	STTBackend string
	TTSBackend string
}

type Service struct {
	deps Deps
	opts Options
}

func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.LLM == nil {
		return nil, errors.New("tutor: llm adapter is required")
	}
	if deps.Transcriber == nil || deps.Synthesizer == nil {
		return nil, errors.New("tutor: speech providers are required")
	}
	if deps.Artifacts == nil {
		return nil, errors.New("tutor: artifact store is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1000
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	if opts.CountTokens == nil {
		opts.CountTokens = llm.CountTokens
	}
	for _, b := range []*string{&opts.LLMBackend, &opts.STTBackend, &opts.TTSBackend} {
		if *b == "" {
			*b = "unknown"
		}
	}
	return &Service{deps: deps, opts: opts}, nil
}

// ChatRequest is one learner message.
type ChatRequest struct {
	Text     string
	Language segment.Language
	Mode     Mode
	// History is prior turns, oldest first. When empty and SessionID is set
	// the stored history for that session is used instead.
	History   []llm.Message
	SessionID string
	UserID    string
}

// ChatResult is a segmented tutor reply.
type ChatResult struct {
	InputText        string
	Conversation     string
	Vocabulary       string
	ExampleResponses string
	FullResponse     string
	Model            string
	Usage            *llm.Usage
	AudioFile        string
}

func (s *Service) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return ChatResult{}, ErrEmptyText
	}
	if req.Mode == "" {
		req.Mode = ModeSimple
	}
	logger := logging.FromContext(ctx)

	history := req.History
	if len(history) == 0 && req.SessionID != "" && s.deps.Memory != nil {
		loaded, err := s.loadHistory(ctx, req.SessionID)
		if err != nil {
			logger.Warn().Err(err).Str("session_id", req.SessionID).Msg("load conversation history")
		}
		history = loaded
	}
	history = llm.TrimHistory(sanitizeHistory(history), s.opts.HistoryTokenBudget, s.opts.CountTokens)

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	start := time.Now()
	resp, err := s.deps.LLM.Complete(ctx, llm.Request{
		System:      SystemPrompt(req.Language, req.Mode),
		Messages:    messages,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
		User:        req.UserID,
	})
	s.deps.Metrics.ObserveStage(observability.StageComplete, time.Since(start))
	if err != nil {
		s.deps.Metrics.ObserveProviderError(observability.StageComplete, s.opts.LLMBackend)
		return ChatResult{}, fmt.Errorf("chat completion: %w", err)
	}

	seg := segment.Segment(resp.Text, req.Language, req.Mode.segmentMode())
	s.deps.Metrics.ObserveSegment(string(req.Language), segmentOutcome(seg, req.Mode))

	logger.Debug().
		Str("language", req.Language.RouteName()).
		Str("mode", string(req.Mode)).
		Str("model", resp.Model).
		Int("history_turns", len(history)).
		Msg("chat completed")

	if req.SessionID != "" && s.deps.Memory != nil {
		s.saveTurns(ctx, req, text, resp.Text)
	}

	return ChatResult{
		Conversation:     seg.Conversation,
		Vocabulary:       seg.Vocabulary,
		ExampleResponses: seg.ExampleResponses,
		FullResponse:     resp.Text,
		Model:            resp.Model,
		Usage:            resp.Usage,
	}, nil
}

// Transcribe converts the audio at audioPath to text. language may be empty
// for auto-detection.
func (s *Service) Transcribe(ctx context.Context, audioPath, language string) (voice.Transcript, error) {
	start := time.Now()
	out, err := s.deps.Transcriber.Transcribe(ctx, audioPath, language)
	s.deps.Metrics.ObserveStage(observability.StageTranscribe, time.Since(start))
	if err != nil {
		if !errors.Is(err, voice.ErrEmptyAudio) {
			s.deps.Metrics.ObserveProviderError(observability.StageTranscribe, s.opts.STTBackend)
		}
		return voice.Transcript{}, fmt.Errorf("transcribe: %w", err)
	}
	return out, nil
}

// TranscribeAndChat transcribes audio in the request language and chats with
// the recognized text.
func (s *Service) TranscribeAndChat(ctx context.Context, audioPath string, req ChatRequest) (ChatResult, error) {
	transcript, err := s.Transcribe(ctx, audioPath, string(req.Language))
	if err != nil {
		return ChatResult{}, err
	}
	req.Text = transcript.Text
	res, err := s.Chat(ctx, req)
	if err != nil {
		return ChatResult{}, err
	}
	res.InputText = transcript.Text
	return res, nil
}

// Speak synthesizes text into a new artifact and returns its path. The
// partial artifact is removed when synthesis fails.
func (s *Service) Speak(ctx context.Context, text, language string) (string, error) {
	prepared := voice.PrepareSpeechText(text, language)
	if prepared == "" {
		return "", ErrEmptyText
	}

	f, err := s.deps.Artifacts.Create(".wav")
	if err != nil {
		return "", fmt.Errorf("create speech artifact: %w", err)
	}
	path := f.Name()

	start := time.Now()
	_, synthErr := s.deps.Synthesizer.Synthesize(ctx, prepared, language, f)
	closeErr := f.Close()
	s.deps.Metrics.ObserveStage(observability.StageSynthesize, time.Since(start))
	if synthErr == nil {
		synthErr = closeErr
	}
	if synthErr != nil {
		s.deps.Artifacts.Delete(path)
		s.deps.Metrics.ObserveProviderError(observability.StageSynthesize, s.opts.TTSBackend)
		return "", fmt.Errorf("synthesize: %w", synthErr)
	}
	return path, nil
}

// ChatAndSpeak chats, then speaks the conversation section. AudioFile is the
// artifact basename, fetchable once via the audio route.
func (s *Service) ChatAndSpeak(ctx context.Context, req ChatRequest) (ChatResult, error) {
	res, err := s.Chat(ctx, req)
	if err != nil {
		return ChatResult{}, err
	}
	path, err := s.Speak(ctx, res.Conversation, string(req.Language))
	if err != nil {
		return ChatResult{}, err
	}
	res.AudioFile = filepath.Base(path)
	return res, nil
}

// Translate renders text from source to target language.
func (s *Service) Translate(ctx context.Context, text, source, target string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	start := time.Now()
	resp, err := s.deps.LLM.Complete(ctx, llm.Request{
		System:      TranslationPrompt(source, target),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: text}},
		MaxTokens:   s.opts.MaxTokens,
		Temperature: translationTemperature,
	})
	s.deps.Metrics.ObserveStage(observability.StageComplete, time.Since(start))
	if err != nil {
		s.deps.Metrics.ObserveProviderError(observability.StageComplete, s.opts.LLMBackend)
		return "", fmt.Errorf("translate: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (s *Service) loadHistory(ctx context.Context, sessionID string) ([]llm.Message, error) {
	turns, err := s.deps.Memory.RecentTurns(ctx, sessionID, s.opts.HistoryLimit)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, llm.Message{Role: t.Role, Content: t.Content})
	}
	return out, nil
}

func (s *Service) saveTurns(ctx context.Context, req ChatRequest, userText, reply string) {
	logger := logging.FromContext(ctx)
	now := time.Now().UTC()
	for i, turn := range []struct{ role, content string }{
		{memory.RoleUser, userText},
		{memory.RoleAssistant, reply},
	} {
		content, redacted := policy.RedactPII(turn.content)
		err := s.deps.Memory.SaveTurn(ctx, memory.TurnRecord{
			SessionID:   req.SessionID,
			UserID:      req.UserID,
			Language:    string(req.Language),
			Role:        turn.role,
			Content:     content,
			PIIRedacted: redacted,
			CreatedAt:   now.Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			logger.Warn().Err(err).Str("session_id", req.SessionID).Str("role", turn.role).Msg("save conversation turn")
			return
		}
	}
}

// sanitizeHistory drops entries with unknown roles or no content.
func sanitizeHistory(in []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(in))
	for _, m := range in {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != llm.RoleUser && role != llm.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

func segmentOutcome(r segment.Result, mode Mode) string {
	switch {
	case r.Vocabulary == "" && r.ExampleResponses == "":
		return "conversation_only"
	case mode != ModeSimple && r.ExampleResponses == "":
		return "partial"
	case mode != ModeSimple && r.Vocabulary == "":
		return "partial"
	default:
		return "complete"
	}
}
