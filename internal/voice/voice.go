// Package voice provides speech-to-text and text-to-speech backends that
// operate on audio files.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// UnknownLanguage is reported when neither the caller nor the backend
// supplied a language.
const UnknownLanguage = "unknown"

// Transcript is the result of one transcription.
type Transcript struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Transcriber converts an audio file to text. An empty language requests
// auto-detection.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (Transcript, error)
}

// Synthesizer renders text as audio into w and reports the container format.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string, w io.Writer) (string, error)
}

// ErrEmptyAudio is returned for zero-length uploads.
var ErrEmptyAudio = errors.New("voice: empty audio")

// resolveLanguage applies the reporting rule: requested, then detected,
// then unknown.
func resolveLanguage(requested, detected string) string {
	if requested = strings.TrimSpace(requested); requested != "" {
		return requested
	}
	if detected = strings.TrimSpace(detected); detected != "" {
		return detected
	}
	return UnknownLanguage
}

// Config selects and configures the speech backends.
type Config struct {
	Provider string // auto|openai|local|mock

	OpenAISTTModel   string
	OpenAITTSModel   string
	OpenAITTSVoiceEN string
	OpenAITTSVoiceJA string

	Local LocalConfig
}

// Providers is the resolved STT/TTS pair.
type Providers struct {
	Transcriber Transcriber
	Synthesizer Synthesizer
	STTBackend  string
	TTSBackend  string
}

// NewProviders wires backends for cfg.Provider. openai may be nil when no
// API key is configured.
func NewProviders(cfg Config, openai *OpenAIProvider) (Providers, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "auto"
	}
	mock := NewMockProvider()

	switch mode {
	case "mock":
		return Providers{Transcriber: mock, Synthesizer: mock, STTBackend: "mock", TTSBackend: "mock"}, nil
	case "openai":
		if openai == nil {
			return Providers{}, errors.New("OPENAI_API_KEY is required for VOICE_PROVIDER=openai")
		}
		return Providers{Transcriber: openai, Synthesizer: openai, STTBackend: "openai", TTSBackend: "openai"}, nil
	case "local":
		local, err := NewWhisperCPP(cfg.Local)
		if err != nil {
			return Providers{}, fmt.Errorf("local whisper: %w", err)
		}
		var synth Synthesizer = mock
		ttsBackend := "mock"
		if openai != nil {
			synth, ttsBackend = openai, "openai"
		}
		return Providers{Transcriber: local, Synthesizer: synth, STTBackend: "whisper.cpp", TTSBackend: ttsBackend}, nil
	case "auto":
		if openai == nil {
			return Providers{Transcriber: mock, Synthesizer: mock, STTBackend: "mock", TTSBackend: "mock"}, nil
		}
		// Prefer the hosted transcriber, with local whisper.cpp as a sticky
		// fallback when it is installed.
		var stt Transcriber = openai
		sttBackend := "openai"
		if local, err := NewWhisperCPP(cfg.Local); err == nil {
			stt = NewFailoverTranscriber(openai, local)
			sttBackend = "openai+whisper.cpp"
		}
		return Providers{Transcriber: stt, Synthesizer: openai, STTBackend: sttBackend, TTSBackend: "openai"}, nil
	default:
		return Providers{}, fmt.Errorf("unsupported voice provider %q", cfg.Provider)
	}
}
