package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type transcriptionAPI interface {
	New(ctx context.Context, body openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error)
}

type speechAPI interface {
	New(ctx context.Context, body openai.AudioSpeechNewParams, opts ...option.RequestOption) (*http.Response, error)
}

// OpenAIProvider transcribes with the hosted Whisper model and synthesizes
// WAV speech with the hosted TTS model.
type OpenAIProvider struct {
	transcriptions transcriptionAPI
	speech         speechAPI

	sttModel string
	ttsModel string
	voices   map[string]string
}

func NewOpenAIProvider(client openai.Client, cfg Config) *OpenAIProvider {
	p := &OpenAIProvider{
		transcriptions: &client.Audio.Transcriptions,
		speech:         &client.Audio.Speech,
		sttModel:       firstNonEmpty(cfg.OpenAISTTModel, "whisper-1"),
		ttsModel:       firstNonEmpty(cfg.OpenAITTSModel, "tts-1"),
		voices: map[string]string{
			"en": firstNonEmpty(cfg.OpenAITTSVoiceEN, "alloy"),
			"ja": firstNonEmpty(cfg.OpenAITTSVoiceJA, "nova"),
		},
	}
	return p
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, audioPath, language string) (Transcript, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return Transcript{}, err
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		return Transcript{}, ErrEmptyAudio
	}

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(p.sttModel),
	}
	language = strings.TrimSpace(language)
	detect := language == "" && strings.HasPrefix(p.sttModel, "whisper")
	if language != "" {
		params.Language = openai.String(language)
	}
	if detect {
		params.ResponseFormat = openai.AudioResponseFormatVerboseJSON
	}

	res, err := p.transcriptions.New(ctx, params)
	if err != nil {
		return Transcript{}, fmt.Errorf("openai transcription: %w", err)
	}

	detected := ""
	if detect {
		var verbose struct {
			Language string `json:"language"`
		}
		if json.Unmarshal([]byte(res.RawJSON()), &verbose) == nil {
			detected = normalizeWhisperLanguage(verbose.Language)
		}
	}
	return Transcript{
		Text:     strings.TrimSpace(res.Text),
		Language: resolveLanguage(language, detected),
	}, nil
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, text, language string, w io.Writer) (string, error) {
	resp, err := p.speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(p.ttsModel),
		Voice:          openai.AudioSpeechNewParamsVoice(p.voiceFor(language)),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return "", fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("openai speech: read audio: %w", err)
	}
	return "wav", nil
}

// voiceFor falls back to the English voice for unknown languages.
func (p *OpenAIProvider) voiceFor(language string) string {
	if v, ok := p.voices[strings.ToLower(strings.TrimSpace(language))]; ok {
		return v
	}
	return p.voices["en"]
}

var whisperLanguageNames = map[string]string{
	"english":  "en",
	"japanese": "ja",
	"korean":   "ko",
	"chinese":  "zh",
}

// normalizeWhisperLanguage maps verbose_json language names to ISO codes.
func normalizeWhisperLanguage(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if code, ok := whisperLanguageNames[raw]; ok {
		return code
	}
	return raw
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
