package voice

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ent0n29/lingotalk/internal/audio"
)

const (
	mockTranscript   = "simulated voice input"
	mockWordDuration = 100 * time.Millisecond
)

// MockProvider is the offline backend used when no speech service is
// configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Transcribe(ctx context.Context, audioPath, language string) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	info, err := os.Stat(audioPath)
	if err != nil {
		return Transcript{}, err
	}
	if info.Size() == 0 {
		return Transcript{}, ErrEmptyAudio
	}
	return Transcript{Text: mockTranscript, Language: resolveLanguage(language, "")}, nil
}

// Synthesize writes a silent mono clip whose length scales with the text.
func (p *MockProvider) Synthesize(ctx context.Context, text, _ string, w io.Writer) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	if err := audio.WriteSilence(w, time.Duration(words)*mockWordDuration, audio.DefaultSampleRate); err != nil {
		return "", err
	}
	return "wav", nil
}
