// Package app assembles the tutoring service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/lingotalk/internal/artifact"
	"github.com/ent0n29/lingotalk/internal/config"
	"github.com/ent0n29/lingotalk/internal/httpapi"
	"github.com/ent0n29/lingotalk/internal/llm"
	"github.com/ent0n29/lingotalk/internal/memory"
	"github.com/ent0n29/lingotalk/internal/observability"
	"github.com/ent0n29/lingotalk/internal/session"
	"github.com/ent0n29/lingotalk/internal/tutor"
	"github.com/ent0n29/lingotalk/internal/voice"
)

const (
	memoryConnectAttempts = 5
	openaiRequestTimeout  = 2 * time.Minute
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Manager
	Artifacts *artifact.Store
	Metrics   *observability.Metrics
	Backends  map[string]string

	// Cleanup stops background sweeps and releases external resources.
	Cleanup func() error
}

// Build wires every component. ctx bounds startup work such as connecting
// to the history backend; background janitors run until Cleanup.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	artifacts, err := artifact.New(cfg.TempDir,
		artifact.WithLogger(logger.With().Str("component", "artifact").Logger()),
		artifact.WithObserver(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("artifact store init failed: %w", err)
	}

	memoryStore, err := memory.NewStore(ctx, memory.Options{
		DatabaseURL:     cfg.DatabaseURL,
		RedisURL:        cfg.RedisURL,
		RedisTTL:        cfg.SessionInactivityTimeout * 6,
		MaxPerSession:   cfg.MemoryHistoryLimit * 2,
		ConnectAttempts: memoryConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	chat, openaiVoice, llmBackend, err := buildBackends(cfg)
	if err != nil {
		_ = memoryStore.Close()
		return nil, err
	}
	if cfg.ChatHistoryTokenBudget > 0 {
		go func() {
			if err := llm.WarmTokenizer(); err != nil {
				logger.Warn().Err(err).Msg("tokenizer unavailable, history budget uses rune estimate")
			}
		}()
	}

	speech, err := voice.NewProviders(voice.Config{
		Provider:         cfg.VoiceProvider,
		OpenAISTTModel:   cfg.OpenAISTTModel,
		OpenAITTSModel:   cfg.OpenAITTSModel,
		OpenAITTSVoiceEN: cfg.OpenAITTSVoiceEN,
		OpenAITTSVoiceJA: cfg.OpenAITTSVoiceJA,
		Local: voice.LocalConfig{
			WhisperCLI:       cfg.LocalWhisperCLI,
			WhisperModelPath: cfg.LocalWhisperModelPath,
			WhisperThreads:   cfg.LocalWhisperThreads,
			AutoDownload:     cfg.LocalWhisperAutoDownload,
		},
	}, openaiVoice)
	if err != nil {
		_ = memoryStore.Close()
		return nil, fmt.Errorf("voice provider init failed: %w", err)
	}

	service, err := tutor.NewService(tutor.Deps{
		LLM:         chat,
		Transcriber: speech.Transcriber,
		Synthesizer: speech.Synthesizer,
		Artifacts:   artifacts,
		Memory:      memoryStore,
		Metrics:     metrics,
	}, tutor.Options{
		MaxTokens:          cfg.ChatMaxTokens,
		Temperature:        cfg.ChatTemperature,
		HistoryTokenBudget: cfg.ChatHistoryTokenBudget,
		HistoryLimit:       cfg.MemoryHistoryLimit,
		LLMBackend:         llmBackend,
		STTBackend:         speech.STTBackend,
		TTSBackend:         speech.TTSBackend,
	})
	if err != nil {
		_ = memoryStore.Close()
		return nil, fmt.Errorf("tutor init failed: %w", err)
	}

	stopSweep, err := artifacts.StartJanitor(context.Background(), cfg.TempSweepSchedule, cfg.TempFilesLifetime)
	if err != nil {
		_ = memoryStore.Close()
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	backends := map[string]string{
		"llm":    llmBackend,
		"stt":    speech.STTBackend,
		"tts":    speech.TTSBackend,
		"memory": memory.Mode(memoryStore),
	}

	api := httpapi.New(httpapi.Deps{
		Config:    cfg,
		Sessions:  sessions,
		Tutor:     service,
		Artifacts: artifacts,
		Memory:    memoryStore,
		Metrics:   metrics,
		Logger:    logger,
		Backends:  backends,
	})

	cleanup := func() error {
		stopSweep()
		var errs []error
		if err := memoryStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close memory store: %w", err))
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		Artifacts: artifacts,
		Metrics:   metrics,
		Backends:  backends,
		Cleanup:   cleanup,
	}, nil
}

// buildBackends resolves the chat adapter and, when an API key is present,
// the speech provider. Both share one SDK client; an OpenAI chat adapter is
// built on first use.
func buildBackends(cfg config.Config) (llm.Adapter, *voice.OpenAIProvider, string, error) {
	llmCfg := llm.Config{
		Mode:       cfg.LLMProvider,
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.OpenAIModel,
		MaxRetries: cfg.OpenAIMaxRetries,
		Timeout:    openaiRequestTimeout,
		Fallback:   cfg.LLMFallback,
	}
	var openaiVoice *voice.OpenAIProvider
	if cfg.OpenAIAPIKey != "" {
		client := llm.NewOpenAIClient(llmCfg)
		llmCfg.Client = &client
		openaiVoice = voice.NewOpenAIProvider(client, voice.Config{
			OpenAISTTModel:   cfg.OpenAISTTModel,
			OpenAITTSModel:   cfg.OpenAITTSModel,
			OpenAITTSVoiceEN: cfg.OpenAITTSVoiceEN,
			OpenAITTSVoiceJA: cfg.OpenAITTSVoiceJA,
		})
	}
	if cfg.OpenAIAPIKey == "" || cfg.LLMProvider == "mock" {
		chat, err := llm.NewAdapter(llmCfg)
		if err != nil {
			return nil, nil, "", fmt.Errorf("llm adapter init failed: %w", err)
		}
		return chat, openaiVoice, llm.Name(chat), nil
	}

	backend := "openai"
	if cfg.LLMFallback != "" {
		backend += "+" + cfg.LLMFallback
	}
	chat := llm.NewLazyAdapter(func() (llm.Adapter, error) {
		return llm.NewAdapter(llmCfg)
	})
	return chat, openaiVoice, backend, nil
}
