package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const defaultOpenAIModel = "gpt-3.5-turbo"

type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIAdapter calls the Chat Completions API. Transient failures are
// retried inside the SDK (OPENAI_MAX_RETRIES); nothing above it retries.
type OpenAIAdapter struct {
	completions chatCompletions
	model       string
}

// NewOpenAIClient builds the SDK client shared by chat and speech providers.
func NewOpenAIClient(cfg Config) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return openai.NewClient(opts...)
}

func NewOpenAIAdapter(cfg Config) (*OpenAIAdapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}
	if cfg.Client != nil {
		return NewOpenAIAdapterWithClient(*cfg.Client, cfg.Model), nil
	}
	return NewOpenAIAdapterWithClient(NewOpenAIClient(cfg), cfg.Model), nil
}

// NewOpenAIAdapterWithClient reuses an existing SDK client.
func NewOpenAIAdapterWithClient(client openai.Client, model string) *OpenAIAdapter {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIAdapter{completions: &client.Chat.Completions, model: model}
}

func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(a.model),
		Messages:    buildMessages(req),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.User != "" {
		params.User = openai.String(req.User)
	}

	completion, err := a.completions.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return Response{}, errors.New("openai chat completion: empty choices")
	}

	resp := Response{
		Text:  completion.Choices[0].Message.Content,
		Model: completion.Model,
	}
	if resp.Model == "" {
		resp.Model = a.model
	}
	if completion.Usage.TotalTokens > 0 {
		resp.Usage = &Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		}
	}
	return resp, nil
}

func buildMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if system := strings.TrimSpace(req.System); system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range req.Messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		switch msg.Role {
		case RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{
				Content: openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(content),
				},
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			out = append(out, openai.UserMessage(content))
		}
	}
	return out
}

// StatusCode extracts the upstream HTTP status from an SDK error, or 0.
func StatusCode(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
