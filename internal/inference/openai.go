package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig points the frame analyzer at an OpenAI-compatible endpoint
// serving a vision model (vLLM, LM Studio, the OpenAI API itself).
type OpenAIConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	MaxTokens      int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// OpenAIFrameAnalyzer implements FrameAnalyzer with chat completions that carry
// the frames as data-URL image parts.
type OpenAIFrameAnalyzer struct {
	cli       *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

func NewOpenAIFrameAnalyzer(cfg OpenAIConfig, logger *slog.Logger) *OpenAIFrameAnalyzer {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient(cfg.ConnectTimeout, cfg.ReadTimeout)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 150
	}

	return &OpenAIFrameAnalyzer{
		cli:       openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

func (a *OpenAIFrameAnalyzer) AnalyzeFrames(ctx context.Context, images []string, prompt string) (*Verdict, error) {
	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: prompt,
	})
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:image/jpeg;base64," + img,
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			},
		},
		MaxTokens:   a.maxTokens,
		Temperature: 0,
	}

	resp, err := a.cli.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, mapOpenAIError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: chat completion returned no choices", ErrMalformedResponse)
	}

	v := verdictFromText(resp.Choices[0].Message.Content)
	if v.Degraded {
		a.logger.Debug("frame verdict degraded", "frames", len(images), "model", a.model)
	}
	return v, nil
}

// mapOpenAIError translates go-openai errors into the package's error taxonomy.
func mapOpenAIError(ctx context.Context, err error) error {
	const op = "chat_completion"
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.HTTPStatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		return &BackendError{Op: op, StatusCode: status, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &BackendError{Op: op, StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, err)
}
