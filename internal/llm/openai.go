package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/askdb/askdb/internal/observability"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
	logger      *slog.Logger
}

func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(timeout),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIClient{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	text, err := c.complete(ctx, req)
	observability.ObserveCompletion(string(req.Task), err)
	if err != nil {
		c.logger.WarnContext(ctx, "completion failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("task", string(req.Task)),
			slog.String("error", err.Error()),
		)
		return "", &GenerationError{Task: req.Task, Err: err}
	}
	return text, nil
}

func (c *OpenAIClient) complete(ctx context.Context, req Request) (string, error) {
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("at least one message is required")
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, message := range req.Messages {
		switch message.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(message.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(message.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(message.Content))
		default:
			return "", fmt.Errorf("unsupported message role %q", message.Role)
		}
	}

	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	params := openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    messages,
		Temperature: openai.Float(temperature),
	}

	var opts []option.RequestOption
	if len(req.Stop) > 0 {
		opts = append(opts, option.WithJSONSet("stop", req.Stop))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		return "", fmt.Errorf("request chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion choices")
	}
	return resp.Choices[0].Message.Content, nil
}
