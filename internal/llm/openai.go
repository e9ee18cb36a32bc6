package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"intake-assistant/internal/config"
	"intake-assistant/internal/metrics"
)

// Message is a minimal chat message used by the conversation engine.
// Role must be one of: "system", "user", or "assistant".
type Message struct {
	Role    string
	Content string
}

// Client defines the methods required by the engine and the summariser.
// Chat returns free text; ChatJSON asks the model for a single JSON object.
type Client interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	ChatJSON(ctx context.Context, messages []Message) (string, error)
	Summarize(ctx context.Context, prompt string) (string, error)
}

// ErrNotConfigured is returned when no API key was provided. Callers treat it
// like any other model failure and use their deterministic fallback.
var ErrNotConfigured = errors.New("openai client not configured")

// OpenAIClient calls the OpenAI API for chat and summarisation responses.
type OpenAIClient struct {
	client       *openai.Client
	chatModel    string
	summaryModel string
	temperature  float32
	timeout      time.Duration
	limiter      *rate.Limiter
	logger       *zap.Logger
}

// NewOpenAIClient constructs an OpenAI-backed LLM client. An empty API key
// yields a client whose calls fail with ErrNotConfigured.
func NewOpenAIClient(cfg config.OpenAIConfig, logger *zap.Logger) *OpenAIClient {
	c := &OpenAIClient{
		chatModel:    cfg.ChatModel,
		summaryModel: cfg.SummaryModel,
		temperature:  cfg.Temperature,
		timeout:      cfg.Timeout,
		logger:       logger.Named("llm"),
	}
	if c.chatModel == "" {
		c.chatModel = "gpt-4o-mini"
	}
	if c.summaryModel == "" {
		c.summaryModel = c.chatModel
	}
	if cfg.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(cfg.Burst, 1))
	}
	if cfg.APIKey == "" {
		c.logger.Warn("OPENAI_API_KEY not set, agents will use fallback responses")
		return c
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout + 5*time.Second}
	c.client = openai.NewClientWithConfig(oc)
	return c
}

// Chat sends the message history to the chat completion API and returns the
// assistant's response.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (string, error) {
	return c.complete(ctx, "chat", c.chatModel, messages, false)
}

// ChatJSON is Chat with the JSON object response format enabled.
func (c *OpenAIClient) ChatJSON(ctx context.Context, messages []Message) (string, error) {
	return c.complete(ctx, "chat_json", c.chatModel, messages, true)
}

// Summarize generates a structured clinical summary of the prompt.
func (c *OpenAIClient) Summarize(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, "summarize", c.summaryModel, []Message{
		{Role: openai.ChatMessageRoleSystem, Content: "You summarise medical intake conversations for clinicians. Respond with a single JSON object."},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, true)
}

func (c *OpenAIClient) complete(ctx context.Context, op, model string, messages []Message, jsonMode bool) (string, error) {
	if c.client == nil {
		return "", ErrNotConfigured
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// Convert to OpenAI message type
	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    oaMsgs,
		Temperature: c.temperature,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	metrics.RecordLLMRequest(op, err, time.Since(start))
	if err != nil {
		c.logger.Warn("completion failed", zap.String("op", op), zap.String("model", model), zap.Error(err))
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
