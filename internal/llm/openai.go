package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultChatModel is used when no model is configured.
	DefaultChatModel = "gpt-4o-mini"
)

// Message is a minimal chat message used by the core controller.
// Role must be one of: "system", "user", or "assistant".
type Message struct {
	Role    string
	Content string
}

// Client defines the methods required by the interview controller and the
// summariser.  Chat accepts the full message history (system + prior turns +
// latest user) and must answer with a single JSON object.  Summarize returns
// free-form text.
type Client interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Summarize(ctx context.Context, instructions, prompt string) (string, error)
}

// ClientConfig holds configuration for the OpenAI client.
type ClientConfig struct {
	APIKey       string
	ChatModel    string
	SummaryModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAIClient calls the OpenAI API for interview steps and summaries.
type OpenAIClient struct {
	client       *openai.Client
	chatModel    string
	summaryModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewOpenAIClient constructs an OpenAI-backed LLM client.  Empty model names
// fall back to DefaultChatModel; the summary model falls back to the chat
// model.
func NewOpenAIClient(cfg ClientConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = DefaultChatModel
	}
	summaryModel := cfg.SummaryModel
	if summaryModel == "" {
		summaryModel = chatModel
	}
	return &OpenAIClient{
		client:       openai.NewClient(cfg.APIKey),
		chatModel:    chatModel,
		summaryModel: summaryModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

// Chat sends the message history to the chat completion API in JSON-object
// mode and returns the raw assistant content.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if c.client == nil {
		return "", errors.New("openai client not initialized")
	}

	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	return c.complete(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    oaMsgs,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
}

// Summarize generates a clinician-facing report from the prompt.
func (c *OpenAIClient) Summarize(ctx context.Context, instructions, prompt string) (string, error) {
	if c.client == nil {
		return "", errors.New("openai client not initialized")
	}
	return c.complete(ctx, openai.ChatCompletionRequest{
		Model: c.summaryModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instructions},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
}

// complete runs the request with retries.  The caller's context bounds the
// whole exchange including backoff sleeps.
func (c *OpenAIClient) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("attempt %d: %w", attempt+1, ctx.Err())
			case <-time.After(CalculateBackoff(c.retryDelay, attempt)):
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("attempt %d: no completion choices returned", attempt+1)
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("chat completion failed after %d attempts: %w", c.maxRetries+1, lastErr)
}
