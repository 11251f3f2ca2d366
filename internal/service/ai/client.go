// Package ai wraps the chat model behind a single-call interface.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/tavern-link/backend/internal/config"
)

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

// Client sends one prompt and returns the reply text.
type Client interface {
	Chat(ctx context.Context, messages []*schema.Message) (string, error)
}

// StatusError carries the HTTP status reported by a model backend.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// New builds the client for the configured provider.
func New(ctx context.Context, cfg config.AIConfig) (Client, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		if !cfg.Enabled() {
			return nil, fmt.Errorf("OpenAI 配置缺失，需要 OPENAI_API_KEY 与 OPENAI_MODEL")
		}
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.Temperature, cfg.MaxTokens), nil
	default:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return NewModelClient(chatModel, cfg.Model), nil
	}
}

// ModelClient adapts an eino chat model.
type ModelClient struct {
	model  model.BaseChatModel
	name   string
	logger zerolog.Logger
}

func NewModelClient(m model.BaseChatModel, name string) *ModelClient {
	return &ModelClient{
		model:  m,
		name:   name,
		logger: log.With().Str("component", "ai").Str("model", name).Logger(),
	}
}

func (c *ModelClient) Chat(ctx context.Context, messages []*schema.Message) (string, error) {
	start := time.Now()
	resp, err := c.model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyReply
	}

	event := c.logger.Debug().
		Int("messages", len(messages)).
		Int("length", len(resp.Content)).
		Dur("elapsed", time.Since(start))
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		event = event.Int("totalTokens", resp.ResponseMeta.Usage.TotalTokens)
	}
	event.Msg("generated reply")

	return resp.Content, nil
}
