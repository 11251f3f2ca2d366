// Package emotion asks the chat model which voice emotion fits a spoken line,
// falling back to keyword heuristics whenever the model cannot answer.
package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	analysis "github.com/zhouzirui/tavern-link/backend/internal/analysis/emotion"
	"github.com/zhouzirui/tavern-link/backend/internal/service/ai"
)

const defaultTimeout = 8 * time.Second

// Classifier picks a synthesis emotion for a line of speech.
type Classifier struct {
	client   ai.Client
	template prompt.ChatTemplate
	timeout  time.Duration
	fallback func(user, reply string) analysis.Decision
	logger   zerolog.Logger
}

// NewClassifier reuses the reply model. timeout <= 0 uses the default.
func NewClassifier(client ai.Client, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Classifier{
		client: client,
		template: prompt.FromMessages(
			schema.FString,
			schema.SystemMessage(systemPrompt),
			schema.UserMessage("待朗读的台词：\n{line}"),
		),
		timeout:  timeout,
		fallback: analysis.Analyze,
		logger:   log.With().Str("component", "emotion").Logger(),
	}
}

// Classify never fails; model errors and unusable answers use the heuristic analyzer.
func (c *Classifier) Classify(ctx context.Context, line string) analysis.Decision {
	line = strings.TrimSpace(line)
	if c == nil || c.client == nil || line == "" {
		return analysis.Analyze("", line)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages, err := c.template.Format(ctx, map[string]any{"line": line})
	if err != nil {
		c.logger.Warn().Err(err).Msg("format emotion prompt failed, using heuristics")
		return c.fallback("", line)
	}

	reply, err := c.client.Chat(ctx, messages)
	if err != nil {
		c.logger.Warn().Err(err).Msg("emotion classifier call failed, using heuristics")
		return c.fallback("", line)
	}

	decision, err := parseDecision(reply)
	if err != nil {
		c.logger.Debug().Err(err).Str("reply", reply).Msg("unusable emotion answer, using heuristics")
		return c.fallback("", line)
	}
	return decision
}

type payload struct {
	Emotion string  `json:"emotion"`
	Scale   float32 `json:"scale"`
}

// parseDecision extracts the first JSON object from the model answer.
func parseDecision(content string) (analysis.Decision, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end <= start {
		return analysis.Decision{}, fmt.Errorf("missing json object")
	}

	var p payload
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &p); err != nil {
		return analysis.Decision{}, err
	}

	label, ok := parseLabel(p.Emotion)
	if !ok {
		return analysis.Decision{}, fmt.Errorf("unknown emotion %q", p.Emotion)
	}
	if label == analysis.Neutral {
		return analysis.Decision{Emotion: analysis.Neutral, Scale: 3}, nil
	}

	scale := clampScale(p.Scale)
	return analysis.Decision{Emotion: label, Scale: scale, Score: int(scale * 2)}, nil
}

func parseLabel(raw string) (analysis.Label, bool) {
	switch label := analysis.Label(strings.ToLower(strings.TrimSpace(raw))); label {
	case analysis.Neutral, analysis.Happy, analysis.Sad, analysis.Angry,
		analysis.Excited, analysis.Tender, analysis.Comfort, analysis.Magnetic:
		return label, true
	default:
		return "", false
	}
}

func clampScale(v float32) float32 {
	switch {
	case v <= 0:
		return 3
	case v < 1:
		return 1
	case v > 5:
		return 5
	default:
		return v
	}
}

const systemPrompt = "你是语音合成的情绪导演。阅读一句即将被朗读的台词，判断朗读时最合适的情绪。\n只返回一个 JSON 对象：emotion 必须是 neutral/happy/sad/angry/excited/tender/comfort/magnetic 之一，scale 为 1~5 的数字表示强度。不得输出多余文本。"
