package prompt

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/tavern-link/backend/internal/model/chat"
)

// HistoryReader is the part of the memory store the assembler reads.
type HistoryReader interface {
	ContextWindow(limit int) []chat.Message
}

// StickyReader is the part of the sticky ledger the assembler reads.
type StickyReader interface {
	ActiveKeys(conversationID string) map[string]struct{}
}

// Assembly is the model input for one cycle.
type Assembly struct {
	Messages  []*schema.Message
	Triggered []TriggeredEntry
}

// Assembler gathers the recent window and sticky keys for a conversation and
// hands them to the builder.
type Assembler struct {
	history      HistoryReader
	sticky       StickyReader
	builder      Builder
	conversation string
}

func NewAssembler(history HistoryReader, sticky StickyReader, builder Builder, conversationID string) *Assembler {
	return &Assembler{
		history:      history,
		sticky:       sticky,
		builder:      builder,
		conversation: conversationID,
	}
}

// Assemble reads at most windowLimit turns (<= 0 means the configured limit).
func (a *Assembler) Assemble(ctx context.Context, characterID, text string, windowLimit int) (Assembly, error) {
	stickyKeys := a.sticky.ActiveKeys(a.conversation)
	history := a.history.ContextWindow(windowLimit)

	result, err := a.builder.Build(ctx, characterID, text, history, stickyKeys)
	if err != nil {
		return Assembly{}, fmt.Errorf("build prompt: %w", err)
	}
	if len(result.Messages) == 0 {
		return Assembly{}, fmt.Errorf("build prompt: no messages produced")
	}

	return Assembly{Messages: result.Messages, Triggered: result.WorldBookEntries}, nil
}
