// Package prompt turns a character card, the shared history and the incoming
// text into model input, and assembles that input for each dispatch cycle.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/tavern-link/backend/internal/analysis/emotion"
	"github.com/zhouzirui/tavern-link/backend/internal/model/character"
	"github.com/zhouzirui/tavern-link/backend/internal/model/chat"
)

// ErrUnknownCharacter is returned when neither the requested nor the fallback card exists.
var ErrUnknownCharacter = errors.New("character not found")

// TriggeredEntry reports a world-book entry that was active this cycle.
type TriggeredEntry struct {
	Key                string `json:"key"`
	Sticky             int    `json:"sticky,omitempty"`
	TriggeredByKeyword bool   `json:"triggeredByKeyword"`
	TriggeredBySticky  bool   `json:"triggeredBySticky"`
}

// BuildResult is the model input plus the entries that shaped it.
type BuildResult struct {
	Messages         []*schema.Message
	WorldBookEntries []TriggeredEntry
}

// Builder renders model input.
type Builder interface {
	Build(ctx context.Context, characterID, text string, history []chat.Message, stickyKeys map[string]struct{}) (BuildResult, error)
}

// CharacterBuilder renders a character card through an eino chat template.
type CharacterBuilder struct {
	characters character.Store
	fallbackID string
	template   prompt.ChatTemplate
}

// NewCharacterBuilder uses fallbackID when a requested card is missing.
func NewCharacterBuilder(characters character.Store, fallbackID string) *CharacterBuilder {
	return &CharacterBuilder{
		characters: characters,
		fallbackID: fallbackID,
		template: prompt.FromMessages(
			schema.FString,
			schema.SystemMessage("{system}"),
			schema.MessagesPlaceholder("history", true),
			schema.UserMessage("{query}"),
		),
	}
}

func (b *CharacterBuilder) Build(ctx context.Context, characterID, text string, history []chat.Message, stickyKeys map[string]struct{}) (BuildResult, error) {
	card, ok := b.characters.FindByID(characterID)
	if !ok {
		card, ok = b.characters.FindByID(b.fallbackID)
	}
	if !ok {
		return BuildResult{}, fmt.Errorf("%w: %q", ErrUnknownCharacter, characterID)
	}

	lore, triggered := matchWorldBook(card.WorldBook, text, stickyKeys)

	messages, err := b.template.Format(ctx, map[string]any{
		"system":  renderSystemPrompt(card, lore, emotion.Detect(text)),
		"history": historyMessages(history),
		"query":   text,
	})
	if err != nil {
		return BuildResult{}, fmt.Errorf("format prompt: %w", err)
	}

	return BuildResult{Messages: messages, WorldBookEntries: triggered}, nil
}

// matchWorldBook selects constant entries, entries whose keyword occurs in text
// (case-insensitive) and entries still sticky from earlier cycles.
func matchWorldBook(book []character.WorldBookEntry, text string, stickyKeys map[string]struct{}) ([]character.WorldBookEntry, []TriggeredEntry) {
	lowered := strings.ToLower(text)

	var active []character.WorldBookEntry
	var triggered []TriggeredEntry
	for _, entry := range book {
		byKeyword := false
		for _, kw := range entry.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(lowered, kw) {
				byKeyword = true
				break
			}
		}
		_, bySticky := stickyKeys[entry.Key]

		if !entry.Constant && !byKeyword && !bySticky {
			continue
		}
		active = append(active, entry)
		if byKeyword || bySticky {
			triggered = append(triggered, TriggeredEntry{
				Key:                entry.Key,
				Sticky:             entry.Sticky,
				TriggeredByKeyword: byKeyword,
				TriggeredBySticky:  bySticky,
			})
		}
	}

	sort.SliceStable(active, func(i, j int) bool { return active[i].Order < active[j].Order })
	return active, triggered
}

func renderSystemPrompt(card character.Character, lore []character.WorldBookEntry, mood emotion.Decision) string {
	var b strings.Builder
	if strings.TrimSpace(card.SystemPrompt) != "" {
		b.WriteString(card.SystemPrompt)
	} else {
		fmt.Fprintf(&b, "你是%s", card.Name)
		if card.Title != "" {
			fmt.Fprintf(&b, "，%s", card.Title)
		}
		b.WriteString("。")
	}

	b.WriteString("\n\n角色设定：")
	writeField(&b, "名字", card.Name)
	writeField(&b, "简介", card.Description)
	writeField(&b, "性格特点", card.Personality)
	writeField(&b, "场景", card.Scenario)

	if len(card.ExampleLines) > 0 {
		b.WriteString("\n\n说话示例：")
		for _, line := range card.ExampleLines {
			b.WriteString("\n- ")
			b.WriteString(line)
		}
	}

	if len(lore) > 0 {
		b.WriteString("\n\n世界设定：")
		for _, entry := range lore {
			b.WriteString("\n- ")
			b.WriteString(strings.TrimSpace(entry.Content))
		}
	}

	b.WriteString("\n\n对话规则：")
	b.WriteString("\n- 每条用户消息开头的方括号是发送者信息（私聊/群聊、QQ、昵称、群号、时间），不要在回复里复述它。")
	b.WriteString("\n- 你同时在和很多人聊天，记忆是共享的，注意区分不同的人。")
	b.WriteString("\n- 需要用语音说的话，用 [voice:内容] 包起来。")

	if hint := describeMood(mood.Emotion); hint != "" {
		b.WriteString("\n\n当前消息的情绪：")
		b.WriteString(hint)
	}
	return b.String()
}

func writeField(b *strings.Builder, name, value string) {
	if value = strings.TrimSpace(value); value == "" {
		return
	}
	fmt.Fprintf(b, "\n- %s：%s", name, value)
}

func historyMessages(history []chat.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case chat.RoleUser:
			out = append(out, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return out
}

func describeMood(label emotion.Label) string {
	switch label {
	case emotion.Happy:
		return "对方心情不错，回应可以轻快一些。"
	case emotion.Sad:
		return "对方情绪低落，先安慰再回答。"
	case emotion.Angry:
		return "对方有些不满，保持冷静，帮忙把事情理顺。"
	case emotion.Excited:
		return "对方很兴奋，可以接住这股热情。"
	case emotion.Tender:
		return "对方希望温柔一点的互动。"
	case emotion.Comfort:
		return "对方需要被安抚和陪伴。"
	case emotion.Magnetic:
		return "对方在说重要的事，回答要可靠、认真。"
	default:
		return ""
	}
}
