package chat

import (
	"fmt"
	"time"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role may be stored as a memory turn.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// GlobalConversation is the single partition shared by every participant.
const GlobalConversation = "global_shared_memory"

// Turn is one immutable exchange unit of the shared memory.
// JSON field names follow the on-disk global_memory.json layout.
type Turn struct {
	ConversationTag string `json:"sessionId"`
	Role            Role   `json:"role"`
	Content         string `json:"content"`
	CreatedAtMs     int64  `json:"timestamp"`
	CreatedAtISO    string `json:"date"`
}

// NewTurn stamps a turn with the supplied time.
func NewTurn(tag string, role Role, content string, now time.Time) Turn {
	now = now.UTC()
	return Turn{
		ConversationTag: tag,
		Role:            role,
		Content:         content,
		CreatedAtMs:     now.UnixMilli(),
		CreatedAtISO:    now.Format("2006-01-02T15:04:05.000Z"),
	}
}

// Message strips metadata, leaving what the model needs.
func (t Turn) Message() Message {
	return Message{Role: t.Role, Content: t.Content}
}

// CreatedAt returns the turn timestamp as time.Time.
func (t Turn) CreatedAt() time.Time {
	return time.UnixMilli(t.CreatedAtMs).UTC()
}

// Message is the role/content projection used for model context.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func (m Message) String() string {
	return fmt.Sprintf("%s: %s", m.Role, m.Content)
}
