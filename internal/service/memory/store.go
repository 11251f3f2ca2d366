// Package memory keeps the single shared conversation memory every participant
// writes into. The whole snapshot is rewritten on each mutation.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/tavern-link/backend/internal/config"
	"github.com/zhouzirui/tavern-link/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-link/backend/internal/observability"
	"github.com/zhouzirui/tavern-link/backend/internal/storage"
)

// DocumentName is the persisted snapshot's name in the document store.
const DocumentName = "global_memory"

const defaultSearchLimit = 50

// LimitsFunc reports the live capacity and default window size.
type LimitsFunc func() (capacity, window int)

// RuntimeLimits reads limits from the hot-reloadable chat settings.
func RuntimeLimits(rt *config.Runtime) LimitsFunc {
	return func() (int, int) {
		s := rt.Snapshot()
		return s.MaxGlobalMessages, s.HistoryLimit
	}
}

// FixedLimits is handy for tools and tests.
func FixedLimits(capacity, window int) LimitsFunc {
	return func() (int, int) { return capacity, window }
}

// Store 是全局共享记忆，所有私聊与群聊写入同一个序列。
type Store struct {
	mu      sync.RWMutex
	turns   []chat.Turn
	docs    storage.DocumentStore
	limits  LimitsFunc
	tag     string
	now     func() time.Time
	metrics *observability.Metrics
	logger  zerolog.Logger

	// syncErr holds the last persistence failure until a write succeeds.
	syncErr error
}

// Option customizes a Store.
type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open loads the persisted snapshot. A missing document starts empty; an unreadable
// one is an error so that a later write never overwrites data we failed to parse.
func Open(ctx context.Context, docs storage.DocumentStore, limits LimitsFunc, opts ...Option) (*Store, error) {
	s := &Store{
		docs:   docs,
		limits: limits,
		tag:    chat.GlobalConversation,
		now:    time.Now,
		logger: log.With().Str("component", "memory").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := docs.Load(ctx, DocumentName)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load %s: %w", DocumentName, err)
	default:
		turns, err := decodeTurns(data)
		if err != nil {
			return nil, err
		}
		s.turns = turns
	}

	capacity, window := s.currentLimits()
	if over := len(s.turns) - capacity; over > 0 {
		s.turns = append([]chat.Turn(nil), s.turns[over:]...)
	}
	s.metrics.SetMemoryTurns(len(s.turns))
	s.logger.Info().
		Int("turns", len(s.turns)).
		Int("capacity", capacity).
		Int("window", window).
		Msg("global memory loaded")
	return s, nil
}

// decodeTurns accepts a bare array or an object wrapping it under "messages".
func decodeTurns(data []byte) ([]chat.Turn, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var turns []chat.Turn
		if err := json.Unmarshal(data, &turns); err != nil {
			return nil, fmt.Errorf("parse %s: %w", DocumentName, err)
		}
		return storableTurns(turns), nil
	}

	var wrapped struct {
		Messages []chat.Turn `json:"messages"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse %s: %w", DocumentName, err)
	}
	return storableTurns(wrapped.Messages), nil
}

// storableTurns drops turns whose role is not user or assistant.
func storableTurns(turns []chat.Turn) []chat.Turn {
	return slices.DeleteFunc(turns, func(t chat.Turn) bool { return !t.Role.Valid() })
}

func (s *Store) currentLimits() (int, int) {
	capacity, window := s.limits()
	def := config.DefaultChatSettings()
	if capacity <= 0 {
		capacity = def.MaxGlobalMessages
	}
	if window <= 0 {
		window = def.HistoryLimit
	}
	return capacity, window
}

// Append stamps a new turn, trims the oldest turns beyond capacity and persists.
// Persistence failures are logged and counted; the in-memory snapshot stays authoritative.
func (s *Store) Append(ctx context.Context, role chat.Role, content string) chat.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn := chat.NewTurn(s.tag, role, content, s.now())
	s.turns = append(s.turns, turn)

	capacity, _ := s.currentLimits()
	if over := len(s.turns) - capacity; over > 0 {
		s.turns = append([]chat.Turn(nil), s.turns[over:]...)
		s.logger.Debug().Int("removed", over).Int("capacity", capacity).Msg("trimmed oldest turns")
	}

	s.persistLocked(ctx)
	return turn
}

// Window returns the most recent limit turns, oldest first, with metadata.
// limit <= 0 uses the configured history limit.
func (s *Store) Window(limit int) []chat.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tailLocked(s.turns, limit)
}

// ContextWindow is Window stripped to role and content for the model.
func (s *Store) ContextWindow(limit int) []chat.Message {
	turns := s.Window(limit)
	out := make([]chat.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Message())
	}
	return out
}

func (s *Store) tailLocked(turns []chat.Turn, limit int) []chat.Turn {
	if limit <= 0 {
		_, limit = s.currentLimits()
	}
	if limit > len(turns) {
		limit = len(turns)
	}
	return append([]chat.Turn(nil), turns[len(turns)-limit:]...)
}

// History filters by conversation tag; an empty tag or "global" returns every turn.
func (s *Store) History(tag string, limit int) []chat.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tag == "" || tag == "global" {
		return s.tailLocked(s.turns, limit)
	}

	var matched []chat.Turn
	for _, t := range s.turns {
		if t.ConversationTag == tag {
			matched = append(matched, t)
		}
	}
	return s.tailLocked(matched, limit)
}

// Search matches content case-insensitively, most recent first.
func (s *Store) Search(query string, limit int) []chat.Turn {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []chat.Turn
	for i := len(s.turns) - 1; i >= 0 && len(out) < limit; i-- {
		if strings.Contains(strings.ToLower(s.turns[i].Content), query) {
			out = append(out, s.turns[i])
		}
	}
	return out
}

// Clear removes every turn with the tag and persists. It returns how many were removed.
func (s *Store) Clear(ctx context.Context, tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.turns[:0:0]
	for _, t := range s.turns {
		if t.ConversationTag != tag {
			kept = append(kept, t)
		}
	}
	removed := len(s.turns) - len(kept)
	s.turns = kept

	s.persistLocked(ctx)
	s.logger.Info().Str("conversation", tag).Int("removed", removed).Msg("conversation cleared")
	return removed
}

// Reset empties the whole memory.
func (s *Store) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = nil
	s.persistLocked(ctx)
	s.logger.Info().Msg("global memory reset")
}

// Conversations groups turns by tag, most recently active first.
func (s *Store) Conversations() []chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationsLocked()
}

func (s *Store) conversationsLocked() []chat.Conversation {
	index := make(map[string]int)
	var out []chat.Conversation
	for _, t := range s.turns {
		i, ok := index[t.ConversationTag]
		if !ok {
			index[t.ConversationTag] = len(out)
			out = append(out, chat.Conversation{
				ID:             t.ConversationTag,
				CreatedAtMs:    t.CreatedAtMs,
				LastActiveAtMs: t.CreatedAtMs,
			})
			i = len(out) - 1
		}
		out[i].MessageCount++
		if t.CreatedAtMs > out[i].LastActiveAtMs {
			out[i].LastActiveAtMs = t.CreatedAtMs
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].LastActiveAtMs > out[b].LastActiveAtMs })
	return out
}

// CleanupIdle clears conversations whose last turn is older than maxIdle and
// returns their tags so callers can drop related state.
func (s *Store) CleanupIdle(ctx context.Context, maxIdle time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxIdle).UnixMilli()
	idle := make(map[string]bool)
	for _, c := range s.conversationsLocked() {
		if c.LastActiveAtMs < cutoff {
			idle[c.ID] = true
		}
	}
	if len(idle) == 0 {
		return nil
	}

	kept := s.turns[:0:0]
	for _, t := range s.turns {
		if !idle[t.ConversationTag] {
			kept = append(kept, t)
		}
	}
	s.turns = kept
	s.persistLocked(ctx)

	removed := make([]string, 0, len(idle))
	for id := range idle {
		removed = append(removed, id)
	}
	sort.Strings(removed)
	s.logger.Info().Strs("conversations", removed).Dur("maxIdle", maxIdle).Msg("idle conversations cleaned up")
	return removed
}

// Len reports the number of retained turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// InSync reports whether the last write reached durable storage.
func (s *Store) InSync() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncErr == nil
}

// Flush rewrites the full snapshot, resynchronizing storage after earlier failures.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

func (s *Store) persistLocked(ctx context.Context) error {
	s.metrics.SetMemoryTurns(len(s.turns))

	turns := s.turns
	if turns == nil {
		turns = []chat.Turn{}
	}
	data, err := json.MarshalIndent(turns, "", "  ")
	if err == nil {
		err = s.docs.Save(ctx, DocumentName, data)
	}
	if err != nil {
		s.syncErr = err
		s.metrics.PersistenceFailed(DocumentName)
		s.logger.Error().Err(err).Int("turns", len(s.turns)).Msg("persist global memory failed, keeping in-memory state")
		return fmt.Errorf("persist %s: %w", DocumentName, err)
	}

	if s.syncErr != nil {
		s.logger.Info().Msg("global memory resynchronized with storage")
	}
	s.syncErr = nil
	return nil
}
