// Package sticky tracks world-book entries that stay active for a number of
// reply cycles after they were triggered.
package sticky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/tavern-link/backend/internal/observability"
	"github.com/zhouzirui/tavern-link/backend/internal/storage"
)

// DocumentName is the persisted ledger's name in the document store.
const DocumentName = "sessions_meta"

// Trigger is an entry triggered in the current cycle with its sticky duration.
type Trigger struct {
	Key      string
	Duration int
}

// Ledger maps conversation -> entry key -> remaining cycles (always >= 1).
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]map[string]int
	docs    storage.DocumentStore
	metrics *observability.Metrics
	logger  zerolog.Logger
	// syncErr holds the last persistence failure until a write succeeds.
	syncErr error
}

// Option customizes a Ledger.
type Option func(*Ledger)

func WithMetrics(m *observability.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// Open loads the persisted ledger; a missing document starts empty.
func Open(ctx context.Context, docs storage.DocumentStore, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		entries: make(map[string]map[string]int),
		docs:    docs,
		logger:  log.With().Str("component", "sticky").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}

	data, err := docs.Load(ctx, DocumentName)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load %s: %w", DocumentName, err)
	default:
		entries, err := decodeLedger(data)
		if err != nil {
			return nil, err
		}
		l.entries = entries
	}

	l.metrics.SetStickyEntries(l.countLocked())
	return l, nil
}

// ActiveKeys returns a snapshot of the sticky keys for a conversation.
func (l *Ledger) ActiveKeys(conversationID string) map[string]struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	keys := make(map[string]struct{}, len(l.entries[conversationID]))
	for key := range l.entries[conversationID] {
		keys[key] = struct{}{}
	}
	return keys
}

// Entries returns remaining cycles per key for inspection.
func (l *Ledger) Entries(conversationID string) map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]int, len(l.entries[conversationID]))
	for key, remaining := range l.entries[conversationID] {
		out[key] = remaining
	}
	return out
}

// Refresh decrements every entry of the conversation, dropping those that reach
// zero, then sets each trigger with a positive duration to that duration.
// Decrementing first means an entry re-triggered on its last cycle is renewed.
func (l *Ledger) Refresh(ctx context.Context, conversationID string, triggered []Trigger) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.entries[conversationID]
	if current == nil {
		current = make(map[string]int)
	}

	for key, remaining := range current {
		if remaining <= 1 {
			delete(current, key)
			continue
		}
		current[key] = remaining - 1
	}

	for _, t := range triggered {
		if t.Duration > 0 && t.Key != "" {
			current[t.Key] = t.Duration
		}
	}

	if len(current) == 0 {
		delete(l.entries, conversationID)
	} else {
		l.entries[conversationID] = current
	}
	l.persistLocked(ctx)
}

// Forget drops every entry of a conversation.
func (l *Ledger) Forget(ctx context.Context, conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[conversationID]; !ok {
		return
	}
	delete(l.entries, conversationID)
	l.persistLocked(ctx)
}

// Reset drops every conversation.
func (l *Ledger) Reset(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]map[string]int)
	l.persistLocked(ctx)
}

// Count returns the number of active entries across conversations.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.countLocked()
}

func (l *Ledger) countLocked() int {
	n := 0
	for _, keys := range l.entries {
		n += len(keys)
	}
	return n
}

// InSync reports whether the last write reached durable storage.
func (l *Ledger) InSync() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.syncErr == nil
}

// Flush rewrites the full ledger.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.persistLocked(ctx)
}

func (l *Ledger) persistLocked(ctx context.Context) error {
	l.metrics.SetStickyEntries(l.countLocked())

	data, err := encodeLedger(l.entries)
	if err == nil {
		err = l.docs.Save(ctx, DocumentName, data)
	}
	if err != nil {
		l.syncErr = err
		l.metrics.PersistenceFailed(DocumentName)
		l.logger.Error().Err(err).Msg("persist sticky ledger failed, keeping in-memory state")
		return fmt.Errorf("persist %s: %w", DocumentName, err)
	}

	if l.syncErr != nil {
		l.logger.Info().Msg("sticky ledger resynchronized with storage")
	}
	l.syncErr = nil
	return nil
}

// The document is a list of [conversation, [[key, remaining], ...]] pairs,
// sorted so identical ledgers serialize identically.
func encodeLedger(entries map[string]map[string]int) ([]byte, error) {
	convs := make([]string, 0, len(entries))
	for id := range entries {
		convs = append(convs, id)
	}
	sort.Strings(convs)

	doc := make([][2]any, 0, len(convs))
	for _, id := range convs {
		keys := make([]string, 0, len(entries[id]))
		for key := range entries[id] {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		pairs := make([][2]any, 0, len(keys))
		for _, key := range keys {
			pairs = append(pairs, [2]any{key, entries[id][key]})
		}
		doc = append(doc, [2]any{id, pairs})
	}
	return json.MarshalIndent(doc, "", "  ")
}

// decodeLedger accepts the pair-list layout or a plain nested object.
func decodeLedger(data []byte) (map[string]map[string]int, error) {
	entries := make(map[string]map[string]int)
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return entries, nil
	}

	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse %s: %w", DocumentName, err)
		}
		return pruneNonPositive(entries), nil
	}

	var doc []json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", DocumentName, err)
	}
	for _, raw := range doc {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			return nil, fmt.Errorf("parse %s: malformed conversation row", DocumentName)
		}
		var id string
		if err := json.Unmarshal(pair[0], &id); err != nil {
			return nil, fmt.Errorf("parse %s: conversation id: %w", DocumentName, err)
		}
		var rows [][]json.RawMessage
		if err := json.Unmarshal(pair[1], &rows); err != nil {
			return nil, fmt.Errorf("parse %s: entries of %s: %w", DocumentName, id, err)
		}

		keys := make(map[string]int, len(rows))
		for _, row := range rows {
			if len(row) != 2 {
				return nil, fmt.Errorf("parse %s: malformed entry of %s", DocumentName, id)
			}
			var key string
			var remaining int
			if err := json.Unmarshal(row[0], &key); err != nil {
				return nil, fmt.Errorf("parse %s: entry key: %w", DocumentName, err)
			}
			if err := json.Unmarshal(row[1], &remaining); err != nil {
				return nil, fmt.Errorf("parse %s: entry %s: %w", DocumentName, key, err)
			}
			keys[key] = remaining
		}
		entries[id] = keys
	}
	return pruneNonPositive(entries), nil
}

func pruneNonPositive(entries map[string]map[string]int) map[string]map[string]int {
	for id, keys := range entries {
		for key, remaining := range keys {
			if remaining < 1 {
				delete(keys, key)
			}
		}
		if len(keys) == 0 {
			delete(entries, id)
		}
	}
	return entries
}
