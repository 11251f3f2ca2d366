package logging

import (
	"encoding/json"
	"sync"
)

// Entry is a decoded log line as pushed to live viewers.
type Entry map[string]any

// Broadcaster is a zerolog writer that fans JSON log lines out to subscribers
// and keeps the most recent lines for late joiners.
type Broadcaster struct {
	mu      sync.Mutex
	recent  []Entry
	limit   int
	nextID  int
	clients map[int]chan Entry
}

// NewBroadcaster keeps up to limit recent entries.
func NewBroadcaster(limit int) *Broadcaster {
	if limit <= 0 {
		limit = 100
	}
	return &Broadcaster{limit: limit, clients: make(map[int]chan Entry)}
}

// Write implements io.Writer. Lines that are not JSON objects are dropped.
func (b *Broadcaster) Write(p []byte) (int, error) {
	var entry Entry
	if err := json.Unmarshal(p, &entry); err != nil {
		return len(p), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.recent = append(b.recent, entry)
	if over := len(b.recent) - b.limit; over > 0 {
		b.recent = append([]Entry(nil), b.recent[over:]...)
	}

	for _, ch := range b.clients {
		select {
		case ch <- entry:
		default:
			// slow viewer, drop
		}
	}
	return len(p), nil
}

// Recent returns a copy of buffered entries, oldest first.
func (b *Broadcaster) Recent() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.recent...)
}

// Subscribe returns a channel of new entries and a cancel func that closes it.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Entry, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.clients[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the number of live viewers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}
