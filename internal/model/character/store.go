package character

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store exposes character retrieval for the prompt builder and HTTP handlers.
type Store interface {
	List() []Character
	FindByID(id string) (Character, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Character
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied characters.
func NewMemoryStore(items []Character) *MemoryStore {
	return &MemoryStore{items: append([]Character(nil), items...)}
}

// LoadDir reads every *.yaml, *.yml and *.json card under dir.
// JSON cards parse through the YAML decoder since JSON is valid YAML.
func LoadDir(dir string) ([]Character, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read character dir: %w", err)
	}

	var cards []Character
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read character %s: %w", path, err)
		}

		var card Character
		if err := yaml.Unmarshal(data, &card); err != nil {
			return nil, fmt.Errorf("parse character %s: %w", path, err)
		}
		if strings.TrimSpace(card.ID) == "" {
			card.ID = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		if strings.TrimSpace(card.Name) == "" {
			card.Name = card.ID
		}
		cards = append(cards, card)
	}

	sort.Slice(cards, func(i, j int) bool { return cards[i].ID < cards[j].ID })
	return cards, nil
}

// List returns a copy of the stored characters.
func (s *MemoryStore) List() []Character {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Character(nil), s.items...)
}

// FindByID looks up a character by identifier or display name.
func (s *MemoryStore) FindByID(id string) (Character, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id || item.Name == id {
			return item, true
		}
	}
	return Character{}, false
}

// Replace swaps the stored set, used when cards are reloaded from disk.
func (s *MemoryStore) Replace(items []Character) {
	s.mu.Lock()
	s.items = append([]Character(nil), items...)
	s.mu.Unlock()
}
