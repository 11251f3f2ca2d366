package memory

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/zhouzirui/tavern-link/backend/internal/model/chat"
)

// Stats summarizes the memory for the control panel.
type Stats struct {
	TotalMessages    int     `json:"totalMessages"`
	TotalSessions    int     `json:"totalSessions"`
	UniqueUsers      int     `json:"uniqueUsers"`
	OldestMessage    string  `json:"oldestMessage,omitempty"`
	NewestMessage    string  `json:"newestMessage,omitempty"`
	MemoryFileSizeMB float64 `json:"memoryFileSizeMB"`
	InSync           bool    `json:"inSync"`
}

// Export is the full dump served for download.
type Export struct {
	Messages   []chat.Turn `json:"messages"`
	Stats      Stats       `json:"stats"`
	ExportDate string      `json:"exportDate"`
}

// Stats computes counters; users are counted by the tag suffix after the last underscore.
func (s *Store) Stats(ctx context.Context) Stats {
	s.mu.RLock()
	stats := Stats{
		TotalMessages: len(s.turns),
		TotalSessions: len(s.conversationsLocked()),
		InSync:        s.syncErr == nil,
	}

	users := make(map[string]struct{})
	for _, t := range s.turns {
		tag := t.ConversationTag
		if i := strings.LastIndex(tag, "_"); i >= 0 {
			tag = tag[i+1:]
		}
		if tag != "" {
			users[tag] = struct{}{}
		}
	}
	stats.UniqueUsers = len(users)

	if n := len(s.turns); n > 0 {
		stats.OldestMessage = s.turns[0].CreatedAtISO
		stats.NewestMessage = s.turns[n-1].CreatedAtISO
	}
	s.mu.RUnlock()

	size, err := s.docs.Size(ctx, DocumentName)
	if err != nil {
		s.logger.Warn().Err(err).Msg("read memory document size failed")
	}
	stats.MemoryFileSizeMB = math.Round(float64(size)/1024/1024*100) / 100
	return stats
}

// Export returns every turn together with stats.
func (s *Store) Export(ctx context.Context) Export {
	s.mu.RLock()
	turns := append([]chat.Turn{}, s.turns...)
	s.mu.RUnlock()

	return Export{
		Messages:   turns,
		Stats:      s.Stats(ctx),
		ExportDate: s.now().UTC().Format(time.RFC3339Nano),
	}
}
