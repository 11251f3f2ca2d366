package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Trigger modes for private messages.
const (
	TriggerAlways  = "always"
	TriggerKeyword = "keyword"
)

// ChatSettings 是可在运行时通过控制面板修改的聊天行为设置。
type ChatSettings struct {
	HistoryLimit      int         `json:"historyLimit" yaml:"historyLimit"`
	MaxGlobalMessages int         `json:"maxGlobalMessages" yaml:"maxGlobalMessages"`
	TriggerMode       string      `json:"triggerMode" yaml:"triggerMode"`
	TriggerKeywords   []string    `json:"triggerKeywords" yaml:"triggerKeywords"`
	AllowedGroups     []int64     `json:"allowedGroups" yaml:"allowedGroups"`
	AllowedUsers      []int64     `json:"allowedUsers" yaml:"allowedUsers"`
	SplitMessage      bool        `json:"splitMessage" yaml:"splitMessage"`
	DefaultCharacter  string      `json:"defaultCharacter" yaml:"defaultCharacter"`
	AITimeoutMs       int         `json:"aiTimeout" yaml:"aiTimeout"`
	TTSEnabled        bool        `json:"ttsEnabled" yaml:"ttsEnabled"`
	ReplyRules        []ReplyRule `json:"replyRules,omitempty" yaml:"replyRules,omitempty"`
}

// ReplyRule 描述一条作用于模型回复的正则替换规则。
// Flags uses JavaScript letters: i, m, s. Without g only the first match is replaced.
type ReplyRule struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Find     string `json:"find" yaml:"find"`
	Replace  string `json:"replace" yaml:"replace"`
	Flags    string `json:"flags,omitempty" yaml:"flags,omitempty"`
	Disabled bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// DefaultChatSettings returns the built-in defaults.
func DefaultChatSettings() ChatSettings {
	return ChatSettings{
		HistoryLimit:      30,
		MaxGlobalMessages: 2000,
		TriggerMode:       TriggerAlways,
		SplitMessage:      true,
		DefaultCharacter:  "tavern-keeper",
		AITimeoutMs:       60000,
	}
}

// AITimeout returns the model deadline.
func (s ChatSettings) AITimeout() time.Duration {
	return time.Duration(s.AITimeoutMs) * time.Millisecond
}

// Normalize fills non-positive numbers with defaults and canonicalizes the trigger mode.
func (s ChatSettings) Normalize() ChatSettings {
	def := DefaultChatSettings()
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = def.HistoryLimit
	}
	if s.MaxGlobalMessages <= 0 {
		s.MaxGlobalMessages = def.MaxGlobalMessages
	}
	if s.AITimeoutMs <= 0 {
		s.AITimeoutMs = def.AITimeoutMs
	}
	s.TriggerMode = strings.ToLower(strings.TrimSpace(s.TriggerMode))
	if s.TriggerMode == "" {
		s.TriggerMode = TriggerAlways
	}

	keywords := s.TriggerKeywords[:0:0]
	for _, kw := range s.TriggerKeywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	s.TriggerKeywords = keywords
	return s
}

// Validate rejects settings the dispatcher cannot honor.
func (s ChatSettings) Validate() error {
	if s.TriggerMode != TriggerAlways && s.TriggerMode != TriggerKeyword {
		return fmt.Errorf("invalid triggerMode %q: expected %s or %s", s.TriggerMode, TriggerAlways, TriggerKeyword)
	}
	if s.HistoryLimit > s.MaxGlobalMessages {
		return fmt.Errorf("historyLimit %d exceeds maxGlobalMessages %d", s.HistoryLimit, s.MaxGlobalMessages)
	}
	for i, rule := range s.ReplyRules {
		if strings.TrimSpace(rule.Find) == "" {
			return fmt.Errorf("replyRules[%d]: find pattern is empty", i)
		}
	}
	return nil
}

// Clone deep-copies the slice fields.
func (s ChatSettings) Clone() ChatSettings {
	s.TriggerKeywords = append([]string(nil), s.TriggerKeywords...)
	s.AllowedGroups = append([]int64(nil), s.AllowedGroups...)
	s.AllowedUsers = append([]int64(nil), s.AllowedUsers...)
	s.ReplyRules = append([]ReplyRule(nil), s.ReplyRules...)
	return s
}

// Runtime 持有当前生效的聊天设置，并负责持久化与变更通知。
type Runtime struct {
	mu          sync.RWMutex
	current     ChatSettings
	path        string
	lastWritten []byte
	subscribers []func(ChatSettings)
}

// NewRuntime seeds the runtime with defaults and overlays the settings file when it exists.
// An empty path keeps settings in memory only.
func NewRuntime(path string, defaults ChatSettings) (*Runtime, error) {
	r := &Runtime{current: defaults.Normalize().Clone(), path: path}
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chat settings: %w", err)
	}

	settings, err := decodeSettings(data, r.current)
	if err != nil {
		return nil, err
	}
	r.current = settings
	r.lastWritten = data
	return r, nil
}

// Path returns the backing file, empty when settings are not persisted.
func (r *Runtime) Path() string {
	return r.path
}

// Snapshot returns a copy of the current settings.
func (r *Runtime) Snapshot() ChatSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Clone()
}

// Subscribe registers fn to run after every successful change.
func (r *Runtime) Subscribe(fn func(ChatSettings)) {
	r.mu.Lock()
	r.subscribers = append(r.subscribers, fn)
	r.mu.Unlock()
}

// Update applies fn to a copy of the current settings, validates, persists and publishes it.
func (r *Runtime) Update(fn func(*ChatSettings)) (ChatSettings, error) {
	r.mu.Lock()
	next := r.current.Clone()
	fn(&next)
	next = next.Normalize()
	if err := next.Validate(); err != nil {
		r.mu.Unlock()
		return ChatSettings{}, err
	}
	if err := r.saveLocked(next); err != nil {
		r.mu.Unlock()
		return ChatSettings{}, err
	}
	r.current = next
	subs := slices.Clone(r.subscribers)
	r.mu.Unlock()

	r.publish(subs, next)
	return next.Clone(), nil
}

// Save writes the current settings to the backing file.
func (r *Runtime) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(r.current)
}

// Reload re-reads the backing file. It reports whether anything changed.
func (r *Runtime) Reload() (bool, error) {
	if r.path == "" {
		return false, nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return false, fmt.Errorf("read chat settings: %w", err)
	}

	r.mu.Lock()
	if bytes.Equal(data, r.lastWritten) {
		r.mu.Unlock()
		return false, nil
	}
	next, err := decodeSettings(data, DefaultChatSettings())
	if err != nil {
		r.mu.Unlock()
		return false, err
	}
	r.current = next
	r.lastWritten = data
	subs := slices.Clone(r.subscribers)
	r.mu.Unlock()

	r.publish(subs, next)
	return true, nil
}

func (r *Runtime) publish(subs []func(ChatSettings), settings ChatSettings) {
	for _, fn := range subs {
		fn(settings.Clone())
	}
}

func (r *Runtime) saveLocked(settings ChatSettings) error {
	if r.path == "" {
		return nil
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode chat settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write chat settings: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace chat settings: %w", err)
	}
	r.lastWritten = data
	return nil
}

// decodeSettings overlays YAML onto base so omitted fields keep their value.
func decodeSettings(data []byte, base ChatSettings) (ChatSettings, error) {
	settings := base.Clone()
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return ChatSettings{}, fmt.Errorf("parse chat settings: %w", err)
	}
	settings = settings.Normalize()
	if err := settings.Validate(); err != nil {
		return ChatSettings{}, err
	}
	return settings, nil
}
