// Package trigger decides whether an inbound event deserves a reply.
package trigger

import (
	"slices"
	"strings"

	"github.com/zhouzirui/tavern-link/backend/internal/config"
	"github.com/zhouzirui/tavern-link/backend/internal/model/event"
)

// Input is everything the decision depends on.
type Input struct {
	Kind          event.Kind
	UserID        int64
	GroupID       int64
	Mentioned     bool
	Text          string
	Mode          string
	Keywords      []string
	AllowedGroups []int64
	AllowedUsers  []int64
}

// InputFor combines an event with the current chat settings.
func InputFor(ev event.Inbound, settings config.ChatSettings) Input {
	return Input{
		Kind:          ev.Kind,
		UserID:        ev.UserID,
		GroupID:       ev.GroupID,
		Mentioned:     ev.Mentioned,
		Text:          ev.Text,
		Mode:          settings.TriggerMode,
		Keywords:      settings.TriggerKeywords,
		AllowedGroups: settings.AllowedGroups,
		AllowedUsers:  settings.AllowedUsers,
	}
}

// Decide reports whether to respond.
//
// Blank text never responds. Allow-lists, when non-empty, must contain the group
// (group events) and the user. Group events then respond only when the bot is
// mentioned; private events respond in always mode or, in keyword mode, when the
// text contains a keyword (case-sensitive). An unknown mode behaves like always.
func Decide(in Input) bool {
	if strings.TrimSpace(in.Text) == "" {
		return false
	}

	if in.Kind == event.KindGroup && len(in.AllowedGroups) > 0 && !slices.Contains(in.AllowedGroups, in.GroupID) {
		return false
	}
	if len(in.AllowedUsers) > 0 && !slices.Contains(in.AllowedUsers, in.UserID) {
		return false
	}

	if in.Kind == event.KindGroup {
		return in.Mentioned
	}

	if in.Mode != config.TriggerKeyword {
		return true
	}
	for _, kw := range in.Keywords {
		if kw != "" && strings.Contains(in.Text, kw) {
			return true
		}
	}
	return false
}
