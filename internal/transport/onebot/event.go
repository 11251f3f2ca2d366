package onebot

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/tavern-link/backend/internal/model/event"
)

// wireEvent is the subset of a OneBot v11 event the bridge consumes.
type wireEvent struct {
	PostType      string          `json:"post_type"`
	MessageType   string          `json:"message_type"`
	MetaEventType string          `json:"meta_event_type"`
	Time          int64           `json:"time"`
	SelfID        int64           `json:"self_id"`
	UserID        int64           `json:"user_id"`
	GroupID       int64           `json:"group_id"`
	GroupName     string          `json:"group_name"`
	Message       json.RawMessage `json:"message"`
	RawMessage    string          `json:"raw_message"`
	Sender        struct {
		Nickname string `json:"nickname"`
		Card     string `json:"card"`
	} `json:"sender"`
}

type segment struct {
	Type string                     `json:"type"`
	Data map[string]json.RawMessage `json:"data"`
}

// field reads a segment data value that may be encoded as a string or a number.
func (s segment) field(name string) string {
	raw, ok := s.Data[name]
	if !ok {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return strings.TrimSpace(string(raw))
}

// normalize converts a message event into an Inbound. The second result is
// false for anything that is not a private or group message.
func (w wireEvent) normalize(selfID int64) (event.Inbound, bool) {
	if w.PostType != "message" {
		return event.Inbound{}, false
	}

	var kind event.Kind
	switch w.MessageType {
	case "private":
		kind = event.KindPrivate
	case "group":
		kind = event.KindGroup
	default:
		return event.Inbound{}, false
	}

	text, mentioned := w.content(selfID)

	name := strings.TrimSpace(w.Sender.Card)
	if name == "" {
		name = strings.TrimSpace(w.Sender.Nickname)
	}

	received := time.Now()
	if w.Time > 0 {
		received = time.Unix(w.Time, 0)
	}

	return event.Inbound{
		Kind:       kind,
		UserID:     w.UserID,
		GroupID:    w.GroupID,
		GroupName:  w.GroupName,
		SenderName: name,
		Text:       text,
		Mentioned:  mentioned,
		ReceivedAt: received,
	}, true
}

// content joins the text segments and reports whether selfID was @-mentioned.
func (w wireEvent) content(selfID int64) (string, bool) {
	self := strconv.FormatInt(selfID, 10)

	var segments []segment
	if err := json.Unmarshal(w.Message, &segments); err != nil {
		// string-format message, CQ codes inline
		raw := w.RawMessage
		var str string
		if json.Unmarshal(w.Message, &str) == nil {
			raw = str
		}
		return parseCQ(raw, self)
	}

	var b strings.Builder
	mentioned := false
	for _, seg := range segments {
		switch seg.Type {
		case "text":
			b.WriteString(seg.field("text"))
		case "at":
			if selfID != 0 && seg.field("qq") == self {
				mentioned = true
			}
		}
	}
	return strings.TrimSpace(b.String()), mentioned
}

var (
	cqCode    = regexp.MustCompile(`\[CQ:[^\]]*\]`)
	cqAt      = regexp.MustCompile(`^\[CQ:at,qq=([^,\]]+)`)
	cqEscapes = strings.NewReplacer("&#91;", "[", "&#93;", "]", "&#44;", ",", "&amp;", "&")
)

func parseCQ(raw, self string) (string, bool) {
	mentioned := false
	for _, code := range cqCode.FindAllString(raw, -1) {
		if m := cqAt.FindStringSubmatch(code); m != nil && self != "0" && m[1] == self {
			mentioned = true
		}
	}
	text := cqCode.ReplaceAllString(raw, "")
	return strings.TrimSpace(cqEscapes.Replace(text)), mentioned
}
