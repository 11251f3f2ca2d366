package speech

import (
	"regexp"
	"strings"
)

// PartKind distinguishes spoken from written reply parts.
type PartKind string

const (
	PartText  PartKind = "text"
	PartVoice PartKind = "voice"
)

// Part is one ordered piece of a reply.
type Part struct {
	Kind    PartKind `json:"kind"`
	Content string   `json:"content"`
}

var voiceTag = regexp.MustCompile(`\[voice:([^\]]*)\]`)

// SplitVoiceTags cuts a reply into text and voice parts in their original
// order. Surrounding whitespace is trimmed and empty parts are dropped.
func SplitVoiceTags(reply string) []Part {
	var parts []Part
	add := func(kind PartKind, s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, Part{Kind: kind, Content: s})
		}
	}

	last := 0
	for _, m := range voiceTag.FindAllStringSubmatchIndex(reply, -1) {
		add(PartText, reply[last:m[0]])
		add(PartVoice, reply[m[2]:m[3]])
		last = m[1]
	}
	add(PartText, reply[last:])
	return parts
}

var blankLines = regexp.MustCompile(`\n\n+`)

// SplitParagraphs splits text on blank lines, trimming and dropping empty segments.
func SplitParagraphs(text string) []string {
	var out []string
	for _, seg := range blankLines.Split(text, -1) {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
