package event

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind 区分私聊与群聊事件。
type Kind string

const (
	KindPrivate Kind = "private"
	KindGroup   Kind = "group"
)

// TargetKind 表示回复的投递方向。
type TargetKind string

const (
	TargetUser  TargetKind = "user"
	TargetGroup TargetKind = "group"
)

// Target identifies where replies for an event are delivered.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   int64      `json:"id"`
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Kind, t.ID)
}

// Inbound is a normalized chat event entering the dispatch pipeline.
type Inbound struct {
	Kind       Kind      `json:"kind"`
	UserID     int64     `json:"userId"`
	GroupID    int64     `json:"groupId,omitempty"`
	GroupName  string    `json:"groupName,omitempty"`
	SenderName string    `json:"senderName,omitempty"`
	Text       string    `json:"text"`
	Mentioned  bool      `json:"mentioned"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// shanghai is fixed rather than loaded so hosts without tzdata behave the same.
var shanghai = time.FixedZone("CST", 8*60*60)

// Target returns the reply destination: the group for group events, the user otherwise.
func (e Inbound) Target() Target {
	if e.Kind == KindGroup {
		return Target{Kind: TargetGroup, ID: e.GroupID}
	}
	return Target{Kind: TargetUser, ID: e.UserID}
}

// HasText reports whether the event carries non-blank text.
func (e Inbound) HasText() bool {
	return strings.TrimSpace(e.Text) != ""
}

// ContextText 生成带结构化前缀的消息文本，作为发送给模型以及写入记忆的用户输入。
func (e Inbound) ContextText() string {
	text := strings.TrimSpace(e.Text)
	if text == "" {
		return ""
	}

	chatType := "私聊"
	groupID := "N/A"
	groupName := "N/A"
	if e.Kind == KindGroup {
		chatType = "群聊"
		groupID = strconv.FormatInt(e.GroupID, 10)
		groupName = strings.TrimSpace(e.GroupName)
		if groupName == "" {
			groupName = "群" + groupID
		}
	}

	userName := strings.TrimSpace(e.SenderName)
	if userName == "" {
		userName = "未知用户"
	}

	received := e.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}

	return fmt.Sprintf("[%s|QQ:%d|昵称:%s|群号:%s|群名:%s|时间:%s] %s",
		chatType,
		e.UserID,
		userName,
		groupID,
		groupName,
		received.In(shanghai).Format("2006/1/2 15:04:05"),
		text,
	)
}
