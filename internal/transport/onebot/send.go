package onebot

import (
	"context"
	"fmt"

	"github.com/zhouzirui/tavern-link/backend/internal/model/event"
	speechmodel "github.com/zhouzirui/tavern-link/backend/internal/model/speech"
)

type messageSegment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

// SendText sends a plain text message to target.
func (c *Client) SendText(ctx context.Context, target event.Target, text string) error {
	return c.send(ctx, target, messageSegment{Type: "text", Data: map[string]string{"text": text}})
}

// SendAudio sends a voice record. The file is referenced through the audio
// base URL when configured and inlined as base64 otherwise.
func (c *Client) SendAudio(ctx context.Context, target event.Target, audio speechmodel.Audio) error {
	file := "base64://" + audio.Base64()
	if c.audioBaseURL != "" && audio.FileName != "" {
		file = c.audioBaseURL + "/" + audio.FileName
	}
	return c.send(ctx, target, messageSegment{Type: "record", Data: map[string]string{"file": file}})
}

func (c *Client) send(ctx context.Context, target event.Target, segments ...messageSegment) error {
	var (
		action string
		params map[string]any
	)
	switch target.Kind {
	case event.TargetGroup:
		action = "send_group_msg"
		params = map[string]any{"group_id": target.ID, "message": segments}
	case event.TargetUser:
		action = "send_private_msg"
		params = map[string]any{"user_id": target.ID, "message": segments}
	default:
		return fmt.Errorf("unknown target kind %q", target.Kind)
	}

	_, err := c.call(ctx, action, params)
	return err
}
