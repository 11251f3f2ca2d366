package speech

import (
	"encoding/base64"
	"time"
)

// Audio 合成后的音频
type Audio struct {
	Data       []byte    `json:"-"`
	Format     string    `json:"format"`
	DurationMs int64     `json:"durationMs"`
	Voice      string    `json:"voice"`
	RequestID  string    `json:"requestId,omitempty"`
	Path       string    `json:"path,omitempty"`
	FileName   string    `json:"fileName,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Base64 returns the audio payload encoded for inline transport.
func (a Audio) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}
