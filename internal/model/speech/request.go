package speech

// SynthesisRequest 单次语音合成请求
type SynthesisRequest struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice,omitempty"`
	Speed    float32 `json:"speed,omitempty"`
	Volume   float32 `json:"volume,omitempty"`
	Language string  `json:"language,omitempty"`

	// Emotion 为空表示不带情绪参数
	Emotion      string  `json:"emotion,omitempty"`
	EmotionScale float32 `json:"emotionScale,omitempty"`
}
