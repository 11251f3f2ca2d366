package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	speechmodel "github.com/zhouzirui/tavern-link/backend/internal/model/speech"
)

// DefaultEndpoint is the Volcengine unidirectional streaming TTS endpoint.
const DefaultEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

const defaultFormat = "mp3"

// ServerError is a non-zero status reported by the TTS service.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("tts server error %d: %s", e.Code, e.Message)
}

// resourceMismatch reports errors caused by pairing a speaker with the wrong resource id.
func resourceMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched")
}

// VolcengineClient synthesizes speech over the Volcengine binary websocket protocol.
type VolcengineClient struct {
	appID       string
	accessToken string
	endpoint    string
	voice       string
	speed       float32
	volume      float32
	language    string

	dialer *websocket.Dialer
	logger zerolog.Logger
}

// ClientOption customizes a VolcengineClient.
type ClientOption func(*VolcengineClient)

// WithEndpoint overrides the websocket endpoint.
func WithEndpoint(url string) ClientOption {
	return func(c *VolcengineClient) {
		if strings.TrimSpace(url) != "" {
			c.endpoint = url
		}
	}
}

// NewVolcengineClient builds a client with the given credentials and voice defaults.
func NewVolcengineClient(appID, accessToken, voice string, speed, volume float32, language string, opts ...ClientOption) *VolcengineClient {
	c := &VolcengineClient{
		appID:       strings.TrimSpace(appID),
		accessToken: strings.TrimSpace(accessToken),
		endpoint:    DefaultEndpoint,
		voice:       strings.TrimSpace(voice),
		speed:       speed,
		volume:      volume,
		language:    strings.TrimSpace(language),
		dialer:      &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger:      log.With().Str("component", "tts").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Language    string         `json:"language,omitempty"`
		Additions   string         `json:"additions,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format       string  `json:"format"`
	SampleRate   int     `json:"sample_rate"`
	SpeedRatio   float32 `json:"speed_ratio,omitempty"`
	VolumeRatio  float32 `json:"volume_ratio,omitempty"`
	Emotion      string  `json:"emotion,omitempty"`
	EmotionScale float32 `json:"emotion_scale,omitempty"`
}

type ttsReply struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

// Synthesize converts req.Text to audio. When the service rejects a
// speaker/resource pairing the next candidate is tried.
func (c *VolcengineClient) Synthesize(ctx context.Context, req speechmodel.SynthesisRequest) (speechmodel.Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return speechmodel.Audio{}, errors.New("tts text is empty")
	}
	if c.appID == "" || c.accessToken == "" {
		return speechmodel.Audio{}, errors.New("tts credentials are not configured")
	}

	speakers := speakerCandidates(req.Voice, c.voice)
	if len(speakers) == 0 {
		return speechmodel.Audio{}, errors.New("no tts voice configured")
	}

	var lastErr error
	for _, speaker := range speakers {
		for _, resource := range resourceCandidates(speaker) {
			audio, err := c.attempt(ctx, req, speaker, resource)
			if err == nil {
				return audio, nil
			}
			if !resourceMismatch(err) {
				return speechmodel.Audio{}, err
			}
			c.logger.Warn().Str("voice", speaker).Str("resource", resource).Err(err).Msg("resource mismatch, trying next candidate")
			lastErr = err
		}
	}
	return speechmodel.Audio{}, lastErr
}

func (c *VolcengineClient) attempt(ctx context.Context, req speechmodel.SynthesisRequest, speaker, resource string) (speechmodel.Audio, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", c.appID)
	header.Set("X-Api-Access-Key", c.accessToken)
	header.Set("X-Api-Resource-Id", resource)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return speechmodel.Audio{}, fmt.Errorf("dial tts: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if resp != nil {
		if logID := resp.Header.Get("X-Tt-Logid"); logID != "" {
			c.logger.Debug().Str("logid", logID).Str("voice", speaker).Msg("tts connected")
		}
	}

	body, err := json.Marshal(c.buildRequest(req, speaker))
	if err != nil {
		return speechmodel.Audio{}, fmt.Errorf("encode tts request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, newRequestFrame(body).encode()); err != nil {
		return speechmodel.Audio{}, fmt.Errorf("send tts request: %w", err)
	}

	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return speechmodel.Audio{}, ctxErr
			}
			return speechmodel.Audio{}, fmt.Errorf("read tts reply: %w", err)
		}

		f, err := decodeFrame(data)
		if err != nil {
			return speechmodel.Audio{}, fmt.Errorf("decode tts frame: %w", err)
		}
		payload, err := f.body()
		if err != nil {
			return speechmodel.Audio{}, err
		}

		var reply ttsReply
		switch f.kind {
		case frameError:
			return speechmodel.Audio{}, &ServerError{Code: int(f.errorCode), Message: string(payload)}

		case frameAudioOnlyReply:
			audio.Write(payload)

		case frameFullServerReply:
			if len(payload) > 0 && f.serialization == serializationJSON {
				if err := json.Unmarshal(payload, &reply); err != nil {
					c.logger.Warn().Err(err).Msg("unparsable tts reply payload")
				}
			}
			if reply.Code != 0 && reply.Code != 3000 {
				return speechmodel.Audio{}, &ServerError{Code: reply.Code, Message: reply.Message}
			}
			if reply.ReqID != "" {
				reqID = reply.ReqID
			}
			if ms, err := strconv.ParseInt(reply.Addition.Duration, 10, 64); err == nil {
				duration = ms
			}
			if reply.Data != "" {
				chunk, err := base64.StdEncoding.DecodeString(reply.Data)
				if err != nil {
					return speechmodel.Audio{}, fmt.Errorf("decode tts audio chunk: %w", err)
				}
				audio.Write(chunk)
			}

		default:
			c.logger.Debug().Int("type", int(f.kind)).Msg("ignoring tts frame")
			continue
		}

		finished := f.last() || reply.Sequence < 0 || (f.hasEvent() && f.event == eventSessionFinished)
		if !finished {
			continue
		}
		if audio.Len() == 0 {
			return speechmodel.Audio{}, errors.New("tts returned no audio")
		}
		if reqID == "" {
			reqID = connectID
		}
		return speechmodel.Audio{
			Data:       audio.Bytes(),
			Format:     defaultFormat,
			DurationMs: duration,
			Voice:      speaker,
			RequestID:  reqID,
			CreatedAt:  time.Now(),
		}, nil
	}
}

func (c *VolcengineClient) buildRequest(req speechmodel.SynthesisRequest, speaker string) *ttsRequest {
	out := &ttsRequest{}
	out.User.UID = uuid.NewString()
	out.ReqParams.Speaker = speaker
	out.ReqParams.Text = req.Text
	out.ReqParams.AudioParams = ttsAudioParams{Format: defaultFormat, SampleRate: 24000}

	speed := req.Speed
	if speed <= 0 {
		speed = c.speed
	}
	if speed > 0 && speed != 1 {
		out.ReqParams.AudioParams.SpeedRatio = speed
	}

	volume := req.Volume
	if volume <= 0 {
		volume = c.volume
	}
	if volume > 0 && volume != 1 {
		out.ReqParams.AudioParams.VolumeRatio = volume
	}

	if req.Emotion != "" && supportsEmotion(speaker) {
		out.ReqParams.AudioParams.Emotion = req.Emotion
		out.ReqParams.AudioParams.EmotionScale = req.EmotionScale
	}

	out.ReqParams.Language = c.language
	if lang := strings.TrimSpace(req.Language); lang != "" {
		out.ReqParams.Language = lang
	}
	out.ReqParams.Additions = `{"disable_markdown_filter":false}`
	return out
}
