package speech

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/tavern-link/backend/internal/analysis/emotion"
	"github.com/zhouzirui/tavern-link/backend/internal/config"
	speechmodel "github.com/zhouzirui/tavern-link/backend/internal/model/speech"
	"github.com/zhouzirui/tavern-link/backend/internal/observability"
)

// ErrDisabled is returned when synthesis is requested without credentials.
var ErrDisabled = errors.New("speech synthesis is disabled")

// Backend performs a single synthesis call.
type Backend interface {
	Synthesize(ctx context.Context, req speechmodel.SynthesisRequest) (speechmodel.Audio, error)
}

// EmotionSource chooses the voice emotion for a line.
type EmotionSource interface {
	Classify(ctx context.Context, line string) emotion.Decision
}

// Synthesizer turns reply text into an audio file under the audio directory.
type Synthesizer struct {
	backend Backend
	dir     string
	voice   string
	emotion bool
	source  EmotionSource
	timeout time.Duration
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// Option customizes a Synthesizer.
type Option func(*Synthesizer)

// WithBackend replaces the Volcengine client.
func WithBackend(b Backend) Option {
	return func(s *Synthesizer) { s.backend = b }
}

// WithEmotionSource replaces the keyword heuristics used to pick the voice emotion.
func WithEmotionSource(src EmotionSource) Option {
	return func(s *Synthesizer) { s.source = src }
}

// WithMetrics counts synthesis failures.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Synthesizer) { s.metrics = m }
}

// NewSynthesizer builds a Synthesizer from configuration. Without credentials
// and no explicit backend the synthesizer reports itself disabled.
func NewSynthesizer(cfg config.SpeechConfig, opts ...Option) (*Synthesizer, error) {
	s := &Synthesizer{
		dir:     cfg.AudioDir,
		voice:   resolveVoice(cfg.Voice),
		emotion: cfg.Emotion,
		timeout: time.Duration(cfg.Timeout) * time.Second,
		logger:  log.With().Str("component", "speech").Logger(),
	}
	if cfg.Enabled {
		s.backend = NewVolcengineClient(cfg.AppID, cfg.AccessToken, cfg.Voice, cfg.Speed, cfg.Volume, cfg.Language)
	}
	for _, opt := range opts {
		opt(s)
	}

	if strings.TrimSpace(s.dir) == "" {
		s.dir = filepath.Join("data", "audio")
	}
	if s.backend != nil {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audio dir: %w", err)
		}
	}
	return s, nil
}

// Enabled reports whether a backend is available.
func (s *Synthesizer) Enabled() bool {
	return s != nil && s.backend != nil
}

// Dir returns the directory audio files are written to.
func (s *Synthesizer) Dir() string {
	return s.dir
}

// Synthesize renders text to speech and stores the result as <uuid>.<format>.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (speechmodel.Audio, error) {
	if !s.Enabled() {
		return speechmodel.Audio{}, ErrDisabled
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return speechmodel.Audio{}, errors.New("nothing to synthesize")
	}

	req := speechmodel.SynthesisRequest{Text: text, Voice: s.voice}
	if s.emotion && supportsEmotion(s.voice) {
		req.Emotion, req.EmotionScale = emotionParams(s.voice, s.decide(ctx, text))
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	audio, err := s.backend.Synthesize(ctx, req)
	if err != nil {
		s.metrics.SynthesisFailed()
		return speechmodel.Audio{}, fmt.Errorf("synthesize: %w", err)
	}

	format := audio.Format
	if format == "" {
		format = defaultFormat
	}
	name := uuid.NewString() + "." + format
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, audio.Data, 0o644); err != nil {
		s.metrics.SynthesisFailed()
		return speechmodel.Audio{}, fmt.Errorf("write audio file: %w", err)
	}
	audio.Format = format
	audio.Path = path
	audio.FileName = name

	s.logger.Info().
		Str("file", name).
		Int("bytes", len(audio.Data)).
		Str("emotion", req.Emotion).
		Dur("elapsed", time.Since(start)).
		Msg("speech synthesized")
	return audio, nil
}

func (s *Synthesizer) decide(ctx context.Context, text string) emotion.Decision {
	if s.source != nil {
		return s.source.Classify(ctx, text)
	}
	return emotion.Analyze("", text)
}
