package speech

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tavern-link/backend/internal/analysis/emotion"
	"github.com/zhouzirui/tavern-link/backend/internal/config"
	speechmodel "github.com/zhouzirui/tavern-link/backend/internal/model/speech"
)

type recordingBackend struct {
	got []speechmodel.SynthesisRequest
	err error
}

func (b *recordingBackend) Synthesize(_ context.Context, req speechmodel.SynthesisRequest) (speechmodel.Audio, error) {
	b.got = append(b.got, req)
	if b.err != nil {
		return speechmodel.Audio{}, b.err
	}
	return speechmodel.Audio{Data: []byte("audio"), Format: "mp3"}, nil
}

func TestSynthesizerWritesAudioFile(t *testing.T) {
	backend := &recordingBackend{}
	cfg := config.SpeechConfig{AudioDir: t.TempDir(), Voice: "tavern-keeper", Emotion: true, Timeout: 5}

	s, err := NewSynthesizer(cfg, WithBackend(backend))
	require.NoError(t, err)
	require.True(t, s.Enabled())

	audio, err := s.Synthesize(context.Background(), "  哈哈，太好了  ")
	require.NoError(t, err)
	require.FileExists(t, audio.Path)

	data, err := os.ReadFile(audio.Path)
	require.NoError(t, err)
	require.Equal(t, "audio", string(data))

	require.Len(t, backend.got, 1)
	require.Equal(t, "哈哈，太好了", backend.got[0].Text)
	require.Equal(t, "zh_female_vv_uranus_bigtts", backend.got[0].Voice)
	require.Empty(t, backend.got[0].Emotion, "voice without emotion support")
}

func TestSynthesizerEmotionForEmotionalVoice(t *testing.T) {
	backend := &recordingBackend{}
	cfg := config.SpeechConfig{AudioDir: t.TempDir(), Voice: "bard", Emotion: true}

	s, err := NewSynthesizer(cfg, WithBackend(backend))
	require.NoError(t, err)

	_, err = s.Synthesize(context.Background(), "哈哈，太好了")
	require.NoError(t, err)
	require.Equal(t, "happy", backend.got[0].Emotion)
	require.Greater(t, backend.got[0].EmotionScale, float32(0))
}

type fixedEmotion struct {
	decision emotion.Decision
	calls    int
}

func (f *fixedEmotion) Classify(context.Context, string) emotion.Decision {
	f.calls++
	return f.decision
}

func TestSynthesizerUsesEmotionSource(t *testing.T) {
	backend := &recordingBackend{}
	src := &fixedEmotion{decision: emotion.Decision{Emotion: emotion.Sad, Scale: 4, Score: 8}}

	s, err := NewSynthesizer(config.SpeechConfig{AudioDir: t.TempDir(), Voice: "bard", Emotion: true},
		WithBackend(backend), WithEmotionSource(src))
	require.NoError(t, err)

	_, err = s.Synthesize(context.Background(), "哈哈，太好了")
	require.NoError(t, err)
	require.Equal(t, "sad", backend.got[0].Emotion)
	require.Equal(t, float32(4), backend.got[0].EmotionScale)

	plain, err := NewSynthesizer(config.SpeechConfig{AudioDir: t.TempDir(), Voice: "tavern-keeper", Emotion: true},
		WithBackend(backend), WithEmotionSource(src))
	require.NoError(t, err)
	_, err = plain.Synthesize(context.Background(), "你好")
	require.NoError(t, err)
	require.Equal(t, 1, src.calls, "voices without emotion support skip classification")
}

func TestSynthesizerDisabledAndFailure(t *testing.T) {
	disabled, err := NewSynthesizer(config.SpeechConfig{})
	require.NoError(t, err)
	require.False(t, disabled.Enabled())
	_, err = disabled.Synthesize(context.Background(), "x")
	require.ErrorIs(t, err, ErrDisabled)

	boom := errors.New("boom")
	s, err := NewSynthesizer(config.SpeechConfig{AudioDir: t.TempDir()}, WithBackend(&recordingBackend{err: boom}))
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), "x")
	require.ErrorIs(t, err, boom)
}
