package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/tavern-link/backend/internal/config"
	"github.com/zhouzirui/tavern-link/backend/internal/model/event"
	"github.com/zhouzirui/tavern-link/backend/internal/service/speech"
)

// deliver sends parts in order with a pause between consecutive parts.
// Failures are logged and counted; they never stop the remaining parts.
func (d *Dispatcher) deliver(ctx context.Context, logger zerolog.Logger, target event.Target, parts []speech.Part, settings config.ChatSettings) {
	for i, part := range parts {
		if i > 0 {
			d.sleeper.Sleep(partPause)
		}
		switch part.Kind {
		case speech.PartVoice:
			d.deliverVoice(ctx, logger, target, part.Content, settings.TTSEnabled)
		default:
			d.deliverText(ctx, logger, target, part.Content, settings.SplitMessage)
		}
	}
}

func (d *Dispatcher) deliverText(ctx context.Context, logger zerolog.Logger, target event.Target, content string, split bool) {
	segments := []string{content}
	if split {
		segments = speech.SplitParagraphs(content)
	}
	for i, seg := range segments {
		if i > 0 {
			d.sleeper.Sleep(segmentPause)
		}
		d.sendText(ctx, logger, target, seg)
	}
}

func (d *Dispatcher) deliverVoice(ctx context.Context, logger zerolog.Logger, target event.Target, content string, enabled bool) {
	synth := d.deps.Synthesizer
	if !enabled || synth == nil || !synth.Enabled() {
		d.sendText(ctx, logger, target, voiceFallback(content))
		return
	}

	audio, err := synth.Synthesize(ctx, content)
	if err != nil {
		logger.Warn().Err(err).Str("reason", string(ReasonSynthesisFailure)).Msg("speech synthesis failed, sending text instead")
		d.sendText(ctx, logger, target, voiceFallback(content))
		return
	}
	if err := d.deps.Transport.SendAudio(ctx, target, audio); err != nil {
		d.metrics.DeliveryFailed("audio")
		logger.Error().Err(err).Str("reason", string(ReasonDeliveryFailure)).Msg("failed to send voice")
		return
	}
	logger.Info().Str("file", audio.FileName).Msg("voice sent")
}

func (d *Dispatcher) sendText(ctx context.Context, logger zerolog.Logger, target event.Target, text string) {
	if err := d.deps.Transport.SendText(ctx, target, text); err != nil {
		d.metrics.DeliveryFailed("text")
		logger.Error().Err(err).Str("reason", string(ReasonDeliveryFailure)).Msg("failed to send text")
	}
}

func voiceFallback(content string) string {
	return "（语音：" + content + "）"
}
