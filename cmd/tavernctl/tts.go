package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/tavern-link/backend/internal/config"
	"github.com/zhouzirui/tavern-link/backend/internal/service/speech"
)

func newTTSCmd() *cobra.Command {
	var (
		voice   string
		dir     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "tts <text>",
		Short: "Synthesize text with the configured voice and print the file path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.Speech.Enabled {
				return fmt.Errorf("语音服务未启用，请先配置 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN")
			}

			speechCfg := cfg.Speech
			if voice != "" {
				speechCfg.Voice = voice
			}
			if dir != "" {
				speechCfg.AudioDir = dir
			}

			synth, err := speech.NewSynthesizer(speechCfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			audio, err := synth.Synthesize(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes, voice=%s, %s)\n",
				audio.Path, len(audio.Data), audio.Voice, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&voice, "voice", "", "voice id or alias, defaults to SPEECH_TTS_VOICE")
	cmd.Flags().StringVar(&dir, "dir", "", "output directory, defaults to SPEECH_AUDIO_DIR")
	cmd.Flags().DurationVar(&timeout, "timeout", 45*time.Second, "request timeout")
	return cmd
}
