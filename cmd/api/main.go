package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/tavern-link/backend/internal/config"
	"github.com/zhouzirui/tavern-link/backend/internal/handler"
	"github.com/zhouzirui/tavern-link/backend/internal/logging"
	"github.com/zhouzirui/tavern-link/backend/internal/model/character"
	"github.com/zhouzirui/tavern-link/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-link/backend/internal/model/event"
	"github.com/zhouzirui/tavern-link/backend/internal/observability"
	"github.com/zhouzirui/tavern-link/backend/internal/service/ai"
	"github.com/zhouzirui/tavern-link/backend/internal/service/dispatch"
	"github.com/zhouzirui/tavern-link/backend/internal/service/emotion"
	"github.com/zhouzirui/tavern-link/backend/internal/service/memory"
	"github.com/zhouzirui/tavern-link/backend/internal/service/prompt"
	"github.com/zhouzirui/tavern-link/backend/internal/service/rewrite"
	"github.com/zhouzirui/tavern-link/backend/internal/service/speech"
	"github.com/zhouzirui/tavern-link/backend/internal/service/sticky"
	"github.com/zhouzirui/tavern-link/backend/internal/storage"
	"github.com/zhouzirui/tavern-link/backend/internal/transport/onebot"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logs, logCloser, err := logging.Setup(logging.Options{Level: cfg.Log.Level, Dir: cfg.Log.Dir, Pretty: cfg.Log.Pretty})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if envErr != nil {
		log.Warn().Err(envErr).Msg("failed to load .env file, continuing with system environment variables only")
	}

	if err := run(ctx, cfg, logs); err != nil {
		log.Error().Err(err).Msg("tavern-link stopped with error")
		logCloser.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logs *logging.Broadcaster) error {
	metrics := observability.NewMetrics("tavern")

	docs, err := storage.New(ctx, storage.Options{
		Backend:       cfg.Storage.Backend,
		DataDir:       cfg.Storage.DataDir,
		SQLitePath:    cfg.Storage.SQLitePath,
		RedisAddr:     cfg.Storage.RedisAddr,
		RedisPassword: cfg.Storage.RedisPassword,
		RedisDB:       cfg.Storage.RedisDB,
		RedisPrefix:   "tavern:",
		DatabaseURL:   cfg.Storage.DatabaseURL,
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer docs.Close()

	runtime, err := config.NewRuntime(cfg.Chat.SettingsFile, cfg.Chat.Defaults)
	if err != nil {
		return err
	}

	store, err := memory.Open(ctx, docs, memory.RuntimeLimits(runtime), memory.WithMetrics(metrics))
	if err != nil {
		return err
	}
	ledger, err := sticky.Open(ctx, docs, sticky.WithMetrics(metrics))
	if err != nil {
		return err
	}
	log.Info().Str("backend", cfg.Storage.Backend).Int("turns", store.Len()).Int("stickyEntries", ledger.Count()).Msg("shared memory loaded")

	cards := character.Seed()
	if cfg.Chat.CharacterDir != "" {
		loaded, err := character.LoadDir(cfg.Chat.CharacterDir)
		if err != nil {
			return err
		}
		if len(loaded) > 0 {
			cards = loaded
		}
	}
	characters := character.NewMemoryStore(cards)

	rewriter, err := rewrite.New(runtime.Snapshot().ReplyRules)
	if err != nil {
		log.Warn().Err(err).Msg("some reply rules were skipped")
	}
	runtime.Subscribe(func(s config.ChatSettings) {
		if err := rewriter.SetRules(s.ReplyRules); err != nil {
			log.Warn().Err(err).Msg("some reply rules were skipped")
		}
	})

	var bridge *onebot.Client
	if cfg.OneBot.Enabled() {
		bridge = onebot.New(cfg.OneBot, onebot.WithMetrics(metrics))
	}

	var client ai.Client
	if cfg.AI.Enabled() {
		if client, err = ai.New(ctx, cfg.AI); err != nil {
			return err
		}
	}

	speechOpts := []speech.Option{speech.WithMetrics(metrics)}
	if cfg.Speech.EmotionLLM && client != nil {
		speechOpts = append(speechOpts, speech.WithEmotionSource(emotion.NewClassifier(client, 0)))
	}
	synth, err := speech.NewSynthesizer(cfg.Speech, speechOpts...)
	if err != nil {
		return err
	}
	if !synth.Enabled() {
		log.Info().Msg("语音服务凭证未配置，语音片段将以文本发送")
	}

	var dispatcher *dispatch.Dispatcher
	switch {
	case client == nil:
		log.Warn().Str("provider", cfg.AI.Provider).Msg("AI 凭证未配置，仅启动控制面板")
	case bridge == nil:
		log.Warn().Msg("ONEBOT_URL 未配置，仅启动控制面板")
	default:
		builder := prompt.NewCharacterBuilder(characters, runtime.Snapshot().DefaultCharacter)
		dispatcher, err = dispatch.New(dispatch.Deps{
			Settings:    runtime,
			Assembler:   prompt.NewAssembler(store, ledger, builder, chat.GlobalConversation),
			Model:       client,
			Rewriter:    rewriter,
			Memory:      store,
			Ledger:      ledger,
			Synthesizer: synth,
			Transport:   bridge,
		}, dispatch.WithMetrics(metrics))
		if err != nil {
			return err
		}
	}

	deps := handler.Deps{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Runtime:        runtime,
		Characters:     characters,
		Memory:         store,
		Ledger:         ledger,
		Logs:           logs,
		Metrics:        metrics,
		AudioDir:       synth.Dir(),
		CheckSettings: func(s config.ChatSettings) error {
			_, err := rewrite.New(s.ReplyRules)
			return err
		},
	}
	if bridge != nil {
		deps.Health = bridge
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("tavern-link listening")
		return runServer(gctx, srv)
	})
	g.Go(func() error { return runtime.Watch(gctx) })
	if dispatcher != nil {
		g.Go(func() error { return dispatcher.Run(gctx) })
		g.Go(func() error {
			return bridge.Run(gctx, func(ev event.Inbound) { dispatcher.Enqueue(ev) })
		})
	}

	err = g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if ferr := store.Flush(flushCtx); ferr != nil {
		log.Error().Err(ferr).Msg("final memory flush failed")
	}
	if ferr := ledger.Flush(flushCtx); ferr != nil {
		log.Error().Err(ferr).Msg("final sticky ledger flush failed")
	}
	log.Info().Msg("tavern-link stopped")
	return err
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
