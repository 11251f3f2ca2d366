package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/tavern-link/backend/internal/config"
	"github.com/zhouzirui/tavern-link/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-link/backend/internal/service/memory"
	"github.com/zhouzirui/tavern-link/backend/internal/service/sticky"
	"github.com/zhouzirui/tavern-link/backend/internal/storage"
)

// openStores opens the configured backend. Stores opened here are not shared with
// a running server, so mutating commands should run while it is stopped.
func openStores(ctx context.Context) (*memory.Store, *sticky.Ledger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
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
		return nil, nil, nil, err
	}

	limits := cfg.Chat.Defaults
	store, err := memory.Open(ctx, docs, memory.FixedLimits(limits.MaxGlobalMessages, limits.HistoryLimit))
	if err != nil {
		docs.Close()
		return nil, nil, nil, err
	}
	ledger, err := sticky.Open(ctx, docs)
	if err != nil {
		docs.Close()
		return nil, nil, nil, err
	}
	return store, ledger, func() { docs.Close() }, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Shared memory maintenance",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print memory statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, closeFn, err := openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return printJSON(cmd.OutOrStdout(), store.Stats(cmd.Context()))
		},
	}

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Dump every turn with stats as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, closeFn, err := openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return printJSON(w, store.Export(cmd.Context()))
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "", "write to file instead of stdout")

	var limit int
	search := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Search turns, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, closeFn, err := openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			for _, t := range store.Search(args[0], limit) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s %s\n", t.CreatedAt().Local().Format(time.DateTime), t.Role, t.Content)
			}
			return nil
		},
	}
	search.Flags().IntVarP(&limit, "limit", "n", 50, "maximum results")

	var maxIdle time.Duration
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Drop conversations idle for longer than --max-idle",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, ledger, closeFn, err := openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			removed := store.CleanupIdle(cmd.Context(), maxIdle)
			for _, id := range removed {
				ledger.Forget(cmd.Context(), id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d conversation(s)\n", len(removed))
			return store.Flush(cmd.Context())
		},
	}
	cleanup.Flags().DurationVar(&maxIdle, "max-idle", 24*time.Hour, "idle threshold")

	var yes bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Delete all turns and sticky state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}
			store, ledger, closeFn, err := openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			n := store.Len()
			store.Reset(cmd.Context())
			ledger.Reset(cmd.Context())
			if err := store.Flush(cmd.Context()); err != nil {
				return err
			}
			if err := ledger.Flush(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d turn(s)\n", n)
			return nil
		},
	}
	reset.Flags().BoolVar(&yes, "yes", false, "confirm the reset")

	cmd.AddCommand(stats, export, search, cleanup, reset)
	return cmd
}

func newStickyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sticky [conversation]",
		Short: "Show active sticky world-book entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, ledger, closeFn, err := openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			id := chat.GlobalConversation
			if len(args) == 1 {
				id = args[0]
			}
			return printJSON(cmd.OutOrStdout(), ledger.Entries(id))
		},
	}
}
