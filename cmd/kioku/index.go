package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/syncer"
	"github.com/hyperjump/kioku/internal/watcher"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Index new and changed notes, drop removed ones, and export the snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := a.openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			summary, err := eng.Sync(ctx)
			if err != nil {
				return err
			}
			return cli.WriteSummary(cmd.OutOrStdout(), summary, a.format)
		},
	}
}

func newReindexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the record store and vector index from scratch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := a.openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			var progress syncer.ProgressFunc
			if a.format == cli.OutputText {
				errOut := cmd.ErrOrStderr()
				progress = func(done, total int) {
					fmt.Fprintf(errOut, "\rindexed %d/%d", done, total)
					if done == total {
						fmt.Fprintln(errOut)
					}
				}
			}
			n, err := eng.FullReindex(ctx, progress)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if summary := eng.Syncer().LastSummary(); summary != nil {
				if werr := cli.WriteSummary(cmd.OutOrStdout(), summary, a.format); werr != nil {
					return werr
				}
			}
			if err != nil {
				return fmt.Errorf("reindex interrupted after %d notes: %w", n, err)
			}
			return nil
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Sync once, then keep the index in sync with vault changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := a.openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			summary, err := eng.Sync(ctx)
			if err != nil {
				return err
			}
			if err := cli.WriteSummary(cmd.OutOrStdout(), summary, a.format); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			queue := syncer.NewQueue(eng.Syncer(), time.Duration(a.cfg.Sync.DebounceMS)*time.Millisecond,
				syncer.WithQueueLogger(a.logger),
				syncer.WithResultFunc(func(s *syncer.Summary, err error) {
					if err != nil {
						if !errors.Is(err, context.Canceled) {
							a.logger.Error("sync failed", zap.Error(err))
						}
						return
					}
					if s.Changed() || len(s.Failed) > 0 {
						_ = cli.WriteSummary(out, s, a.format)
					}
				}))
			defer queue.Close()

			w, err := watchVault(ctx, a.cfg.Vault.Root, a.cfg.Vault.Extensions, queue, a.logger)
			if err != nil {
				return err
			}
			defer w.Stop()

			a.logger.Info("watching vault", zap.String("root", a.cfg.Vault.Root))
			<-ctx.Done()
			a.logger.Info("Shutting down...")
			return nil
		},
	}
}

// watchVault starts feeding vault changes into q, then queues one pass for
// edits made before the watch was registered.
func watchVault(ctx context.Context, root string, extensions []string, q *syncer.Queue, logger *zap.Logger) (*watcher.Watcher, error) {
	w := watcher.NewWatcher(root, extensions,
		func(string) { q.Notify() },
		watcher.WithLogger(logger))
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("start watcher: %w", err)
	}
	q.Trigger()
	return w, nil
}
