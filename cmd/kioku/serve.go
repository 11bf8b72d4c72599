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

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/mcp"
	"github.com/hyperjump/kioku/internal/reader"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/server"
)

const reloadDebounce = 250 * time.Millisecond

// openReader loads the configured snapshot and follows it for new exports.
func (a *app) openReader(ctx context.Context) (*reader.Reader, func(), error) {
	dir := a.cfg.Storage.SnapshotDir
	if dir == "" {
		return nil, nil, errors.New("no snapshot directory: configure a vault or storage.snapshot_dir")
	}
	rd, err := reader.Open(ctx, dir,
		reader.WithLogger(a.logger),
		reader.WithModelDir(a.cfg.Embedding.ModelDir),
		reader.WithCacheSize(a.cfg.Embedding.CacheSize),
		reader.WithSearchOptions(search.Options{
			KeywordWeight:  a.cfg.Search.BM25Weight,
			SemanticWeight: a.cfg.Search.SemanticWeight,
			RRFK:           a.cfg.Search.RRFK,
			EfSearch:       a.cfg.Index.EfSearch,
			Candidates:     a.cfg.Search.MaxLimit,
			TitleBoost:     a.cfg.Search.TitleBoost,
			Fuzziness:      a.cfg.Search.Fuzziness,
		}))
	if err != nil {
		return nil, nil, fmt.Errorf("open snapshot (run kioku sync first): %w", err)
	}
	w, err := rd.Follow(ctx, reloadDebounce)
	if err != nil {
		_ = rd.Close()
		return nil, nil, fmt.Errorf("watch snapshot: %w", err)
	}
	return rd, func() {
		w.Stop()
		_ = rd.Close()
	}, nil
}

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP query API from the snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if port > 0 {
				a.cfg.Server.Port = port
			}

			rd, closeReader, err := a.openReader(ctx)
			if err != nil {
				return err
			}
			defer closeReader()

			srv := server.NewServer(rd, a.cfg, a.logger)
			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			a.logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the vault tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rd, closeReader, err := a.openReader(ctx)
			if err != nil {
				return err
			}
			defer closeReader()

			s := mcp.NewServer(rd, version, a.cfg.Search.DefaultLimit)
			a.logger.Debug("mcp server on stdio", zap.String("snapshot", rd.Dir()))
			return mcpserver.ServeStdio(s)
		},
	}
}
