package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/engine"
	"github.com/hyperjump/kioku/pkg/utils"
)

const defaultConfigPath = "kioku.yaml"

// app carries the state shared by all subcommands.
type app struct {
	configPath string
	vault      string
	debug      bool
	output     string

	cfg    *config.Config
	logger *zap.Logger
	format cli.OutputFormat
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "kioku",
		Short: "Semantic index over a vault of markdown notes",
		Long: `kioku keeps a vector index of a markdown vault in sync and answers
keyword, semantic and hybrid queries over it.

The engine commands (sync, reindex, watch, search, related, export, status)
own the record store. The query commands (serve, mcp) read the exported
snapshot only.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return a.setup()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", defaultConfigPath, "config file path (missing file = defaults)")
	flags.StringVar(&a.vault, "vault", "", "vault root (overrides config and KIOKU_VAULT)")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")
	flags.StringVarP(&a.output, "output", "o", "text", "output format: text, compact, or json")

	root.AddCommand(
		newSyncCmd(a),
		newReindexCmd(a),
		newWatchCmd(a),
		newSearchCmd(a),
		newRelatedCmd(a),
		newStatusCmd(a),
		newExportCmd(a),
		newValidateCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
	)
	return root
}

// setup loads the config and creates the logger.
func (a *app) setup() error {
	format, err := cli.ParseOutputFormat(a.output)
	if err != nil {
		return err
	}
	a.format = format

	cfg, err := config.LoadOrDefault(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.vault != "" {
		abs, err := filepath.Abs(a.vault)
		if err != nil {
			return fmt.Errorf("resolve vault: %w", err)
		}
		cfg.SetVault(abs)
	}
	a.cfg = cfg

	debug := cfg.Debug || a.debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = logger
	logger.Debug("config loaded",
		zap.String("config_path", a.configPath),
		zap.String("vault", cfg.Vault.Root),
		zap.String("embedding_mode", cfg.Embedding.Mode),
		zap.Bool("debug", debug))
	return nil
}

// openEngine opens the engine over the configured vault.
func (a *app) openEngine() (*engine.Engine, error) {
	if a.cfg.Vault.Root == "" {
		return nil, fmt.Errorf("no vault configured: pass --vault, set KIOKU_VAULT, or set vault.root in %s", a.configPath)
	}
	return engine.New(a.cfg, engine.WithLogger(a.logger))
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
