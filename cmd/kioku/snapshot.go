package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/snapshot"
)

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write the snapshot directory from the record store and index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			if _, err := eng.ExportSnapshot(cmd.Context()); err != nil {
				return err
			}
			snap, err := eng.ValidateSnapshot("")
			if err != nil {
				return fmt.Errorf("exported snapshot does not validate: %w", err)
			}
			return writeSnapshot(cmd.OutOrStdout(), snap, a.format)
		},
	}
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dir]",
		Short: "Check a snapshot directory and decode its index",
		Long: `Check a snapshot directory: meta, every record, the index checksum,
and that the index decodes with the dimension meta declares.
Without an argument the configured snapshot directory is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Storage.SnapshotDir
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				return errors.New("no snapshot directory: pass one or configure a vault")
			}
			snap, err := snapshot.Load(dir)
			if err != nil {
				return err
			}
			return writeSnapshot(cmd.OutOrStdout(), snap, a.format)
		},
	}
}

func writeSnapshot(w io.Writer, snap *snapshot.Snapshot, format cli.OutputFormat) error {
	if format == cli.OutputJSON {
		return cli.WriteJSON(w, map[string]any{"dir": snap.Dir, "meta": snap.Meta})
	}
	m := snap.Meta
	fmt.Fprintf(w, "snapshot %s is valid\n", snap.Dir)
	fmt.Fprintf(w, "  version %d, %s embeddings (%d dimensions)\n", m.Version, m.EmbeddingMode, m.Dimension)
	fmt.Fprintf(w, "  %d notes, %d index entries\n", m.NoteCount, m.IndexSize)
	fmt.Fprintf(w, "  exported %s (%s ago)\n",
		time.UnixMilli(m.ExportedAt).Format("2006-01-02 15:04:05"),
		m.Age(time.Now()).Round(time.Second))
	return nil
}
