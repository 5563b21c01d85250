package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zereker/vectorstore/internal/server"
	"github.com/Zereker/vectorstore/pkg/snapshot"
	"github.com/Zereker/vectorstore/pkg/vector"
)

var exportCmd = &cobra.Command{
	Use:   "export [name]",
	Short: "Export the configured collection to a snapshot",
	Long: `Export every record of the configured collection, vectors included, to a
zstd-compressed snapshot in the configured sink.

Without a name the snapshot is called <collection>-<timestamp>.jsonl.zst.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import [name]",
	Short: "Import a snapshot into the configured collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List the snapshots in the configured sink",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sink, err := snapshot.NewSink(cfg.Snapshot)
		if err != nil {
			return err
		}
		names, err := sink.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd, snapshotsCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	return withStore(cmd.Context(), func(cfg server.Config, store vector.Store) error {
		scanner, ok := store.(vector.Scanner)
		if !ok {
			return fmt.Errorf("backend %s cannot be exported", cfg.Storage.Backend)
		}

		sink, err := snapshot.NewSink(cfg.Snapshot)
		if err != nil {
			return err
		}

		name := snapshotName(cfg, args)
		count, err := snapshot.Export(cmd.Context(), scanner, sink, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", count, name)
		return nil
	})
}

func runImport(cmd *cobra.Command, args []string) error {
	return withStore(cmd.Context(), func(cfg server.Config, store vector.Store) error {
		sink, err := snapshot.NewSink(cfg.Snapshot)
		if err != nil {
			return err
		}

		result, err := snapshot.Import(cmd.Context(), store, sink, args[0], cfg.Snapshot.ImportOptions())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	})
}

func snapshotName(cfg server.Config, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	collection := cfg.Storage.Cosmos.Collection
	if cfg.Storage.Backend == vector.BackendOpenSearch {
		collection = cfg.Storage.OpenSearch.IndexName
	}
	return fmt.Sprintf("%s-%s.jsonl.zst", collection, time.Now().UTC().Format("20060102T150405Z"))
}
