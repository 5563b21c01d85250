package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Zereker/vectorstore/internal/server"
	"github.com/Zereker/vectorstore/pkg/log"
	"github.com/Zereker/vectorstore/pkg/vector"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vectorctl",
	Short: "vectorctl - administer the configured vector collection",
	Long: `vectorctl manages the collection configured for the vectorstore service.

It reads the same TOML file as the service and talks to the storage backend directly:
- create, inspect, reset and drop collections
- export the collection to a compressed snapshot
- import a snapshot back into the collection`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/config.toml", "config file")
}

// loadConfig reads the service configuration and initializes logging.
func loadConfig() (server.Config, error) {
	cfg, err := server.LoadConfig(cfgFile)
	if err != nil {
		return cfg, err
	}
	if err := log.Init(cfg.Log); err != nil {
		return cfg, errors.WithMessage(err, "init log")
	}
	return cfg, nil
}

// withStore opens the configured store for the duration of fn.
func withStore(ctx context.Context, fn func(cfg server.Config, store vector.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := vector.Open(ctx, cfg.Storage)
	if err != nil {
		return errors.WithMessage(err, "open store")
	}
	defer func() { _ = store.Close() }()

	return fn(cfg, store)
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// confirm fails unless --yes was given.
func confirm(cmd *cobra.Command, action string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		return fmt.Errorf("%s is destructive, rerun with --yes", action)
	}
	return nil
}
