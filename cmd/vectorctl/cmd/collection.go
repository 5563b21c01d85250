package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Zereker/vectorstore/internal/server"
	"github.com/Zereker/vectorstore/pkg/vector"
)

var ensureCmd = &cobra.Command{
	Use:   "ensure [name] [vector-size]",
	Short: "Create a collection if it does not exist",
	Long: `Create a collection with a vector index of the given dimension.

Examples:
  vectorctl ensure memories 1536
  vectorctl ensure archive 768 --distance euclidean`,
	Args: cobra.ExactArgs(2),
	RunE: runEnsure,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe the configured collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(_ server.Config, store vector.Store) error {
			info, err := store.CollectionInfo(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		})
	},
}

var listColsCmd = &cobra.Command{
	Use:   "list-cols",
	Short: "List the collections of the configured database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(_ server.Config, store vector.Store) error {
			infos, err := store.ListCollections(cmd.Context())
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Fprintln(cmd.OutOrStdout(), info.ID)
			}
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the configured collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := confirm(cmd, "reset"); err != nil {
			return err
		}
		return withStore(cmd.Context(), func(_ server.Config, store vector.Store) error {
			if err := store.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "collection reset")
			return nil
		})
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Delete the configured collection and all of its records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := confirm(cmd, "drop"); err != nil {
			return err
		}
		return withStore(cmd.Context(), func(_ server.Config, store vector.Store) error {
			if err := store.DeleteCollection(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "collection dropped")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(ensureCmd, infoCmd, listColsCmd, resetCmd, dropCmd)

	ensureCmd.Flags().StringP("distance", "d", "cosine", "Distance function: cosine, dotproduct or euclidean")
	resetCmd.Flags().Bool("yes", false, "Confirm the reset")
	dropCmd.Flags().Bool("yes", false, "Confirm the drop")
}

func runEnsure(cmd *cobra.Command, args []string) error {
	name := args[0]
	size, err := strconv.Atoi(args[1])
	if err != nil || size <= 0 {
		return fmt.Errorf("vector size must be a positive integer, got %q", args[1])
	}

	rawDistance, _ := cmd.Flags().GetString("distance")
	distance, err := vector.ParseDistance(rawDistance)
	if err != nil {
		return err
	}

	return withStore(cmd.Context(), func(_ server.Config, store vector.Store) error {
		if err := store.EnsureCollection(cmd.Context(), name, size, distance); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "collection %s ready (%d dimensions, %s)\n", name, size, distance)
		return nil
	})
}
