package cmd

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"github.com/Zereker/vectorstore/internal/server"
	"github.com/Zereker/vectorstore/pkg/vector"
)

func TestConfirm(t *testing.T) {
	c := &cobra.Command{}
	c.Flags().Bool("yes", false, "")

	assert.ErrorContains(t, confirm(c, "drop"), "rerun with --yes")

	_ = c.Flags().Set("yes", "true")
	assert.NoError(t, confirm(c, "drop"))
}

func TestRunEnsure_InvalidArguments(t *testing.T) {
	c := &cobra.Command{}
	c.Flags().String("distance", "cosine", "")

	assert.ErrorContains(t, runEnsure(c, []string{"archive", "zero"}), "positive integer")
	assert.ErrorContains(t, runEnsure(c, []string{"archive", "-3"}), "positive integer")

	_ = c.Flags().Set("distance", "manhattan")
	assert.Error(t, runEnsure(c, []string{"archive", "3"}))
}

func TestSnapshotName(t *testing.T) {
	cfg := server.Config{Storage: vector.Config{Cosmos: vector.CosmosConfig{Collection: "memories"}}}

	assert.Equal(t, "given.jsonl.zst", snapshotName(cfg, []string{"given.jsonl.zst"}))

	name := snapshotName(cfg, nil)
	assert.True(t, strings.HasPrefix(name, "memories-"), name)
	assert.True(t, strings.HasSuffix(name, ".jsonl.zst"), name)

	cfg.Storage.Backend = vector.BackendOpenSearch
	cfg.Storage.OpenSearch.IndexName = "mem0"
	assert.True(t, strings.HasPrefix(snapshotName(cfg, nil), "mem0-"))
}
