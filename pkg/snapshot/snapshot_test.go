package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/vectorstore/pkg/vector"
	"github.com/Zereker/vectorstore/pkg/vector/cosmostest"
)

func newStore(t *testing.T) *vector.CosmosStore {
	t.Helper()
	store, err := vector.NewCosmosStoreWithAccount(context.Background(), vector.CosmosConfig{
		Endpoint:         "https://localhost:8081/",
		Database:         "mem0",
		Collection:       "memories",
		VectorSize:       3,
		CreateCollection: true,
	}, cosmostest.NewAccount())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store vector.Store, n int) {
	t.Helper()
	ids := make([]string, n)
	vectors := make([][]float32, n)
	payloads := make([]map[string]any, n)
	for i := range n {
		ids[i] = fmt.Sprintf("m%03d", i)
		vectors[i] = []float32{float32(i), 1, 0}
		payloads[i] = map[string]any{"data": fmt.Sprintf("memory %d", i), "user_id": "alice"}
	}
	results, err := store.Insert(context.Background(), vectors, payloads, ids)
	require.NoError(t, err)
	require.Empty(t, vector.FailedIDs(results))
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	source := newStore(t)
	seed(t, source, 25)

	count, err := Export(ctx, source, sink, "memories.jsonl.zst")
	require.NoError(t, err)
	assert.Equal(t, 25, count)

	names, err := sink.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"memories.jsonl.zst"}, names)

	target := newStore(t)
	result, err := Import(ctx, target, sink, "memories.jsonl.zst", ImportOptions{BatchSize: 10, RecordsPerSecond: 1e6})
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Written: 25}, result)

	out, err := target.Get(ctx, "m007")
	require.NoError(t, err)
	assert.Equal(t, "memory 7", out.Payload["data"])

	hits, err := target.Search(ctx, vector.SearchRequest{Vector: []float32{7, 1, 0}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m007", hits[0].ID)
}

func TestExportImport_PayloadFidelity(t *testing.T) {
	ctx := context.Background()
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	account := cosmostest.NewAccount()
	source, err := vector.NewCosmosStoreWithAccount(ctx, vector.CosmosConfig{
		Endpoint:         "https://localhost:8081/",
		Database:         "mem0",
		Collection:       "memories",
		VectorSize:       3,
		CreateCollection: true,
	}, account)
	require.NoError(t, err)

	_, err = source.Insert(ctx, [][]float32{{1, 0, 0}}, []map[string]any{{"data": "big", "n": json.Number("9007199254740993")}}, []string{"big"})
	require.NoError(t, err)
	account.PutRaw("mem0", "memories", "raw", []byte(`{"id":"raw","vector":[0,1,0],"payload":"not json"}`))

	count, err := Export(ctx, source, sink, "fidelity")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	target := newStore(t)
	result, err := Import(ctx, target, sink, "fidelity", ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)
	assert.Equal(t, []string{"raw"}, result.FailedIDs)

	out, err := target.Get(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), out.Payload["n"])
}

func TestImport_PartialFailure(t *testing.T) {
	ctx := context.Background()
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	writeSnapshot(t, sink, "mixed",
		`{"id":"a","vector":[1,0,0],"payload":{"data":"ok"}}`,
		`{"id":"b","vector":[1,0],"payload":{}}`,
		`{"id":"","vector":[1,0,0],"payload":{}}`,
		`{"id":"c","vector":[0,1,0],"payload":null}`,
	)

	result, err := Import(ctx, newStore(t), sink, "mixed", ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Written)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, []string{"b"}, result.FailedIDs)
}

func TestImport_Errors(t *testing.T) {
	ctx := context.Background()
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	t.Run("missing snapshot", func(t *testing.T) {
		_, err := Import(ctx, newStore(t), sink, "missing", ImportOptions{})
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("corrupt line", func(t *testing.T) {
		writeSnapshot(t, sink, "corrupt", `{"id":"a","vector":[1,0,0]}`, `{"id":`)
		_, err := Import(ctx, newStore(t), sink, "corrupt", ImportOptions{})
		assert.ErrorContains(t, err, "decode corrupt")
	})

	t.Run("cancelled while throttled", func(t *testing.T) {
		writeSnapshot(t, sink, "slow", `{"id":"a","vector":[1,0,0]}`, `{"id":"b","vector":[1,0,0]}`)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Import(cctx, newStore(t), sink, "slow", ImportOptions{BatchSize: 1, RecordsPerSecond: 0.001})
		assert.Error(t, err)
	})
}

type failingScanner struct{}

func (failingScanner) Scan(_ context.Context, fn func(vector.Record) error) error {
	if err := fn(vector.Record{ID: "a", Vector: []float32{1}}); err != nil {
		return err
	}
	return errors.New("scan interrupted")
}

func TestExport_FailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	_, err = Export(context.Background(), failingScanner{}, sink, "broken")
	assert.ErrorContains(t, err, "scan interrupted")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileSink(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested")
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	blob, err := sink.Create(ctx, "a")
	require.NoError(t, err)
	_, err = blob.Write([]byte("hello"))
	require.NoError(t, err)

	names, err := sink.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names, "uncommitted blobs are not listed")

	require.NoError(t, blob.Close())

	r, err := sink.Open(ctx, "a")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hello", string(data))
}

func TestConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := Config{}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, SinkFile, cfg.Sink)
		assert.Equal(t, defaultDir, cfg.Dir)
		assert.Equal(t, ImportOptions{BatchSize: defaultBatchSize}, cfg.ImportOptions())
	})

	t.Run("minio requires bucket", func(t *testing.T) {
		cfg := Config{Sink: SinkMinio, Minio: MinioConfig{Endpoint: "localhost:9000"}}
		assert.ErrorContains(t, cfg.Validate(), "bucket")
	})

	t.Run("unknown sink", func(t *testing.T) {
		cfg := Config{Sink: "ftp"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("new minio sink", func(t *testing.T) {
		cfg := Config{Sink: SinkMinio, Minio: MinioConfig{Endpoint: "localhost:9000", Bucket: "snapshots", Prefix: "vectors"}}
		require.NoError(t, cfg.Validate())
		sink, err := NewSink(cfg)
		require.NoError(t, err)
		assert.IsType(t, &MinioSink{}, sink)
		assert.Equal(t, "vectors/a", sink.(*MinioSink).key("a"))
	})

	t.Run("new file sink", func(t *testing.T) {
		sink, err := NewSink(Config{Sink: SinkFile, Dir: t.TempDir()})
		require.NoError(t, err)
		assert.IsType(t, &FileSink{}, sink)
	})
}

func writeSnapshot(t *testing.T, sink Sink, name string, lines ...string) {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	for _, line := range lines {
		_, err := enc.Write([]byte(line + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, enc.Close())

	blob, err := sink.Create(context.Background(), name)
	require.NoError(t, err)
	_, err = blob.Write(buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, blob.Close())
}
