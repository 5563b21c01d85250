package vector_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/vectorstore/pkg/vector"
	"github.com/Zereker/vectorstore/pkg/vector/cosmostest"
)

const (
	testDatabase   = "mem0"
	testCollection = "memories"
)

func testConfig() vector.CosmosConfig {
	return vector.CosmosConfig{
		Endpoint:         "https://localhost:8081/",
		Database:         testDatabase,
		Collection:       testCollection,
		VectorSize:       3,
		CreateCollection: true,
	}
}

func newTestStore(t *testing.T, account *cosmostest.Account, mutate ...func(*vector.CosmosConfig)) *vector.CosmosStore {
	t.Helper()
	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	store, err := vector.NewCosmosStoreWithAccount(context.Background(), cfg, account)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store vector.Store) {
	t.Helper()
	results, err := store.Insert(context.Background(),
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}},
		[]map[string]any{
			{"data": "likes tea", "user_id": "alice"},
			{"data": "likes coffee", "user_id": "bob"},
			{"data": "likes green tea", "user_id": "alice", "agent_id": "a1"},
		},
		[]string{"m1", "m2", "m3"},
	)
	require.NoError(t, err)
	require.Empty(t, vector.FailedIDs(results))
}

func TestNewCosmosStore_Capacity(t *testing.T) {
	t.Run("creates manual database", func(t *testing.T) {
		account := cosmostest.NewAccount()
		store := newTestStore(t, account)

		assert.Equal(t, vector.CapacityManual, store.Capacity())
		spec, ok := account.Spec(testDatabase, testCollection)
		require.True(t, ok)
		require.NotNil(t, spec.Throughput)
		assert.EqualValues(t, 400, spec.Throughput.Max)
		assert.False(t, spec.Throughput.Autoscale)
		assert.Equal(t, vector.DistanceCosine, spec.Distance)
		assert.Equal(t, 3, spec.VectorSize)
	})

	t.Run("creates autoscale database", func(t *testing.T) {
		account := cosmostest.NewAccount()
		store := newTestStore(t, account, func(c *vector.CosmosConfig) { c.AutoScale = true })

		assert.Equal(t, vector.CapacityAutoscale, store.Capacity())
		spec, _ := account.Spec(testDatabase, testCollection)
		require.NotNil(t, spec.Throughput)
		assert.True(t, spec.Throughput.Autoscale)
		assert.EqualValues(t, 1000, spec.Throughput.Max)
	})

	t.Run("falls back to serverless", func(t *testing.T) {
		account := cosmostest.NewAccount()
		account.Serverless = true
		store := newTestStore(t, account)

		assert.Equal(t, vector.CapacityServerless, store.Capacity())
		assert.Equal(t, 2, account.CallCount("CreateDatabase"))
		spec, ok := account.Spec(testDatabase, testCollection)
		require.True(t, ok)
		assert.Nil(t, spec.Throughput)
	})

	t.Run("existing serverless database", func(t *testing.T) {
		account := cosmostest.NewAccount()
		account.Serverless = true
		account.AddDatabase(testDatabase, nil)
		store := newTestStore(t, account)

		assert.Equal(t, vector.CapacityServerless, store.Capacity())
		assert.Zero(t, account.CallCount("CreateDatabase"))
	})

	t.Run("existing database without shared throughput", func(t *testing.T) {
		account := cosmostest.NewAccount()
		account.AddDatabase(testDatabase, nil)
		store := newTestStore(t, account, func(c *vector.CosmosConfig) { c.MaxThroughput = 800 })

		assert.Equal(t, vector.CapacityDedicated, store.Capacity())
		spec, _ := account.Spec(testDatabase, testCollection)
		require.NotNil(t, spec.Throughput)
		assert.EqualValues(t, 800, spec.Throughput.Max)
	})

	t.Run("existing autoscale database", func(t *testing.T) {
		account := cosmostest.NewAccount()
		account.AddDatabase(testDatabase, &vector.Throughput{Autoscale: true, Max: 4000})
		store := newTestStore(t, account)

		assert.Equal(t, vector.CapacityAutoscale, store.Capacity())
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.Database = ""
		_, err := vector.NewCosmosStoreWithAccount(context.Background(), cfg, cosmostest.NewAccount())
		assert.ErrorIs(t, err, vector.ErrInvalidConfig)
	})
}

func TestCosmosStore_EnsureCollection(t *testing.T) {
	ctx := context.Background()
	account := cosmostest.NewAccount()
	store := newTestStore(t, account)

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, store.EnsureCollection(ctx, testCollection, 3, vector.DistanceCosine))
		require.NoError(t, store.EnsureCollection(ctx, testCollection, 3, vector.DistanceCosine))
		assert.Equal(t, 1, account.CallCount("CreateContainer"))
	})

	t.Run("another collection", func(t *testing.T) {
		require.NoError(t, store.EnsureCollection(ctx, "archive", 8, vector.DistanceDotProduct))
		spec, ok := account.Spec(testDatabase, "archive")
		require.True(t, ok)
		assert.Equal(t, 8, spec.VectorSize)
		assert.Equal(t, vector.DistanceDotProduct, spec.Distance)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		assert.ErrorIs(t, store.EnsureCollection(ctx, "", 3, vector.DistanceCosine), vector.ErrInvalidArgument)
		assert.ErrorIs(t, store.EnsureCollection(ctx, "x", 0, vector.DistanceCosine), vector.ErrInvalidArgument)
		assert.ErrorIs(t, store.EnsureCollection(ctx, "x", 3, vector.Distance("hamming")), vector.ErrInvalidArgument)
	})
}

func TestCosmosStore_Insert(t *testing.T) {
	ctx := context.Background()

	t.Run("insert then get", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		seed(t, store)

		out, err := store.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "m1", out.ID)
		assert.Equal(t, map[string]any{"data": "likes tea", "user_id": "alice"}, out.Payload)
		assert.Nil(t, out.Score)
	})

	t.Run("upsert overwrites", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		seed(t, store)

		_, err := store.Insert(ctx, [][]float32{{0, 0, 1}}, []map[string]any{{"data": "likes juice"}}, []string{"m1"})
		require.NoError(t, err)

		out, err := store.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "likes juice", out.Payload["data"])
	})

	t.Run("nil payloads", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		results, err := store.Insert(ctx, [][]float32{{1, 2, 3}}, nil, []string{"m1"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, results[0].OK())

		out, err := store.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Empty(t, out.Payload)
	})

	t.Run("misaligned batch", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		_, err := store.Insert(ctx, [][]float32{{1, 2, 3}}, nil, []string{"m1", "m2"})
		assert.ErrorIs(t, err, vector.ErrInvalidArgument)

		_, err = store.Insert(ctx, [][]float32{{1, 2, 3}}, []map[string]any{{}, {}}, []string{"m1"})
		assert.ErrorIs(t, err, vector.ErrInvalidArgument)
	})

	t.Run("partial failure", func(t *testing.T) {
		account := cosmostest.NewAccount()
		store := newTestStore(t, account)
		account.FailUpsert["m2"] = &vector.BackendError{Op: "upsert item", StatusCode: http.StatusTooManyRequests, Message: "throttled"}

		results, err := store.Insert(ctx,
			[][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
			[]map[string]any{{"n": 1}, {"n": 2}, {"n": 3}},
			[]string{"m1", "m2", "m3"},
		)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.True(t, results[0].OK())
		assert.False(t, results[1].OK())
		assert.True(t, results[2].OK())
		assert.Equal(t, []string{"m2"}, vector.FailedIDs(results))

		_, err = store.Get(ctx, "m3")
		assert.NoError(t, err)
		_, err = store.Get(ctx, "m2")
		assert.ErrorIs(t, err, vector.ErrNotFound)
	})

	t.Run("wrong dimension fails only that record", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		results, err := store.Insert(ctx, [][]float32{{1, 0}, {1, 0, 0}}, nil, []string{"m1", "m2"})
		require.NoError(t, err)
		assert.ErrorIs(t, results[0].Err, vector.ErrInvalidArgument)
		assert.True(t, results[1].OK())
	})

	t.Run("cancelled context", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		results, err := store.Insert(cctx, [][]float32{{1, 0, 0}}, nil, []string{"m1"})
		require.NoError(t, err)
		assert.ErrorIs(t, results[0].Err, context.Canceled)
	})
}

func TestCosmosStore_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("ordered by similarity", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		seed(t, store)

		hits, err := store.Search(ctx, vector.SearchRequest{Query: "tea", Vector: []float32{1, 0, 0}, Limit: 3})
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "m1", hits[0].ID)
		assert.Equal(t, "m3", hits[1].ID)
		assert.Equal(t, "m2", hits[2].ID)

		for i, hit := range hits {
			require.NotNil(t, hit.Score, "hit %d", i)
			if i > 0 {
				assert.GreaterOrEqual(t, *hits[i-1].Score, *hit.Score)
			}
		}
		assert.InDelta(t, 1.0, *hits[0].Score, 1e-6)
	})

	t.Run("limit", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		seed(t, store)

		hits, err := store.Search(ctx, vector.SearchRequest{Vector: []float32{1, 0, 0}, Limit: 1})
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})

	t.Run("default limit", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		vectors := make([][]float32, 8)
		ids := make([]string, 8)
		for i := range vectors {
			vectors[i] = []float32{float32(i + 1), 1, 0}
			ids[i] = string(rune('a' + i))
		}
		_, err := store.Insert(ctx, vectors, nil, ids)
		require.NoError(t, err)

		hits, err := store.Search(ctx, vector.SearchRequest{Vector: []float32{1, 0, 0}})
		require.NoError(t, err)
		assert.Len(t, hits, vector.DefaultSearchLimit)
	})

	t.Run("filters", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		seed(t, store)

		hits, err := store.Search(ctx, vector.SearchRequest{
			Vector:  []float32{0, 1, 0},
			Limit:   5,
			Filters: map[string]any{"user_id": "alice"},
		})
		require.NoError(t, err)
		require.Len(t, hits, 2)
		for _, hit := range hits {
			assert.Equal(t, "alice", hit.Payload["user_id"])
		}

		hits, err = store.Search(ctx, vector.SearchRequest{
			Vector:  []float32{0, 1, 0},
			Filters: map[string]any{"user_id": "alice", "agent_id": "a1"},
		})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "m3", hits[0].ID)
	})

	t.Run("euclidean scores are higher for closer vectors", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount(), func(c *vector.CosmosConfig) { c.Distance = "euclidean" })
		seed(t, store)

		hits, err := store.Search(ctx, vector.SearchRequest{Vector: []float32{1, 0, 0}, Limit: 3})
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "m1", hits[0].ID)
		assert.InDelta(t, 1.0, *hits[0].Score, 1e-6)
		assert.Greater(t, *hits[0].Score, *hits[1].Score)
		assert.Greater(t, *hits[1].Score, *hits[2].Score)
	})

	t.Run("invalid requests", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())

		_, err := store.Search(ctx, vector.SearchRequest{})
		assert.ErrorIs(t, err, vector.ErrInvalidArgument)

		_, err = store.Search(ctx, vector.SearchRequest{Vector: []float32{1, 0}})
		assert.ErrorIs(t, err, vector.ErrInvalidArgument)

		_, err = store.Search(ctx, vector.SearchRequest{Vector: []float32{1, 0, 0}, Filters: map[string]any{"category": "x"}})
		assert.ErrorIs(t, err, vector.ErrInvalidArgument)
	})

	t.Run("gateway without query plan ranks client-side", func(t *testing.T) {
		for _, distance := range []string{"cosine", "euclidean"} {
			t.Run(distance, func(t *testing.T) {
				account := cosmostest.NewAccount()
				store := newTestStore(t, account, func(c *vector.CosmosConfig) { c.Distance = distance })
				seed(t, store)
				account.RequireQueryPlan = true

				hits, err := store.Search(ctx, vector.SearchRequest{Vector: []float32{0, 1, 0}, Limit: 2})
				require.NoError(t, err)
				require.Len(t, hits, 2)
				assert.Equal(t, "m2", hits[0].ID)
				assert.Equal(t, "m3", hits[1].ID)
				assert.Greater(t, *hits[0].Score, *hits[1].Score)

				calls := account.CallCount("Query")
				hits, err = store.Search(ctx, vector.SearchRequest{
					Vector:  []float32{0, 1, 0},
					Filters: map[string]any{"user_id": "alice"},
				})
				require.NoError(t, err)
				require.Len(t, hits, 2)
				assert.Equal(t, "m3", hits[0].ID)
				assert.Equal(t, calls+1, account.CallCount("Query"))
			})
		}
	})

	t.Run("hybrid without query plan", func(t *testing.T) {
		account := cosmostest.NewAccount()
		store := newTestStore(t, account)
		seed(t, store)
		account.RequireQueryPlan = true

		_, err := store.Search(ctx, vector.SearchRequest{Query: "tea", Vector: []float32{1, 0, 0}, Hybrid: true})
		assert.ErrorIs(t, err, vector.ErrQueryPlanRequired)
	})

	t.Run("empty collection", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		hits, err := store.Search(ctx, vector.SearchRequest{Vector: []float32{1, 0, 0}})
		require.NoError(t, err)
		assert.NotNil(t, hits)
		assert.Empty(t, hits)
	})
}

func TestCosmosStore_Get(t *testing.T) {
	ctx := context.Background()
	account := cosmostest.NewAccount()
	store := newTestStore(t, account)

	t.Run("missing", func(t *testing.T) {
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, vector.ErrNotFound)
	})

	t.Run("undecodable payload", func(t *testing.T) {
		account.PutRaw(testDatabase, testCollection, "raw", []byte(`{"id":"raw","payload":"not json"}`))
		out, err := store.Get(ctx, "raw")
		require.NoError(t, err)
		assert.Nil(t, out.Payload)
		assert.Equal(t, "not json", out.RawPayload)
	})

	t.Run("fenced payload", func(t *testing.T) {
		account.PutRaw(testDatabase, testCollection, "fenced", []byte(`{"id":"fenced","payload":"`+"```json\\n{\\\"a\\\":\\\"b\\\"}\\n```"+`"}`))
		out, err := store.Get(ctx, "fenced")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": "b"}, out.Payload)
	})
}

func TestCosmosStore_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("payload only keeps vector", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		seed(t, store)

		require.NoError(t, store.Update(ctx, "m2", nil, map[string]any{"data": "likes mocha", "user_id": "carol"}))

		out, err := store.Get(ctx, "m2")
		require.NoError(t, err)
		assert.Equal(t, "likes mocha", out.Payload["data"])

		hits, err := store.Search(ctx, vector.SearchRequest{Vector: []float32{0, 1, 0}, Limit: 1, Filters: map[string]any{"user_id": "carol"}})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "m2", hits[0].ID)
		assert.InDelta(t, 1.0, *hits[0].Score, 1e-6)

		hits, err = store.Search(ctx, vector.SearchRequest{Vector: []float32{0, 1, 0}, Filters: map[string]any{"user_id": "bob"}})
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("vector only keeps payload", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		seed(t, store)

		require.NoError(t, store.Update(ctx, "m2", []float32{0, 0, 1}, nil))

		out, err := store.Get(ctx, "m2")
		require.NoError(t, err)
		assert.Equal(t, "likes coffee", out.Payload["data"])

		hits, err := store.Search(ctx, vector.SearchRequest{Vector: []float32{0, 0, 1}, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, "m2", hits[0].ID)
	})

	t.Run("nothing to update", func(t *testing.T) {
		account := cosmostest.NewAccount()
		store := newTestStore(t, account)
		seed(t, store)

		err := store.Update(ctx, "m1", nil, nil)
		assert.ErrorIs(t, err, vector.ErrInvalidArgument)
		assert.ErrorIs(t, store.Update(ctx, "nope", nil, nil), vector.ErrInvalidArgument)
		assert.ErrorIs(t, store.Update(ctx, "m1", []float32{}, nil), vector.ErrInvalidArgument)
		assert.Zero(t, account.CallCount("ReadItem"))
	})

	t.Run("missing record", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		err := store.Update(ctx, "nope", nil, map[string]any{"a": 1})
		assert.ErrorIs(t, err, vector.ErrNotFound)
	})

	t.Run("wrong dimension", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		seed(t, store)
		assert.ErrorIs(t, store.Update(ctx, "m1", []float32{1}, nil), vector.ErrInvalidArgument)
	})

	t.Run("concurrent writer", func(t *testing.T) {
		account := cosmostest.NewAccount()
		store := newTestStore(t, account)
		seed(t, store)

		account.BeforeReplace = func(id string) {
			account.SetETag(testDatabase, testCollection, id, `"other"`)
		}
		err := store.Update(ctx, "m1", nil, map[string]any{"data": "stale"})
		assert.True(t, vector.IsPreconditionFailed(err))

		account.BeforeReplace = nil
		out, err := store.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "likes tea", out.Payload["data"])
	})
}

func TestCosmosStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, cosmostest.NewAccount())
	seed(t, store)

	require.NoError(t, store.Delete(ctx, "m1"))
	_, err := store.Get(ctx, "m1")
	assert.ErrorIs(t, err, vector.ErrNotFound)

	assert.NoError(t, store.Delete(ctx, "m1"))
}

func TestCosmosStore_List(t *testing.T) {
	ctx := context.Background()

	t.Run("empty collection", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		out, err := store.List(ctx, nil, 0)
		require.NoError(t, err)
		assert.NotNil(t, out)
		assert.Empty(t, out)
	})

	t.Run("all, limited and filtered", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		seed(t, store)

		out, err := store.List(ctx, nil, 0)
		require.NoError(t, err)
		assert.Len(t, out, 3)
		for _, o := range out {
			assert.Nil(t, o.Score)
		}

		out, err = store.List(ctx, nil, 2)
		require.NoError(t, err)
		assert.Len(t, out, 2)

		out, err = store.List(ctx, map[string]any{"user_id": "bob"}, 10)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "m2", out[0].ID)
	})

	t.Run("invalid filter", func(t *testing.T) {
		store := newTestStore(t, cosmostest.NewAccount())
		_, err := store.List(ctx, map[string]any{"data": "x"}, 0)
		assert.ErrorIs(t, err, vector.ErrInvalidArgument)
	})

	t.Run("undecodable payload is returned raw", func(t *testing.T) {
		account := cosmostest.NewAccount()
		store := newTestStore(t, account)
		seed(t, store)
		account.PutRaw(testDatabase, testCollection, "raw", []byte(`{"id":"raw","payload":"not json","user_id":"carol"}`))

		out, err := store.List(ctx, nil, 0)
		require.NoError(t, err)
		require.Len(t, out, 4)

		var raw *vector.OutputData
		for i := range out {
			if out[i].ID == "raw" {
				raw = &out[i]
			}
		}
		require.NotNil(t, raw)
		assert.Equal(t, "not json", raw.RawPayload)
		assert.Nil(t, raw.Payload)

		out, err = store.List(ctx, map[string]any{"user_id": "carol"}, 10)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "not json", out[0].RawPayload)
	})

	t.Run("gateway without query plan", func(t *testing.T) {
		account := cosmostest.NewAccount()
		store := newTestStore(t, account)
		seed(t, store)
		account.RequireQueryPlan = true

		out, err := store.List(ctx, nil, 2)
		require.NoError(t, err)
		assert.Len(t, out, 2)

		out, err = store.List(ctx, map[string]any{"user_id": "alice"}, 0)
		require.NoError(t, err)
		assert.Len(t, out, 2)
	})
}

func TestCosmosStore_Scan(t *testing.T) {
	ctx := context.Background()
	account := cosmostest.NewAccount()
	store := newTestStore(t, account)
	seed(t, store)
	account.PutRaw(testDatabase, testCollection, "raw", []byte(`{"id":"raw","payload":"not json"}`))

	var records []vector.Record
	require.NoError(t, store.Scan(ctx, func(rec vector.Record) error {
		records = append(records, rec)
		return nil
	}))
	require.Len(t, records, 4)
	assert.Equal(t, "m1", records[0].ID)
	assert.Equal(t, []float32{1, 0, 0}, records[0].Vector)
	assert.Equal(t, "likes tea", records[0].Payload["data"])

	assert.Equal(t, "raw", records[3].ID)
	assert.Nil(t, records[3].Payload)
	assert.Equal(t, "not json", records[3].RawPayload)

	stop := errors.New("stop")
	err := store.Scan(ctx, func(vector.Record) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestCosmosStore_Collections(t *testing.T) {
	ctx := context.Background()
	account := cosmostest.NewAccount()
	store := newTestStore(t, account)
	require.NoError(t, store.EnsureCollection(ctx, "archive", 3, vector.DistanceCosine))

	t.Run("list", func(t *testing.T) {
		infos, err := store.ListCollections(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 2)
		assert.Equal(t, "archive", infos[0].ID)
		assert.Equal(t, testCollection, infos[1].ID)
	})

	t.Run("info", func(t *testing.T) {
		info, err := store.CollectionInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, testCollection, info.ID)
		assert.Equal(t, []string{"/id"}, info.PartitionKey)
		assert.NotEmpty(t, info.ETag)
		assert.NotEmpty(t, info.IndexingPolicy)
	})

	t.Run("reset keeps the collection and drops the data", func(t *testing.T) {
		seed(t, store)
		require.NoError(t, store.Reset(ctx))

		out, err := store.List(ctx, nil, 0)
		require.NoError(t, err)
		assert.Empty(t, out)

		_, err = store.CollectionInfo(ctx)
		assert.NoError(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteCollection(ctx))

		_, err := store.CollectionInfo(ctx)
		assert.ErrorIs(t, err, vector.ErrNotFound)

		assert.ErrorIs(t, store.DeleteCollection(ctx), vector.ErrNotFound)
	})

	t.Run("reset recreates a missing collection", func(t *testing.T) {
		require.NoError(t, store.Reset(ctx))
		_, err := store.CollectionInfo(ctx)
		assert.NoError(t, err)
	})
}

func TestCosmosStore_ReleasesHandles(t *testing.T) {
	ctx := context.Background()
	account := cosmostest.NewAccount()
	store := newTestStore(t, account)
	seed(t, store)

	_, _ = store.Search(ctx, vector.SearchRequest{Vector: []float32{1, 0, 0}})
	_, _ = store.Get(ctx, "m1")
	_, _ = store.Get(ctx, "missing")
	_ = store.Update(ctx, "m1", nil, map[string]any{"a": 1})
	_ = store.Delete(ctx, "m2")
	_, _ = store.List(ctx, nil, 0)
	_, _ = store.CollectionInfo(ctx)
	_ = store.Reset(ctx)

	acquired, released := account.Handles()
	assert.Positive(t, acquired)
	assert.Equal(t, acquired, released)
}

func TestOpen_Cosmos(t *testing.T) {
	_, err := vector.Open(context.Background(), vector.Config{Backend: "cosmos"})
	assert.ErrorIs(t, err, vector.ErrInvalidConfig)
}
