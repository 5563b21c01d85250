package vector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexMapping(t *testing.T) {
	tests := []struct {
		distance Distance
		space    string
	}{
		{DistanceCosine, "cosinesimil"},
		{DistanceDotProduct, "innerproduct"},
		{DistanceEuclidean, "l2"},
	}

	for _, tt := range tests {
		t.Run(string(tt.distance), func(t *testing.T) {
			mapping := IndexMapping(8, tt.distance)
			props := mapping["mappings"].(map[string]any)["properties"].(map[string]any)

			vec := props["vector"].(map[string]any)
			assert.Equal(t, "knn_vector", vec["type"])
			assert.Equal(t, 8, vec["dimension"])
			assert.Equal(t, tt.space, vec["method"].(map[string]any)["space_type"])

			for _, field := range PromotedFields {
				assert.Equal(t, "keyword", props[field].(map[string]any)["type"], field)
			}
		})
	}
}

func TestBuildKNNQuery(t *testing.T) {
	query := BuildKNNQuery([]float32{1, 0}, []Filter{{Field: "user_id", Value: "alice"}}, 3)

	data, err := json.Marshal(query)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"size": 3,
		"query": {"bool": {
			"must": {"knn": {"vector": {"vector": [1, 0], "k": 3}}},
			"filter": [{"term": {"user_id": "alice"}}]
		}}
	}`, string(data))
}

func TestBuildHybridQuery(t *testing.T) {
	query := BuildHybridQuery([]float32{1}, "green tea", nil, 2)

	data, err := json.Marshal(query)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"size": 2,
		"query": {"bool": {
			"should": [
				{"knn": {"vector": {"vector": [1], "k": 2}}},
				{"match": {"payload": {"query": "green tea", "boost": 0.5}}}
			],
			"minimum_should_match": 1,
			"filter": []
		}}
	}`, string(data))
}

func TestScanQuery(t *testing.T) {
	query := scanQuery(nil, 10, []any{"m9"})
	assert.Equal(t, 10, query["size"])
	assert.Equal(t, []any{"m9"}, query["search_after"])

	query = scanQuery(nil, 10, nil)
	assert.NotContains(t, query, "search_after")
}

// fakeOpenSearch serves a single index from memory.
type fakeOpenSearch struct {
	mu       sync.Mutex
	exists   bool
	created  map[string]any
	requests []string
}

func (f *fakeOpenSearch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/memories":
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/memories":
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &f.created)
		f.exists = true
		_, _ = io.WriteString(w, `{"acknowledged":true,"shards_acknowledged":true,"index":"memories"}`)
	case r.Method == http.MethodGet && r.URL.Path == "/_all":
		_, _ = io.WriteString(w, `{
			".kibana": {"mappings": {}, "settings": {"index": {"uuid": "k"}}},
			"memories": {"mappings": {"properties": {}}, "settings": {"index": {"uuid": "u1", "creation_date": "1700000000000"}}}
		}`)
	case r.Method == http.MethodGet && r.URL.Path == "/memories/_doc/m1":
		_, _ = io.WriteString(w, `{"_index":"memories","_id":"m1","_version":1,"_seq_no":0,"_primary_term":1,"found":true,
			"_source":{"id":"m1","vector":[1,0,0],"payload":"{\"data\":\"likes tea\"}","user_id":"alice"}}`)
	case r.URL.Path == "/memories/_search":
		_, _ = io.WriteString(w, `{"took":1,"timed_out":false,"_shards":{"total":1,"successful":1,"skipped":0,"failed":0},
			"hits":{"total":{"value":2,"relation":"eq"},"max_score":0.9,"hits":[
				{"_index":"memories","_id":"m1","_score":0.9,"_source":{"id":"m1","payload":"{\"data\":\"likes tea\"}"}},
				{"_index":"memories","_id":"m2","_score":0.4,"_source":{"id":"m2","payload":"raw text"}}
			]}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"type":"not_found","reason":"unexpected request"},"status":404}`)
	}
}

func newFakeOpenSearchStore(t *testing.T, fake *fakeOpenSearch, createIndex bool) *OpenSearchStore {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := opensearchapi.NewClient(opensearchapi.Config{Client: opensearch.Config{Addresses: []string{srv.URL}}})
	require.NoError(t, err)

	cfg := OpenSearchConfig{Addresses: []string{srv.URL}, IndexName: "memories", EmbeddingDim: 3, CreateIndex: createIndex}
	require.NoError(t, cfg.Validate())

	store, err := newOpenSearchStore(context.Background(), cfg, client)
	require.NoError(t, err)
	return store
}

func TestOpenSearchStore_EnsureCollection(t *testing.T) {
	fake := &fakeOpenSearch{}
	store := newFakeOpenSearchStore(t, fake, true)

	assert.Equal(t, []string{"HEAD /memories", "PUT /memories"}, fake.requests)
	require.NotNil(t, fake.created)
	assert.Contains(t, fake.created, "mappings")

	require.NoError(t, store.EnsureCollection(context.Background(), "memories", 3, DistanceCosine))
	assert.Equal(t, "HEAD /memories", fake.requests[len(fake.requests)-1])
}

func TestOpenSearchStore_Search(t *testing.T) {
	store := newFakeOpenSearchStore(t, &fakeOpenSearch{exists: true}, false)

	hits, err := store.Search(context.Background(), SearchRequest{Vector: []float32{1, 0, 0}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "m1", hits[0].ID)
	assert.Equal(t, "likes tea", hits[0].Payload["data"])
	assert.InDelta(t, 0.9, *hits[0].Score, 1e-6)

	assert.Equal(t, "raw text", hits[1].RawPayload)

	_, err = store.Search(context.Background(), SearchRequest{Vector: []float32{1}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestOpenSearchStore_Get(t *testing.T) {
	store := newFakeOpenSearchStore(t, &fakeOpenSearch{exists: true}, false)

	out, err := store.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", out.ID)
	assert.Equal(t, "likes tea", out.Payload["data"])
}

func TestOpenSearchStore_Collections(t *testing.T) {
	store := newFakeOpenSearchStore(t, &fakeOpenSearch{exists: true}, false)

	infos, err := store.ListCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "memories", infos[0].ID)
	assert.Equal(t, "u1", infos[0].ResourceID)
	assert.Equal(t, int64(1700000000), infos[0].LastModified.Unix())
}

func TestOpenSearchStore_Update(t *testing.T) {
	fake := &fakeOpenSearch{exists: true}
	store := newFakeOpenSearchStore(t, fake, false)
	sent := len(fake.requests)

	err := store.Update(context.Background(), "m1", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Len(t, fake.requests, sent)
}
