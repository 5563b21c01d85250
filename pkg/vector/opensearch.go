package vector

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"github.com/Zereker/vectorstore/pkg/log"
)

// scanPageSize is the page size of Scan and of unbounded List calls.
const scanPageSize = 500

// OpenSearchStore implements Store on an OpenSearch k-NN index.
//
// Documents use the same layout as CosmosStore: the payload is a JSON string in a text
// field and the promoted fields are keywords.
type OpenSearchStore struct {
	logger       *slog.Logger
	client       *opensearchapi.Client
	indexName    string
	embeddingDim int
	distance     Distance
}

var (
	_ Store   = (*OpenSearchStore)(nil)
	_ Scanner = (*OpenSearchStore)(nil)
)

// NewOpenSearchStore creates a new OpenSearch store
func NewOpenSearchStore(ctx context.Context, cfg OpenSearchConfig) (*OpenSearchStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses: cfg.Addresses,
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: transport,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenSearch client: %w", err)
	}

	return newOpenSearchStore(ctx, cfg, client)
}

func newOpenSearchStore(ctx context.Context, cfg OpenSearchConfig, client *opensearchapi.Client) (*OpenSearchStore, error) {
	distance, _ := ParseDistance(cfg.Distance)
	s := &OpenSearchStore{
		logger:       log.Logger("vector.opensearch"),
		client:       client,
		indexName:    cfg.IndexName,
		embeddingDim: cfg.EmbeddingDim,
		distance:     distance,
	}

	if cfg.CreateIndex {
		if err := s.EnsureCollection(ctx, s.indexName, s.embeddingDim, s.distance); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// spaceType maps a distance to the k-NN space of the lucene engine.
func spaceType(d Distance) string {
	switch d {
	case DistanceDotProduct:
		return "innerproduct"
	case DistanceEuclidean:
		return "l2"
	default:
		return "cosinesimil"
	}
}

// IndexMapping returns the index body for a k-NN index of the given dimension.
func IndexMapping(dim int, distance Distance) map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"index": map[string]any{"knn": true},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"id": map[string]any{"type": "keyword"},
				"vector": map[string]any{
					"type":      "knn_vector",
					"dimension": dim,
					"method": map[string]any{
						"name":       "hnsw",
						"engine":     "lucene",
						"space_type": spaceType(distance),
					},
				},
				"payload":    map[string]any{"type": "text"},
				FieldUserID:  map[string]any{"type": "keyword"},
				FieldRunID:   map[string]any{"type": "keyword"},
				FieldAgentID: map[string]any{"type": "keyword"},
			},
		},
	}
}

// perform sends a raw request for the index administration endpoints.
func (s *OpenSearchStore) perform(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return nil, err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Client.Perform(req)
	if err != nil {
		return nil, &BackendError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &BackendError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return data, nil
}

// EnsureCollection creates the index if it does not exist. It is a no-op otherwise.
func (s *OpenSearchStore) EnsureCollection(ctx context.Context, name string, vectorSize int, distance Distance) error {
	if name == "" {
		return fmt.Errorf("%w: index name is required", ErrInvalidArgument)
	}
	if vectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidArgument)
	}
	if !distance.Valid() {
		return fmt.Errorf("%w: unknown distance %q", ErrInvalidArgument, distance)
	}

	_, err := s.perform(ctx, "check index", http.MethodHead, "/"+name, nil)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, ErrNotFound):
		s.logger.Error("failed to check index", "index", name, "error", err)
		return err
	}

	s.logger.Info("creating index", "index", name, "dimension", vectorSize, "distance", distance)
	if _, err := s.perform(ctx, "create index", http.MethodPut, "/"+name, IndexMapping(vectorSize, distance)); err != nil {
		// resource_already_exists_exception
		var be *BackendError
		if errors.As(err, &be) && be.StatusCode == http.StatusBadRequest && strings.Contains(be.Message, "already_exists") {
			return nil
		}
		s.logger.Error("failed to create index", "index", name, "error", err)
		return err
	}
	return nil
}

// Insert indexes each record by id. Per-record failures are reported in the results.
func (s *OpenSearchStore) Insert(ctx context.Context, vectors [][]float32, payloads []map[string]any, ids []string) ([]InsertResult, error) {
	if len(vectors) != len(ids) || (payloads != nil && len(payloads) != len(ids)) {
		return nil, fmt.Errorf("%w: %d vectors, %d payloads and %d ids are not aligned",
			ErrInvalidArgument, len(vectors), len(payloads), len(ids))
	}

	s.logger.Info("inserting vectors", "count", len(ids), "index", s.indexName)

	results := make([]InsertResult, len(ids))
	for i, id := range ids {
		var payload map[string]any
		if payloads != nil {
			payload = payloads[i]
		}
		results[i] = InsertResult{ID: id, Err: s.index(ctx, id, vectors[i], payload)}
		if results[i].Err != nil {
			s.logger.Error("failed to insert vector", "id", id, "error", results[i].Err)
		}
	}
	return results, nil
}

func (s *OpenSearchStore) index(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}
	if err := checkDimension(vector, s.embeddingDim); err != nil {
		return err
	}

	doc, err := NewDocument(id, vector, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	_, err = s.client.Index(ctx, opensearchapi.IndexReq{
		Index:      s.indexName,
		DocumentID: id,
		Body:       bytes.NewReader(body),
		Params:     opensearchapi.IndexParams{Refresh: "true"},
	})
	if err != nil {
		return wrapOpenSearch("index document", err)
	}
	return nil
}

// filterClauses renders parsed filters as term queries.
func filterClauses(filters []Filter) []map[string]any {
	clauses := make([]map[string]any, 0, len(filters))
	for _, f := range filters {
		clauses = append(clauses, map[string]any{"term": map[string]any{f.Field: f.Value}})
	}
	return clauses
}

// BuildKNNQuery builds the k-NN search body.
func BuildKNNQuery(vector []float32, filters []Filter, k int) map[string]any {
	return map[string]any{
		"size": k,
		"query": map[string]any{
			"bool": map[string]any{
				"must":   map[string]any{"knn": map[string]any{"vector": map[string]any{"vector": vector, "k": k}}},
				"filter": filterClauses(filters),
			},
		},
	}
}

// BuildHybridQuery builds a hybrid query combining k-NN and full-text search
// Uses OpenSearch's bool query with should clauses to combine scores
func BuildHybridQuery(vector []float32, text string, filters []Filter, k int) map[string]any {
	return map[string]any{
		"size": k,
		"query": map[string]any{
			"bool": map[string]any{
				"should": []map[string]any{
					{"knn": map[string]any{"vector": map[string]any{"vector": vector, "k": k}}},
					{"match": map[string]any{"payload": map[string]any{"query": text, "boost": 0.5}}},
				},
				"minimum_should_match": 1,
				"filter":               filterClauses(filters),
			},
		},
	}
}

// Search runs a k-NN query. OpenSearch scores are already higher-is-better.
func (s *OpenSearchStore) Search(ctx context.Context, req SearchRequest) ([]OutputData, error) {
	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is required", ErrInvalidArgument)
	}
	if err := checkDimension(req.Vector, s.embeddingDim); err != nil {
		return nil, err
	}
	filters, err := ParseFilters(req.Filters)
	if err != nil {
		return nil, err
	}

	k := req.Limit
	if k <= 0 {
		k = DefaultSearchLimit
	}

	query := BuildKNNQuery(req.Vector, filters, k)
	if req.Hybrid && strings.TrimSpace(req.Query) != "" {
		query = BuildHybridQuery(req.Vector, req.Query, filters, k)
	}

	hits, err := s.search(ctx, query)
	if err != nil {
		s.logger.Error("search failed", "index", s.indexName, "error", err)
		return nil, err
	}

	results := make([]OutputData, 0, len(hits))
	for _, hit := range hits {
		out := hit.doc.Output()
		score := hit.score
		out.Score = &score
		results = append(results, out)
		if len(results) == k {
			break
		}
	}
	return results, nil
}

type searchHit struct {
	doc   Document
	score float64
	sort  []any
}

func (s *OpenSearchStore) search(ctx context.Context, query map[string]any) ([]searchHit, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	resp, err := s.client.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{s.indexName},
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		return nil, wrapOpenSearch("search", err)
	}

	hits := make([]searchHit, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var doc Document
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal search hit: %w", err)
		}
		if doc.ID == "" {
			doc.ID = hit.ID
		}
		hits = append(hits, searchHit{doc: doc, score: float64(hit.Score), sort: hit.Sort})
	}
	return hits, nil
}

// Get retrieves a document by ID
func (s *OpenSearchStore) Get(ctx context.Context, id string) (OutputData, error) {
	doc, err := s.getDocument(ctx, id)
	if err != nil {
		return OutputData{}, fmt.Errorf("get %s: %w", id, err)
	}
	return doc.Output(), nil
}

func (s *OpenSearchStore) getDocument(ctx context.Context, id string) (Document, error) {
	resp, err := s.client.Document.Get(ctx, opensearchapi.DocumentGetReq{
		Index:      s.indexName,
		DocumentID: id,
	})
	if err != nil {
		if resp != nil && statusOf(resp.Inspect()) == http.StatusNotFound {
			return Document{}, &BackendError{Op: "get document", StatusCode: http.StatusNotFound, Message: "document not found", Err: err}
		}
		return Document{}, wrapOpenSearch("get document", err)
	}
	if !resp.Found {
		return Document{}, &BackendError{Op: "get document", StatusCode: http.StatusNotFound, Message: "document not found"}
	}

	var doc Document
	if err := json.Unmarshal(resp.Source, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return doc, nil
}

// Update applies a partial document update. Promoted fields follow the new payload.
func (s *OpenSearchStore) Update(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	if len(vector) == 0 && payload == nil {
		return fmt.Errorf("%w: update %s: vector or payload is required", ErrInvalidArgument, id)
	}

	partial := make(map[string]any)
	if vector != nil {
		if err := checkDimension(vector, s.embeddingDim); err != nil {
			return err
		}
		partial["vector"] = vector
	}
	if payload != nil {
		var doc Document
		if err := doc.SetPayload(payload); err != nil {
			return err
		}
		partial["payload"] = doc.Payload
		for field, value := range map[string]string{FieldUserID: doc.UserID, FieldRunID: doc.RunID, FieldAgentID: doc.AgentID} {
			if value == "" {
				partial[field] = nil
			} else {
				partial[field] = value
			}
		}
	}

	body, err := json.Marshal(map[string]any{"doc": partial})
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	_, err = s.client.Update(ctx, opensearchapi.UpdateReq{
		Index:      s.indexName,
		DocumentID: id,
		Body:       bytes.NewReader(body),
		Params:     opensearchapi.UpdateParams{Refresh: "true"},
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", id, wrapOpenSearch("update document", err))
	}
	return nil
}

// Delete deletes a document by ID. A missing document is logged and ignored.
func (s *OpenSearchStore) Delete(ctx context.Context, id string) error {
	resp, err := s.client.Document.Delete(ctx, opensearchapi.DocumentDeleteReq{
		Index:      s.indexName,
		DocumentID: id,
		Params:     opensearchapi.DocumentDeleteParams{Refresh: "true"},
	})
	if err != nil {
		err = wrapOpenSearch("delete document", err)
		if errors.Is(err, ErrNotFound) || (resp != nil && statusOf(resp.Inspect()) == http.StatusNotFound) {
			s.logger.Warn("document not found", "id", id)
			return nil
		}
		return err
	}
	return nil
}

// scanQuery pages through the index sorted by id.
func scanQuery(filters []Filter, size int, after []any) map[string]any {
	query := map[string]any{
		"size":  size,
		"sort":  []map[string]any{{"id": map[string]any{"order": "asc"}}},
		"query": map[string]any{"bool": map[string]any{"filter": filterClauses(filters)}},
	}
	if len(after) > 0 {
		query["search_after"] = after
	}
	return query
}

func (s *OpenSearchStore) scan(ctx context.Context, filters []Filter, limit int, fn func(Document) error) error {
	var (
		after []any
		seen  int
	)
	for {
		size := scanPageSize
		if limit > 0 && limit-seen < size {
			size = limit - seen
		}
		hits, err := s.search(ctx, scanQuery(filters, size, after))
		if err != nil {
			return err
		}
		for _, hit := range hits {
			if err := fn(hit.doc); err != nil {
				return err
			}
		}
		seen += len(hits)
		if len(hits) < size || (limit > 0 && seen >= limit) {
			return nil
		}
		after = hits[len(hits)-1].sort
	}
}

// List pages through the index with the given filters.
func (s *OpenSearchStore) List(ctx context.Context, filters map[string]any, limit int) ([]OutputData, error) {
	parsed, err := ParseFilters(filters)
	if err != nil {
		return nil, err
	}

	results := []OutputData{}
	err = s.scan(ctx, parsed, limit, func(doc Document) error {
		results = append(results, doc.Output())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Scan streams every document of the index, vectors included.
func (s *OpenSearchStore) Scan(ctx context.Context, fn func(Record) error) error {
	return s.scan(ctx, nil, 0, func(doc Document) error {
		return fn(doc.Record())
	})
}

// indexDescription is the per-index body of GET /<index>.
type indexDescription struct {
	Mappings map[string]any `json:"mappings"`
	Settings struct {
		Index struct {
			UUID         string `json:"uuid"`
			CreationDate string `json:"creation_date"`
		} `json:"index"`
	} `json:"settings"`
}

func (d indexDescription) info(name string) CollectionInfo {
	info := CollectionInfo{
		ID:             name,
		ResourceID:     d.Settings.Index.UUID,
		IndexingPolicy: d.Mappings,
	}
	if ms, err := strconv.ParseInt(d.Settings.Index.CreationDate, 10, 64); err == nil {
		info.LastModified = time.UnixMilli(ms).UTC()
	}
	return info
}

func (s *OpenSearchStore) describe(ctx context.Context, pattern string) (map[string]indexDescription, error) {
	data, err := s.perform(ctx, "describe index", http.MethodGet, "/"+pattern, nil)
	if err != nil {
		return nil, err
	}
	var indices map[string]indexDescription
	if err := json.Unmarshal(data, &indices); err != nil {
		return nil, fmt.Errorf("failed to unmarshal index description: %w", err)
	}
	return indices, nil
}

// ListCollections describes every non-system index of the cluster.
func (s *OpenSearchStore) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	indices, err := s.describe(ctx, "_all")
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(indices))
	for name := range indices {
		if !strings.HasPrefix(name, ".") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	infos := make([]CollectionInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, indices[name].info(name))
	}
	return infos, nil
}

// CollectionInfo describes the configured index.
func (s *OpenSearchStore) CollectionInfo(ctx context.Context) (CollectionInfo, error) {
	indices, err := s.describe(ctx, s.indexName)
	if err != nil {
		return CollectionInfo{}, err
	}
	d, ok := indices[s.indexName]
	if !ok {
		return CollectionInfo{}, &BackendError{Op: "describe index", StatusCode: http.StatusNotFound, Message: "index not found"}
	}
	return d.info(s.indexName), nil
}

// DeleteCollection drops the configured index.
func (s *OpenSearchStore) DeleteCollection(ctx context.Context) error {
	if _, err := s.perform(ctx, "delete index", http.MethodDelete, "/"+s.indexName, nil); err != nil {
		s.logger.Error("failed to delete index", "index", s.indexName, "error", err)
		return err
	}
	s.logger.Info("deleted index", "index", s.indexName)
	return nil
}

// Reset drops the configured index and recreates it empty.
func (s *OpenSearchStore) Reset(ctx context.Context) error {
	s.logger.Warn("resetting index", "index", s.indexName)

	if err := s.DeleteCollection(ctx); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.EnsureCollection(ctx, s.indexName, s.embeddingDim, s.distance)
}

// Close closes the OpenSearch connection
func (s *OpenSearchStore) Close() error {
	return nil
}

// statusOf returns the HTTP status of a typed API response, 0 when there was none.
func statusOf(insp opensearchapi.Inspect) int {
	if insp.Response == nil {
		return 0
	}
	return insp.Response.StatusCode
}

func wrapOpenSearch(op string, err error) error {
	be := &BackendError{Op: op, Message: err.Error(), Err: err}

	var structErr *opensearch.StructError
	var stringErr *opensearch.StringError
	switch {
	case errors.As(err, &structErr):
		be.StatusCode = structErr.Status
		be.Code = structErr.Err.Type
	case errors.As(err, &stringErr):
		be.StatusCode = stringErr.Status
	}
	return be
}
