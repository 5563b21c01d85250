package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/Zereker/vectorstore/pkg/log"
)

// CosmosStore implements Store on an Azure Cosmos DB for NoSQL container.
//
// Every record is its own logical partition (partition key /id). The payload is stored
// as a JSON string with user_id, run_id and agent_id mirrored to top-level fields.
type CosmosStore struct {
	logger     *slog.Logger
	account    CosmosAccount
	database   string
	collection string
	vectorSize int
	distance   Distance
	throughput Throughput
	capacity   Capacity

	// unranked is set once the gateway refused a ranked cross-partition query.
	unranked atomic.Bool
}

var (
	_ Store   = (*CosmosStore)(nil)
	_ Scanner = (*CosmosStore)(nil)
)

// NewCosmosStore connects to the account described by cfg and verifies the database.
func NewCosmosStore(ctx context.Context, cfg CosmosConfig) (*CosmosStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	account, err := NewAzureAccount(cfg.EndpointURL(), CredentialFromKey(cfg.APIKey))
	if err != nil {
		return nil, err
	}
	return NewCosmosStoreWithAccount(ctx, cfg, account)
}

// NewCosmosStoreWithAccount builds a store over an existing account client.
//
// The database is created if missing. When the account is serverless the store falls
// back to CapacityServerless instead of failing; Capacity reports the detected mode.
func NewCosmosStoreWithAccount(ctx context.Context, cfg CosmosConfig, account CosmosAccount) (*CosmosStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	distance, _ := ParseDistance(cfg.Distance)

	s := &CosmosStore{
		logger:     log.Logger("vector.cosmos"),
		account:    account,
		database:   cfg.Database,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
		distance:   distance,
		throughput: Throughput{Autoscale: cfg.AutoScale, Max: cfg.MaxThroughput},
	}

	if err := s.checkDatabase(ctx); err != nil {
		return nil, fmt.Errorf("check database %s: %w", cfg.Database, err)
	}

	if cfg.CreateCollection {
		if err := s.EnsureCollection(ctx, s.collection, s.vectorSize, s.distance); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Capacity returns the provisioning mode detected for the database.
func (s *CosmosStore) Capacity() Capacity {
	return s.capacity
}

func (s *CosmosStore) checkDatabase(ctx context.Context) error {
	exists, err := s.account.DatabaseExists(ctx, s.database)
	if err != nil {
		return err
	}

	if !exists {
		tp := s.throughput
		err := s.account.CreateDatabase(ctx, s.database, &tp)
		switch {
		case err == nil:
			s.capacity = capacityOf(tp)
			s.logger.Info("created database", "database", s.database, "capacity", s.capacity, "max_throughput", tp.Max)
			return nil
		case errors.Is(err, ErrCapacityUnsupported):
			s.logger.Warn("account does not support provisioned throughput, creating serverless database",
				"database", s.database, "error", err)
			if err := s.account.CreateDatabase(ctx, s.database, nil); err != nil && !IsConflict(err) {
				return err
			}
			s.capacity = CapacityServerless
			return nil
		case IsConflict(err):
			// created concurrently, read its throughput below
		default:
			return err
		}
	}

	tp, err := s.account.DatabaseThroughput(ctx, s.database)
	switch {
	case err == nil:
		s.capacity = capacityOf(tp)
		s.logger.Info("database throughput", "database", s.database, "capacity", s.capacity, "max_throughput", tp.Max)
	case errors.Is(err, ErrCapacityUnsupported):
		s.capacity = CapacityServerless
		s.logger.Warn("account does not support provisioned throughput", "database", s.database, "error", err)
	case errors.Is(err, ErrNotFound):
		s.capacity = CapacityDedicated
		s.logger.Warn("database has no shared throughput, collections get their own", "database", s.database)
	default:
		return err
	}
	return nil
}

func capacityOf(tp Throughput) Capacity {
	if tp.Autoscale {
		return CapacityAutoscale
	}
	return CapacityManual
}

// containerThroughput follows the database mode, capped to the configured maximum.
func (s *CosmosStore) containerThroughput() *Throughput {
	switch s.capacity {
	case CapacityServerless:
		return nil
	case CapacityAutoscale:
		return &Throughput{Autoscale: true, Max: max(s.throughput.Max, minAutoscaleThroughput)}
	case CapacityManual:
		return &Throughput{Max: s.throughput.Max}
	default:
		tp := s.throughput
		return &tp
	}
}

// withContainer acquires a handle on the configured collection for the duration of fn.
func (s *CosmosStore) withContainer(fn func(c CosmosContainer) error) error {
	return s.withNamedContainer(s.collection, fn)
}

func (s *CosmosStore) withNamedContainer(name string, fn func(c CosmosContainer) error) error {
	c, err := s.account.Container(s.database, name)
	if err != nil {
		return fmt.Errorf("open container %s: %w", name, err)
	}
	defer c.Release()
	return fn(c)
}

// EnsureCollection creates the collection if it does not exist. It is a no-op otherwise.
func (s *CosmosStore) EnsureCollection(ctx context.Context, name string, vectorSize int, distance Distance) error {
	if name == "" {
		return fmt.Errorf("%w: collection name is required", ErrInvalidArgument)
	}
	if vectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidArgument)
	}
	if !distance.Valid() {
		return fmt.Errorf("%w: unknown distance %q", ErrInvalidArgument, distance)
	}

	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		s.logger.Error("failed to check collection", "collection", name, "error", err)
		return err
	}
	if exists {
		return nil
	}

	spec := ContainerSpec{
		Name:       name,
		VectorSize: vectorSize,
		Distance:   distance,
		Throughput: s.containerThroughput(),
	}

	s.logger.Info("creating collection", "collection", name, "vector_size", vectorSize, "distance", distance, "capacity", s.capacity)
	if err := s.account.CreateContainer(ctx, s.database, spec); err != nil {
		if IsConflict(err) {
			return nil
		}
		s.logger.Error("failed to create collection", "collection", name, "error", err)
		return err
	}
	return nil
}

func (s *CosmosStore) collectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.withNamedContainer(name, func(c CosmosContainer) error {
		_, err := c.Read(ctx)
		switch {
		case err == nil:
			exists = true
			return nil
		case errors.Is(err, ErrNotFound):
			return nil
		default:
			return err
		}
	})
	return exists, err
}

// Insert upserts each record by id, sequentially. Per-record failures are logged and
// reported in the matching InsertResult; the returned error is only set when the batch
// itself is malformed or the container cannot be opened.
func (s *CosmosStore) Insert(ctx context.Context, vectors [][]float32, payloads []map[string]any, ids []string) ([]InsertResult, error) {
	if len(vectors) != len(ids) || (payloads != nil && len(payloads) != len(ids)) {
		return nil, fmt.Errorf("%w: %d vectors, %d payloads and %d ids are not aligned",
			ErrInvalidArgument, len(vectors), len(payloads), len(ids))
	}

	s.logger.Info("inserting vectors", "count", len(ids), "collection", s.collection)

	results := make([]InsertResult, len(ids))
	err := s.withContainer(func(c CosmosContainer) error {
		for i, id := range ids {
			var payload map[string]any
			if payloads != nil {
				payload = payloads[i]
			}

			results[i] = InsertResult{ID: id, Err: s.upsert(ctx, c, id, vectors[i], payload)}
			if results[i].Err != nil {
				s.logger.Error("failed to insert vector", "id", id, "error", results[i].Err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *CosmosStore) upsert(ctx context.Context, c CosmosContainer, id string, vector []float32, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}
	if err := checkDimension(vector, s.vectorSize); err != nil {
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
	return c.UpsertItem(ctx, id, body)
}

// scoredDocument is a similarity hit: the projected document plus its VectorDistance.
type scoredDocument struct {
	Document
	Score *float64 `json:"score"`
}

// Search runs a similarity query. Hits are ordered best-first and every hit carries a
// score where higher is better.
func (s *CosmosStore) Search(ctx context.Context, req SearchRequest) ([]OutputData, error) {
	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is required", ErrInvalidArgument)
	}
	if err := checkDimension(req.Vector, s.vectorSize); err != nil {
		return nil, err
	}
	filters, err := ParseFilters(req.Filters)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	q := ItemQuery{Vector: req.Vector, Distance: s.distance, Filters: filters, Limit: limit}
	if req.Hybrid {
		q.FullText = strings.Fields(req.Query)
	}

	results, err := s.search(ctx, q)
	if err != nil {
		s.logger.Error("search failed", "collection", s.collection, "error", err)
		return nil, err
	}
	return results, nil
}

// search runs q ranked by the backend. When the gateway cannot serve a ranked
// cross-partition query, plain similarity queries are re-run unranked and ranked here.
// Hybrid ranking has no client-side equivalent and fails with ErrQueryPlanRequired.
func (s *CosmosStore) search(ctx context.Context, q ItemQuery) ([]OutputData, error) {
	if len(q.FullText) == 0 && s.unranked.Load() {
		return s.searchUnranked(ctx, q)
	}

	var hits []scoredDocument
	err := s.withContainer(func(c CosmosContainer) error {
		return c.Query(ctx, q, func(item []byte) error {
			if len(hits) >= q.Limit {
				return nil
			}
			var hit scoredDocument
			if err := json.Unmarshal(item, &hit); err != nil {
				return fmt.Errorf("failed to unmarshal search hit: %w", err)
			}
			hits = append(hits, hit)
			return nil
		})
	})
	if errors.Is(err, ErrQueryPlanRequired) && len(q.FullText) == 0 {
		s.logger.Warn("gateway requires a query plan, ranking search hits client-side",
			"collection", s.collection, "error", err)
		s.unranked.Store(true)
		return s.searchUnranked(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	return s.outputs(hits), nil
}

func (s *CosmosStore) searchUnranked(ctx context.Context, q ItemQuery) ([]OutputData, error) {
	q.Unranked = true

	var hits []scoredDocument
	err := s.withContainer(func(c CosmosContainer) error {
		return c.Query(ctx, q, func(item []byte) error {
			var hit scoredDocument
			if err := json.Unmarshal(item, &hit); err != nil {
				return fmt.Errorf("failed to unmarshal search hit: %w", err)
			}
			if hit.Score != nil {
				hits = append(hits, hit)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if s.distance == DistanceEuclidean {
			return *hits[i].Score < *hits[j].Score
		}
		return *hits[i].Score > *hits[j].Score
	})
	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return s.outputs(hits), nil
}

func (s *CosmosStore) outputs(hits []scoredDocument) []OutputData {
	results := make([]OutputData, 0, len(hits))
	for _, hit := range hits {
		out := hit.Output()
		score := s.score(hit.Score)
		out.Score = &score
		results = append(results, out)
	}
	return results
}

// score turns a raw VectorDistance into a higher-is-better score. A hit without a
// distance gets an explicit zero.
func (s *CosmosStore) score(raw *float64) float64 {
	if raw == nil {
		return 0
	}
	if s.distance == DistanceEuclidean {
		return 1 / (1 + *raw)
	}
	return *raw
}

// Get reads one record by id.
func (s *CosmosStore) Get(ctx context.Context, id string) (OutputData, error) {
	var out OutputData
	err := s.withContainer(func(c CosmosContainer) error {
		body, _, err := c.ReadItem(ctx, id)
		if err != nil {
			return err
		}
		var doc Document
		if err := json.Unmarshal(body, &doc); err != nil {
			return fmt.Errorf("failed to unmarshal document: %w", err)
		}
		out = doc.Output()
		return nil
	})
	if err != nil {
		return OutputData{}, fmt.Errorf("get %s: %w", id, err)
	}
	return out, nil
}

// Update replaces the supplied fields of an existing record and keeps the others.
// The write is conditioned on the etag read, so a concurrent writer makes it fail with
// a precondition error instead of being overwritten.
func (s *CosmosStore) Update(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	if len(vector) == 0 && payload == nil {
		return fmt.Errorf("%w: update %s: vector or payload is required", ErrInvalidArgument, id)
	}
	if vector != nil {
		if err := checkDimension(vector, s.vectorSize); err != nil {
			return err
		}
	}

	err := s.withContainer(func(c CosmosContainer) error {
		body, etag, err := c.ReadItem(ctx, id)
		if err != nil {
			return err
		}

		var doc Document
		if err := json.Unmarshal(body, &doc); err != nil {
			return fmt.Errorf("failed to unmarshal document: %w", err)
		}

		if vector != nil {
			doc.Vector = vector
		}
		if payload != nil {
			if err := doc.SetPayload(payload); err != nil {
				return err
			}
		}

		updated, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}
		return c.ReplaceItem(ctx, id, updated, etag)
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	return nil
}

// Delete removes a record. A missing record is logged and ignored.
func (s *CosmosStore) Delete(ctx context.Context, id string) error {
	return s.withContainer(func(c CosmosContainer) error {
		err := c.DeleteItem(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("document not found", "id", id)
			return nil
		}
		return err
	})
}

// List scans the collection. Payloads that cannot be decoded are returned raw.
func (s *CosmosStore) List(ctx context.Context, filters map[string]any, limit int) ([]OutputData, error) {
	parsed, err := ParseFilters(filters)
	if err != nil {
		return nil, err
	}

	q := ItemQuery{Filters: parsed, Limit: limit, Unranked: s.unranked.Load()}
	results, err := s.list(ctx, q)
	if errors.Is(err, ErrQueryPlanRequired) && !q.Unranked {
		s.logger.Warn("gateway requires a query plan, limiting list client-side",
			"collection", s.collection, "error", err)
		s.unranked.Store(true)
		q.Unranked = true
		results, err = s.list(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *CosmosStore) list(ctx context.Context, q ItemQuery) ([]OutputData, error) {
	results := []OutputData{}
	err := s.withContainer(func(c CosmosContainer) error {
		err := c.Query(ctx, q, func(item []byte) error {
			if q.Limit > 0 && len(results) >= q.Limit {
				return errListFull
			}
			var doc Document
			if err := json.Unmarshal(item, &doc); err != nil {
				return fmt.Errorf("failed to unmarshal document: %w", err)
			}
			results = append(results, doc.Output())
			return nil
		})
		if errors.Is(err, errListFull) {
			return nil
		}
		return err
	})
	return results, err
}

// errListFull stops paging once an unranked list has collected its limit.
var errListFull = errors.New("list limit reached")

// Scan streams every record of the collection, vectors included. Undecodable payloads
// are passed on in RawPayload.
func (s *CosmosStore) Scan(ctx context.Context, fn func(Record) error) error {
	return s.withContainer(func(c CosmosContainer) error {
		return c.Query(ctx, ItemQuery{}, func(item []byte) error {
			var doc Document
			if err := json.Unmarshal(item, &doc); err != nil {
				return fmt.Errorf("failed to unmarshal document: %w", err)
			}
			return fn(doc.Record())
		})
	})
}

// ListCollections describes every collection of the database.
func (s *CosmosStore) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	infos, err := s.account.ListContainers(ctx, s.database)
	if err != nil {
		return nil, err
	}
	if infos == nil {
		infos = []CollectionInfo{}
	}
	return infos, nil
}

// CollectionInfo describes the configured collection.
func (s *CosmosStore) CollectionInfo(ctx context.Context) (CollectionInfo, error) {
	var info CollectionInfo
	err := s.withContainer(func(c CosmosContainer) error {
		var err error
		info, err = c.Read(ctx)
		return err
	})
	return info, err
}

// DeleteCollection drops the configured collection.
func (s *CosmosStore) DeleteCollection(ctx context.Context) error {
	return s.withContainer(func(c CosmosContainer) error {
		if err := c.Delete(ctx); err != nil {
			s.logger.Error("failed to delete collection", "collection", s.collection, "error", err)
			return err
		}
		s.logger.Info("deleted collection", "collection", s.collection)
		return nil
	})
}

// Reset drops the configured collection and recreates it empty. All data is lost.
func (s *CosmosStore) Reset(ctx context.Context) error {
	s.logger.Warn("resetting collection", "collection", s.collection)

	if err := s.DeleteCollection(ctx); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.EnsureCollection(ctx, s.collection, s.vectorSize, s.distance)
}

// Close releases the account client.
func (s *CosmosStore) Close() error {
	return s.account.Close()
}
