package action

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Zereker/vectorstore/internal/domain"
	"github.com/Zereker/vectorstore/pkg/log"
	"github.com/Zereker/vectorstore/pkg/mq"
	"github.com/Zereker/vectorstore/pkg/vector"
)

// ErrAsyncDisabled is returned by the asynchronous writes when no queue is configured.
var ErrAsyncDisabled = fmt.Errorf("%w: asynchronous writes are disabled", vector.ErrInvalidArgument)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Option configures Vectors.
type Option func(*Vectors)

// WithEmbedder enables text queries and text inserts.
func WithEmbedder(embedder Embedder) Option {
	return func(v *Vectors) {
		v.embedder = embedder
	}
}

// WithQueue enables asynchronous writes published to topic.
func WithQueue(queue mq.MessageQueue, topic string) Option {
	return func(v *Vectors) {
		v.queue = queue
		v.topic = topic
	}
}

// Vectors is the service behind the API surfaces.
type Vectors struct {
	logger   *slog.Logger
	store    vector.Store
	embedder Embedder
	queue    mq.MessageQueue
	topic    string
}

// NewVectors creates the service over store.
func NewVectors(store vector.Store, opts ...Option) *Vectors {
	v := &Vectors{
		logger: log.Logger("action.vectors"),
		store:  store,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Store returns the underlying store.
func (v *Vectors) Store() vector.Store {
	return v.store
}

// AsyncEnabled reports whether a queue is configured.
func (v *Vectors) AsyncEnabled() bool {
	return v.queue != nil
}

// ============================================================================
// Writes
// ============================================================================

// Insert writes the batch and reports the outcome of every record.
func (v *Vectors) Insert(ctx context.Context, req *domain.InsertRequest) (*domain.InsertResponse, error) {
	ids, vectors, payloads, err := v.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	results, err := v.store.Insert(ctx, vectors, payloads, ids)
	if err != nil {
		return nil, errors.WithMessage(err, "insert")
	}

	resp := domain.NewInsertResponse(results)
	if resp.Failed > 0 {
		v.logger.Warn("insert partially failed", "inserted", resp.Inserted, "failed_ids", vector.FailedIDs(results))
	}
	return resp, nil
}

// InsertAsync publishes one insert mutation per record.
func (v *Vectors) InsertAsync(ctx context.Context, req *domain.InsertRequest) (*domain.InsertResponse, error) {
	if v.queue == nil {
		return nil, ErrAsyncDisabled
	}

	ids, vectors, payloads, err := v.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &domain.InsertResponse{Results: make([]domain.InsertResult, len(ids)), Queued: true}
	for i, id := range ids {
		resp.Results[i].ID = id
		m := &domain.Mutation{
			Op:       domain.OpInsert,
			IDs:      []string{id},
			Vectors:  [][]float32{vectors[i]},
			Payloads: []map[string]any{payloads[i]},
		}
		if err := v.publish(ctx, m); err != nil {
			resp.Results[i].Error = err.Error()
			resp.Failed++
			continue
		}
		resp.Inserted++
	}
	return resp, nil
}

// Update writes the supplied fields of a record. Text is embedded when no vector is given.
func (v *Vectors) Update(ctx context.Context, id string, req *domain.UpdateRequest) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", vector.ErrInvalidArgument)
	}

	vec := req.Vector
	if len(vec) == 0 && req.Text != "" {
		embedded, err := v.embed(ctx, req.Text)
		if err != nil {
			return err
		}
		vec = embedded
	}

	return v.store.Update(ctx, id, vec, req.Payload)
}

// Delete removes a record.
func (v *Vectors) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", vector.ErrInvalidArgument)
	}
	return v.store.Delete(ctx, id)
}

// DeleteAsync publishes a delete mutation.
func (v *Vectors) DeleteAsync(ctx context.Context, id string) error {
	if v.queue == nil {
		return ErrAsyncDisabled
	}
	if id == "" {
		return fmt.Errorf("%w: id is required", vector.ErrInvalidArgument)
	}
	return v.publish(ctx, &domain.Mutation{Op: domain.OpDelete, ID: id})
}

// Apply executes a mutation consumed from the queue.
func (v *Vectors) Apply(ctx context.Context, m *domain.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}

	switch m.Op {
	case domain.OpInsert:
		results, err := v.store.Insert(ctx, m.Vectors, m.Payloads, m.IDs)
		if err != nil {
			return errors.WithMessage(err, "apply insert")
		}
		var failed []vector.InsertResult
		for _, r := range results {
			if r.Err != nil {
				failed = append(failed, r)
			}
		}
		if len(failed) > 0 {
			return &InsertError{Total: len(results), Failed: failed}
		}
		return nil
	case domain.OpUpdate:
		return errors.WithMessagef(v.store.Update(ctx, m.ID, m.Vector, m.Payload), "apply update %s", m.ID)
	default:
		return errors.WithMessagef(v.store.Delete(ctx, m.ID), "apply delete %s", m.ID)
	}
}

// HandleMessage decodes and applies one queue message. It satisfies mq.MessageHandler.
func (v *Vectors) HandleMessage(ctx context.Context, topic string, message []byte) error {
	m, err := DecodeMutation(message)
	if err != nil {
		return mq.Permanent(errors.WithMessagef(err, "decode message from %s", topic))
	}
	if err := v.Apply(ctx, m); err != nil {
		if permanent(err) {
			return mq.Permanent(err)
		}
		return err
	}
	return nil
}

// permanent reports whether redelivering the mutation cannot succeed. A partly failed
// insert is permanent only when every failed record is.
func permanent(err error) bool {
	var insertErr *InsertError
	if errors.As(err, &insertErr) {
		for _, r := range insertErr.Failed {
			if !permanent(r.Err) {
				return false
			}
		}
		return true
	}
	return errors.Is(err, domain.ErrInvalidMutation) || errors.Is(err, vector.ErrInvalidArgument) || errors.Is(err, vector.ErrNotFound)
}

// InsertError reports the records of an insert mutation that were not written.
// Each record's error stays reachable through errors.Is and errors.As.
type InsertError struct {
	Total  int
	Failed []vector.InsertResult
}

func (e *InsertError) Error() string {
	ids := make([]string, len(e.Failed))
	for i, r := range e.Failed {
		ids[i] = r.ID
	}
	return fmt.Sprintf("apply insert: %d of %d records failed: %v: %v", len(e.Failed), e.Total, ids, e.Failed[0].Err)
}

func (e *InsertError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, r := range e.Failed {
		errs[i] = r.Err
	}
	return errs
}

func (v *Vectors) publish(ctx context.Context, m *domain.Mutation) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal mutation")
	}
	return v.queue.Publish(ctx, v.topic, m.Key(), data)
}

// prepare aligns a request into store arguments: ids are generated when absent and
// texts are embedded when vectors are absent. Text records get the text as payload "data"
// unless the payload sets it.
func (v *Vectors) prepare(ctx context.Context, req *domain.InsertRequest) ([]string, [][]float32, []map[string]any, error) {
	n := req.Len()
	if n == 0 {
		return nil, nil, nil, fmt.Errorf("%w: no records", vector.ErrInvalidArgument)
	}
	if len(req.Vectors) > 0 && len(req.Texts) > 0 && len(req.Vectors) != len(req.Texts) {
		return nil, nil, nil, fmt.Errorf("%w: %d vectors for %d texts", vector.ErrInvalidArgument, len(req.Vectors), len(req.Texts))
	}
	if len(req.IDs) > 0 && len(req.IDs) != n {
		return nil, nil, nil, fmt.Errorf("%w: %d ids for %d records", vector.ErrInvalidArgument, len(req.IDs), n)
	}
	if req.Payloads != nil && len(req.Payloads) != n {
		return nil, nil, nil, fmt.Errorf("%w: %d payloads for %d records", vector.ErrInvalidArgument, len(req.Payloads), n)
	}

	ids := req.IDs
	if len(ids) == 0 {
		ids = make([]string, n)
		for i := range ids {
			ids[i] = uuid.NewString()
		}
	}

	payloads := make([]map[string]any, n)
	for i := range payloads {
		if req.Payloads != nil && req.Payloads[i] != nil {
			payloads[i] = maps.Clone(req.Payloads[i])
		}
	}

	vectors := req.Vectors
	if len(vectors) == 0 {
		vectors = make([][]float32, n)
		for i, text := range req.Texts {
			vec, err := v.embed(ctx, text)
			if err != nil {
				return nil, nil, nil, err
			}
			vectors[i] = vec

			if payloads[i] == nil {
				payloads[i] = make(map[string]any, 1)
			}
			if _, ok := payloads[i]["data"]; !ok {
				payloads[i]["data"] = text
			}
		}
	}

	return ids, vectors, payloads, nil
}

// ============================================================================
// Reads
// ============================================================================

// Search returns the best matches of the request vector, or of its embedded query text.
func (v *Vectors) Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, error) {
	vec := req.Vector
	if len(vec) == 0 {
		if req.Query == "" {
			return nil, fmt.Errorf("%w: query or vector is required", vector.ErrInvalidArgument)
		}
		embedded, err := v.embed(ctx, req.Query)
		if err != nil {
			return nil, err
		}
		vec = embedded
	}

	results, err := v.store.Search(ctx, vector.SearchRequest{
		Query:   req.Query,
		Vector:  vec,
		Limit:   req.Limit,
		Filters: req.Filters,
		Hybrid:  req.Hybrid,
	})
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []vector.OutputData{}
	}
	return &domain.SearchResponse{Results: results}, nil
}

// Get reads one record.
func (v *Vectors) Get(ctx context.Context, id string) (vector.OutputData, error) {
	if id == "" {
		return vector.OutputData{}, fmt.Errorf("%w: id is required", vector.ErrInvalidArgument)
	}
	return v.store.Get(ctx, id)
}

// List scans the collection.
func (v *Vectors) List(ctx context.Context, req *domain.ListRequest) ([]vector.OutputData, error) {
	return v.store.List(ctx, req.Filters, req.Limit)
}

func (v *Vectors) embed(ctx context.Context, text string) ([]float32, error) {
	if v.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured for text input", vector.ErrInvalidArgument)
	}
	vec, err := v.embedder.Embed(ctx, text)
	if err != nil {
		return nil, errors.WithMessage(err, "embed text")
	}
	return vec, nil
}

// ============================================================================
// Collections
// ============================================================================

// EnsureCollection creates a collection if it does not exist.
func (v *Vectors) EnsureCollection(ctx context.Context, req *domain.EnsureCollectionRequest) error {
	if req.Name == "" {
		return fmt.Errorf("%w: name is required", vector.ErrInvalidArgument)
	}
	if req.VectorSize <= 0 {
		return fmt.Errorf("%w: vector_size must be positive", vector.ErrInvalidArgument)
	}
	distance, err := vector.ParseDistance(req.Distance)
	if err != nil {
		return err
	}
	return v.store.EnsureCollection(ctx, req.Name, req.VectorSize, distance)
}

// ListCollections describes every collection.
func (v *Vectors) ListCollections(ctx context.Context) ([]vector.CollectionInfo, error) {
	infos, err := v.store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	if infos == nil {
		infos = []vector.CollectionInfo{}
	}
	return infos, nil
}

// CollectionInfo describes the configured collection.
func (v *Vectors) CollectionInfo(ctx context.Context) (vector.CollectionInfo, error) {
	return v.store.CollectionInfo(ctx)
}

// DeleteCollection drops the configured collection.
func (v *Vectors) DeleteCollection(ctx context.Context) error {
	v.logger.Warn("deleting collection")
	return v.store.DeleteCollection(ctx)
}

// Reset empties the configured collection.
func (v *Vectors) Reset(ctx context.Context) error {
	v.logger.Warn("resetting collection")
	return v.store.Reset(ctx)
}
