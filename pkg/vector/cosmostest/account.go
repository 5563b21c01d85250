// Package cosmostest provides an in-memory vector.CosmosAccount for tests.
//
// The emulator keeps databases, containers and items in maps and evaluates
// vector.ItemQuery values the way Cosmos DB evaluates the SQL built from them:
// equality filters, TOP, and VectorDistance ordering (most similar first). Unranked
// queries come back in id order.
package cosmostest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Zereker/vectorstore/pkg/vector"
)

// Error messages returned by serverless accounts.
const (
	ServerlessCreateMessage = "Shared throughput database creation is not supported for serverless accounts"
	ServerlessOfferMessage  = "Reading or replacing offers is not supported for serverless accounts"
)

// Account is an in-memory Cosmos DB account.
type Account struct {
	mu sync.Mutex

	// Serverless makes the account reject throughput settings like a serverless account.
	Serverless bool

	// RequireQueryPlan makes queries with TOP or a ranking fail the way the gateway
	// fails cross-partition queries it cannot serve.
	RequireQueryPlan bool

	databases map[string]*database
	etag      int

	// FailUpsert maps item ids to the error returned when upserting them.
	FailUpsert map[string]error

	// BeforeReplace runs before each ReplaceItem, e.g. to simulate a concurrent writer.
	BeforeReplace func(id string)

	// Calls counts invocations per method name.
	Calls map[string]int

	acquired int
	released int
}

type database struct {
	throughput *vector.Throughput
	containers map[string]*container
}

type container struct {
	spec     vector.ContainerSpec
	rid      string
	etag     string
	modified time.Time
	items    map[string]item
}

type item struct {
	body []byte
	etag string
}

var _ vector.CosmosAccount = (*Account)(nil)

// NewAccount creates an empty account.
func NewAccount() *Account {
	return &Account{
		databases:  make(map[string]*database),
		FailUpsert: make(map[string]error),
		Calls:      make(map[string]int),
	}
}

// Handles returns how many container handles were acquired and released.
func (a *Account) Handles() (acquired, released int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acquired, a.released
}

// CallCount returns how many times method was invoked.
func (a *Account) CallCount(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Calls[method]
}

// AddDatabase seeds a database. A nil throughput models a database without shared throughput.
func (a *Account) AddDatabase(name string, tp *vector.Throughput) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.databases[name] = &database{throughput: tp, containers: make(map[string]*container)}
}

// PutRaw stores a raw item body, bypassing the document layout.
func (a *Account) PutRaw(db, coll, id string, body []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.databases[db].containers[coll]
	c.items[id] = item{body: body, etag: a.nextETag()}
}

// Spec returns the spec a container was created with.
func (a *Account) Spec(db, coll string) (vector.ContainerSpec, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.databases[db]
	if !ok {
		return vector.ContainerSpec{}, false
	}
	c, ok := d.containers[coll]
	if !ok {
		return vector.ContainerSpec{}, false
	}
	return c.spec, true
}

func (a *Account) nextETag() string {
	a.etag++
	return strconv.Quote(strconv.Itoa(a.etag))
}

func (a *Account) count(method string) {
	a.Calls[method]++
}

func (a *Account) DatabaseExists(_ context.Context, name string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("DatabaseExists")
	_, ok := a.databases[name]
	return ok, nil
}

func (a *Account) CreateDatabase(_ context.Context, name string, tp *vector.Throughput) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("CreateDatabase")

	if tp != nil && a.Serverless {
		return &vector.BackendError{Op: "create database", StatusCode: http.StatusBadRequest, Code: "BadRequest", Message: ServerlessCreateMessage}
	}
	if _, ok := a.databases[name]; ok {
		return &vector.BackendError{Op: "create database", StatusCode: http.StatusConflict, Code: "Conflict", Message: "database already exists"}
	}
	var stored *vector.Throughput
	if tp != nil {
		cp := *tp
		stored = &cp
	}
	a.databases[name] = &database{throughput: stored, containers: make(map[string]*container)}
	return nil
}

func (a *Account) DatabaseThroughput(_ context.Context, name string) (vector.Throughput, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("DatabaseThroughput")

	if a.Serverless {
		return vector.Throughput{}, &vector.BackendError{Op: "read database throughput", StatusCode: http.StatusBadRequest, Code: "BadRequest", Message: ServerlessOfferMessage}
	}
	d, ok := a.databases[name]
	if !ok || d.throughput == nil {
		return vector.Throughput{}, notFound("read database throughput")
	}
	return *d.throughput, nil
}

func (a *Account) ListContainers(_ context.Context, name string) ([]vector.CollectionInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("ListContainers")

	d, ok := a.databases[name]
	if !ok {
		return nil, notFound("list containers")
	}
	names := make([]string, 0, len(d.containers))
	for n := range d.containers {
		names = append(names, n)
	}
	sort.Strings(names)

	infos := make([]vector.CollectionInfo, 0, len(names))
	for _, n := range names {
		infos = append(infos, d.containers[n].info())
	}
	return infos, nil
}

func (a *Account) CreateContainer(_ context.Context, db string, spec vector.ContainerSpec) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count("CreateContainer")

	d, ok := a.databases[db]
	if !ok {
		return notFound("create container")
	}
	if spec.Throughput != nil && a.Serverless {
		return &vector.BackendError{Op: "create container", StatusCode: http.StatusBadRequest, Code: "BadRequest", Message: ServerlessOfferMessage}
	}
	if _, ok := d.containers[spec.Name]; ok {
		return &vector.BackendError{Op: "create container", StatusCode: http.StatusConflict, Code: "Conflict", Message: "container already exists"}
	}
	d.containers[spec.Name] = &container{
		spec:     spec,
		rid:      fmt.Sprintf("rid-%s", spec.Name),
		etag:     a.nextETag(),
		modified: time.Now().UTC().Truncate(time.Second),
		items:    make(map[string]item),
	}
	return nil
}

func (a *Account) Container(db, name string) (vector.CosmosContainer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acquired++
	return &handle{account: a, db: db, name: name}, nil
}

func (a *Account) Close() error {
	return nil
}

func (c *container) info() vector.CollectionInfo {
	info := vector.CollectionInfo{
		ID:           c.spec.Name,
		ResourceID:   c.rid,
		ETag:         c.etag,
		LastModified: c.modified,
		PartitionKey: []string{"/id"},
		IndexingPolicy: map[string]any{
			"indexingMode":  "consistent",
			"excludedPaths": []any{map[string]any{"path": "/_etag/?"}, map[string]any{"path": "/vector/*"}},
		},
	}
	if c.spec.Throughput != nil {
		v := c.spec.Throughput.Max
		info.Throughput = &v
	}
	return info
}

func notFound(op string) error {
	return &vector.BackendError{Op: op, StatusCode: http.StatusNotFound, Code: "NotFound", Message: "resource not found"}
}

// handle is a container handle bound to one container name.
type handle struct {
	account  *Account
	db       string
	name     string
	released bool
}

// lookup must be called with the account lock held.
func (h *handle) lookup(op string) (*container, error) {
	d, ok := h.account.databases[h.db]
	if !ok {
		return nil, notFound(op)
	}
	c, ok := d.containers[h.name]
	if !ok {
		return nil, notFound(op)
	}
	return c, nil
}

func (h *handle) Read(_ context.Context) (vector.CollectionInfo, error) {
	h.account.mu.Lock()
	defer h.account.mu.Unlock()
	h.account.count("ReadContainer")

	c, err := h.lookup("read container")
	if err != nil {
		return vector.CollectionInfo{}, err
	}
	return c.info(), nil
}

func (h *handle) Delete(_ context.Context) error {
	h.account.mu.Lock()
	defer h.account.mu.Unlock()
	h.account.count("DeleteContainer")

	if _, err := h.lookup("delete container"); err != nil {
		return err
	}
	delete(h.account.databases[h.db].containers, h.name)
	return nil
}

func (h *handle) UpsertItem(_ context.Context, id string, body []byte) error {
	h.account.mu.Lock()
	defer h.account.mu.Unlock()
	h.account.count("UpsertItem")

	if err, ok := h.account.FailUpsert[id]; ok {
		return err
	}
	c, err := h.lookup("upsert item")
	if err != nil {
		return err
	}
	c.items[id] = item{body: append([]byte(nil), body...), etag: h.account.nextETag()}
	return nil
}

func (h *handle) ReadItem(_ context.Context, id string) ([]byte, string, error) {
	h.account.mu.Lock()
	defer h.account.mu.Unlock()
	h.account.count("ReadItem")

	c, err := h.lookup("read item")
	if err != nil {
		return nil, "", err
	}
	it, ok := c.items[id]
	if !ok {
		return nil, "", notFound("read item")
	}
	return it.body, it.etag, nil
}

func (h *handle) ReplaceItem(_ context.Context, id string, body []byte, etag string) error {
	if h.account.BeforeReplace != nil {
		h.account.BeforeReplace(id)
	}
	h.account.mu.Lock()
	defer h.account.mu.Unlock()
	h.account.count("ReplaceItem")

	c, err := h.lookup("replace item")
	if err != nil {
		return err
	}
	it, ok := c.items[id]
	if !ok {
		return notFound("replace item")
	}
	if etag != "" && etag != it.etag {
		return &vector.BackendError{Op: "replace item", StatusCode: http.StatusPreconditionFailed, Code: "PreconditionFailed", Message: "etag mismatch"}
	}
	c.items[id] = item{body: append([]byte(nil), body...), etag: h.account.nextETag()}
	return nil
}

// SetETag overwrites the etag of an item, simulating a concurrent writer.
func (a *Account) SetETag(db, coll, id, etag string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.databases[db].containers[coll]
	it := c.items[id]
	it.etag = etag
	c.items[id] = it
}

func (h *handle) DeleteItem(_ context.Context, id string) error {
	h.account.mu.Lock()
	defer h.account.mu.Unlock()
	h.account.count("DeleteItem")

	c, err := h.lookup("delete item")
	if err != nil {
		return err
	}
	if _, ok := c.items[id]; !ok {
		return notFound("delete item")
	}
	delete(c.items, id)
	return nil
}

func (h *handle) Query(ctx context.Context, q vector.ItemQuery, fn func(item []byte) error) error {
	h.account.mu.Lock()
	h.account.count("Query")
	c, err := h.lookup("query items")
	if err != nil {
		h.account.mu.Unlock()
		return err
	}
	if h.account.RequireQueryPlan && !q.Unranked && (q.Limit > 0 || len(q.Vector) > 0) {
		h.account.mu.Unlock()
		return &vector.BackendError{Op: "query items", StatusCode: http.StatusBadRequest, Code: "BadRequest", Message: vector.QueryPlanMessage}
	}
	bodies := make([][]byte, 0, len(c.items))
	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		bodies = append(bodies, c.items[id].body)
	}
	h.account.mu.Unlock()

	rows, err := evaluate(bodies, q)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (h *handle) Release() {
	h.account.mu.Lock()
	defer h.account.mu.Unlock()
	if !h.released {
		h.released = true
		h.account.released++
	}
}

type scored struct {
	doc   map[string]any
	score float64
}

func evaluate(bodies [][]byte, q vector.ItemQuery) ([][]byte, error) {
	var hits []scored
	for _, body := range bodies {
		var doc map[string]any
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, err
		}
		if !matches(doc, q.Filters) {
			continue
		}
		hit := scored{doc: doc}
		if len(q.Vector) > 0 {
			score, ok := vectorDistance(q.Distance, toFloats(doc["vector"]), q.Vector)
			if !ok {
				continue
			}
			hit.score = score
		}
		hits = append(hits, hit)
	}

	if len(q.Vector) > 0 && !q.Unranked {
		sort.SliceStable(hits, func(i, j int) bool {
			if q.Distance == vector.DistanceEuclidean {
				return hits[i].score < hits[j].score
			}
			return hits[i].score > hits[j].score
		})
	}
	if q.Limit > 0 && !q.Unranked && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}

	rows := make([][]byte, 0, len(hits))
	for _, hit := range hits {
		row := hit.doc
		if len(q.Vector) > 0 {
			row = map[string]any{"id": hit.doc["id"], "payload": hit.doc["payload"], "score": hit.score}
			for _, f := range vector.PromotedFields {
				if v, ok := hit.doc[f]; ok {
					row[f] = v
				}
			}
		}
		data, err := json.Marshal(row)
		if err != nil {
			return nil, err
		}
		rows = append(rows, data)
	}
	return rows, nil
}

func matches(doc map[string]any, filters []vector.Filter) bool {
	for _, f := range filters {
		if fmt.Sprint(doc[f.Field]) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

func toFloats(v any) []float64 {
	raw, _ := v.([]any)
	out := make([]float64, len(raw))
	for i, x := range raw {
		out[i], _ = x.(float64)
	}
	return out
}

// vectorDistance mirrors the Cosmos DB VectorDistance function: similarity for cosine and
// dot product, distance for euclidean.
// Documents whose vector does not match the query dimension are not comparable.
func vectorDistance(d vector.Distance, stored []float64, query []float32) (float64, bool) {
	if len(stored) != len(query) {
		return 0, false
	}
	var dot, normA, normB, sq float64
	for i := range stored {
		a, b := stored[i], float64(query[i])
		dot += a * b
		normA += a * a
		normB += b * b
		sq += (a - b) * (a - b)
	}
	switch d {
	case vector.DistanceDotProduct:
		return dot, true
	case vector.DistanceEuclidean:
		return math.Sqrt(sq), true
	default:
		if normA == 0 || normB == 0 {
			return 0, true
		}
		return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
	}
}
