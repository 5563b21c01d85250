package vector

import (
	"fmt"
	"strings"
	"time"
)

// DefaultVectorSize is the dimensionality used when none is configured.
const DefaultVectorSize = 1536

// DefaultSearchLimit is the number of hits returned when a search sets no limit.
const DefaultSearchLimit = 5

// Distance is the similarity metric of a collection.
type Distance string

// Supported distance metrics
const (
	DistanceCosine     Distance = "cosine"
	DistanceDotProduct Distance = "dotproduct"
	DistanceEuclidean  Distance = "euclidean"
)

// ParseDistance parses a distance name. An empty name selects cosine.
func ParseDistance(name string) (Distance, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cosine":
		return DistanceCosine, nil
	case "dotproduct", "dot_product", "dot":
		return DistanceDotProduct, nil
	case "euclidean", "l2":
		return DistanceEuclidean, nil
	default:
		return "", fmt.Errorf("%w: unknown distance %q", ErrInvalidArgument, name)
	}
}

// Valid reports whether d is a supported metric.
func (d Distance) Valid() bool {
	switch d {
	case DistanceCosine, DistanceDotProduct, DistanceEuclidean:
		return true
	}
	return false
}

// Record is the unit of storage.
type Record struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
	// RawPayload holds a stored payload that is not a JSON object, verbatim.
	RawPayload string `json:"raw_payload,omitempty"`
}

// OutputData is the result shape of reads and searches.
//
// Score is nil for reads that are not similarity ranked. RawPayload carries the stored
// payload verbatim when it could not be decoded into Payload.
type OutputData struct {
	ID         string         `json:"id,omitempty"`
	Score      *float64       `json:"score,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	RawPayload string         `json:"raw_payload,omitempty"`
}

// SearchRequest describes a similarity query.
type SearchRequest struct {
	// Query is the text the vector was computed from. It only affects ranking when Hybrid is set.
	Query string

	// Vector is the query embedding. Required.
	Vector []float32

	// Limit caps the number of hits, DefaultSearchLimit when <= 0.
	Limit int

	// Filters restricts hits by equality on filterable fields.
	Filters map[string]any

	// Hybrid fuses vector similarity with full-text relevance of Query over the payload.
	Hybrid bool
}

// InsertResult reports the outcome of one record of an Insert batch.
type InsertResult struct {
	ID  string
	Err error
}

// OK reports whether the record was written.
func (r InsertResult) OK() bool {
	return r.Err == nil
}

// FailedIDs returns the ids of the records that were not written.
func FailedIDs(results []InsertResult) []string {
	var ids []string
	for _, r := range results {
		if !r.OK() {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// CollectionInfo is a descriptive snapshot of a collection.
type CollectionInfo struct {
	ID             string         `json:"id"`
	ResourceID     string         `json:"resource_id,omitempty"`
	ETag           string         `json:"etag,omitempty"`
	LastModified   time.Time      `json:"last_modified,omitempty"`
	PartitionKey   []string       `json:"partition_key,omitempty"`
	IndexingPolicy map[string]any `json:"indexing_policy,omitempty"`
	DefaultTTL     *int32         `json:"default_ttl,omitempty"`
	// Throughput is nil when the backend does not report it.
	Throughput *int32 `json:"throughput,omitempty"`
}

// Capacity is the throughput provisioning mode detected for the database.
type Capacity string

const (
	// CapacityManual means fixed throughput shared at the database level.
	CapacityManual Capacity = "manual"
	// CapacityAutoscale means autoscaling throughput shared at the database level.
	CapacityAutoscale Capacity = "autoscale"
	// CapacityDedicated means the database has no shared throughput; each collection
	// is provisioned on its own.
	CapacityDedicated Capacity = "dedicated"
	// CapacityServerless means the account forbids provisioning. Collections are created
	// without throughput.
	CapacityServerless Capacity = "serverless"
)

// Provisioned reports whether throughput can be provisioned in this mode.
func (c Capacity) Provisioned() bool {
	return c != CapacityServerless
}
