package domain

import (
	"github.com/Zereker/vectorstore/pkg/vector"
)

// ============================================================================
// Requests
// ============================================================================

// InsertRequest inserts a batch of records.
//
// IDs may be omitted, fresh uuids are assigned. Vectors may be omitted when Texts are
// given, each text is then embedded.
type InsertRequest struct {
	IDs      []string         `json:"ids,omitempty"`
	Vectors  [][]float32      `json:"vectors,omitempty"`
	Texts    []string         `json:"texts,omitempty"`
	Payloads []map[string]any `json:"payloads,omitempty"`
}

// Len returns the batch size.
func (r *InsertRequest) Len() int {
	return max(len(r.Vectors), len(r.Texts))
}

// SearchRequest is a similarity query. Vector may be omitted when Query is set.
type SearchRequest struct {
	Query   string         `json:"query,omitempty"`
	Vector  []float32      `json:"vector,omitempty"`
	Limit   int            `json:"limit,omitempty"`
	Filters map[string]any `json:"filters,omitempty"`
	Hybrid  bool           `json:"hybrid,omitempty"`
}

// UpdateRequest replaces the supplied fields of a record.
type UpdateRequest struct {
	Vector  []float32      `json:"vector,omitempty"`
	Text    string         `json:"text,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ListRequest scans the collection.
type ListRequest struct {
	Filters map[string]any `json:"filters,omitempty"`
	Limit   int            `json:"limit,omitempty"`
}

// EnsureCollectionRequest creates a collection.
type EnsureCollectionRequest struct {
	Name       string `json:"name"`
	VectorSize int    `json:"vector_size"`
	Distance   string `json:"distance,omitempty"`
}

// ============================================================================
// Responses
// ============================================================================

// InsertResult is the outcome of one record.
type InsertResult struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// InsertResponse reports a batch insert.
type InsertResponse struct {
	Results  []InsertResult `json:"results"`
	Inserted int            `json:"inserted"`
	Failed   int            `json:"failed"`
	// Queued is set when the batch was published for asynchronous processing.
	Queued bool `json:"queued,omitempty"`
}

// NewInsertResponse converts store results.
func NewInsertResponse(results []vector.InsertResult) *InsertResponse {
	resp := &InsertResponse{Results: make([]InsertResult, len(results))}
	for i, r := range results {
		resp.Results[i] = InsertResult{ID: r.ID}
		if r.Err != nil {
			resp.Results[i].Error = r.Err.Error()
			resp.Failed++
		} else {
			resp.Inserted++
		}
	}
	return resp
}

// SearchResponse carries search hits, best first.
type SearchResponse struct {
	Results []vector.OutputData `json:"results"`
}
