package domain

import (
	"errors"
	"fmt"
)

// Mutation operations
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Mutation is a write applied asynchronously through the message queue.
//
// Insert uses IDs, Vectors and Payloads. Update and delete use ID, plus Vector and
// Payload for updates.
type Mutation struct {
	Op       string           `json:"op"`
	IDs      []string         `json:"ids,omitempty"`
	Vectors  [][]float32      `json:"vectors,omitempty"`
	Payloads []map[string]any `json:"payloads,omitempty"`
	ID       string           `json:"id,omitempty"`
	Vector   []float32        `json:"vector,omitempty"`
	Payload  map[string]any   `json:"payload,omitempty"`
}

// ErrInvalidMutation is returned for malformed mutation messages.
var ErrInvalidMutation = errors.New("invalid mutation")

// Validate checks that the fields required by Op are present.
func (m *Mutation) Validate() error {
	switch m.Op {
	case OpInsert:
		if len(m.IDs) == 0 {
			return fmt.Errorf("%w: insert without ids", ErrInvalidMutation)
		}
		if len(m.Vectors) != len(m.IDs) {
			return fmt.Errorf("%w: %d vectors for %d ids", ErrInvalidMutation, len(m.Vectors), len(m.IDs))
		}
		if m.Payloads != nil && len(m.Payloads) != len(m.IDs) {
			return fmt.Errorf("%w: %d payloads for %d ids", ErrInvalidMutation, len(m.Payloads), len(m.IDs))
		}
	case OpUpdate:
		if m.ID == "" {
			return fmt.Errorf("%w: update without id", ErrInvalidMutation)
		}
		if m.Vector == nil && m.Payload == nil {
			return fmt.Errorf("%w: update without vector or payload", ErrInvalidMutation)
		}
	case OpDelete:
		if m.ID == "" {
			return fmt.Errorf("%w: delete without id", ErrInvalidMutation)
		}
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidMutation, m.Op)
	}
	return nil
}

// Key is the partitioning key of the message: the record id, so that mutations of one
// record stay ordered.
func (m *Mutation) Key() string {
	if m.ID != "" {
		return m.ID
	}
	if len(m.IDs) > 0 {
		return m.IDs[0]
	}
	return ""
}
