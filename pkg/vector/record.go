package vector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

// Payload keys mirrored to top-level fields so the backend can filter on them.
const (
	FieldUserID  = "user_id"
	FieldRunID   = "run_id"
	FieldAgentID = "agent_id"
)

// PromotedFields lists the payload keys duplicated as top-level document fields.
var PromotedFields = []string{FieldUserID, FieldRunID, FieldAgentID}

// Document is the persisted layout of a Record.
type Document struct {
	ID      string    `json:"id" mapstructure:"id"`
	Vector  []float32 `json:"vector,omitempty" mapstructure:"vector"`
	Payload string    `json:"payload,omitempty" mapstructure:"payload"`
	UserID  string    `json:"user_id,omitempty" mapstructure:"user_id"`
	RunID   string    `json:"run_id,omitempty" mapstructure:"run_id"`
	AgentID string    `json:"agent_id,omitempty" mapstructure:"agent_id"`
}

// NewDocument builds the stored form of a record.
func NewDocument(id string, vector []float32, payload map[string]any) (Document, error) {
	doc := Document{ID: id, Vector: vector}
	if err := doc.SetPayload(payload); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// SetPayload serializes payload and re-derives the promoted fields from it.
func (d *Document) SetPayload(payload map[string]any) error {
	encoded, err := EncodePayload(payload)
	if err != nil {
		return err
	}
	d.Payload = encoded
	d.UserID = promoted(payload, FieldUserID)
	d.RunID = promoted(payload, FieldRunID)
	d.AgentID = promoted(payload, FieldAgentID)
	return nil
}

// Output converts the document to OutputData. Score is left nil.
func (d Document) Output() OutputData {
	out := OutputData{ID: d.ID}
	if d.Payload == "" {
		return out
	}
	payload, err := DecodePayload(d.Payload)
	if err != nil {
		out.RawPayload = d.Payload
		return out
	}
	out.Payload = payload
	return out
}

// Record converts the document back to a Record. A payload that cannot be decoded is
// carried verbatim in RawPayload.
func (d Document) Record() Record {
	rec := Record{ID: d.ID, Vector: d.Vector}
	if d.Payload == "" {
		return rec
	}
	payload, err := DecodePayload(d.Payload)
	if err != nil {
		rec.RawPayload = d.Payload
		return rec
	}
	rec.Payload = payload
	return rec
}

func promoted(payload map[string]any, field string) string {
	v, ok := payload[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// EncodePayload serializes a payload to the string stored in the payload field.
// A nil payload is stored as an empty object.
func EncodePayload(payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload parses a stored payload. Numbers are kept as json.Number so integers
// beyond 2^53 survive a read-modify-write. A value that is not a JSON object on its own
// is retried with its markdown code fence unwrapped.
func DecodePayload(raw string) (map[string]any, error) {
	payload, err := decodeObject(raw)
	if err == nil {
		return payload, nil
	}
	if fenced := extractJSON(raw); fenced != strings.TrimSpace(raw) {
		if payload, ferr := decodeObject(fenced); ferr == nil {
			return payload, nil
		}
	}
	return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
}

func decodeObject(text string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after payload object")
	}
	return payload, nil
}

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

// Filter is an equality condition on a top-level document field.
type Filter struct {
	Field string
	Value any
}

var filterable = map[string]bool{
	"id":         true,
	FieldUserID:  true,
	FieldRunID:   true,
	FieldAgentID: true,
}

// ParseFilters validates filters and returns them sorted by field.
func ParseFilters(filters map[string]any) ([]Filter, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	out := make([]Filter, 0, len(filters))
	for field, value := range filters {
		if !filterable[field] {
			return nil, fmt.Errorf("%w: field %q is not filterable, use one of id, user_id, run_id, agent_id", ErrInvalidArgument, field)
		}
		if value == nil {
			return nil, fmt.Errorf("%w: filter %q has no value", ErrInvalidArgument, field)
		}
		out = append(out, Filter{Field: field, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out, nil
}

func checkDimension(vector []float32, size int) error {
	if size > 0 && len(vector) != size {
		return fmt.Errorf("%w: vector has %d dimensions, collection expects %d", ErrInvalidArgument, len(vector), size)
	}
	return nil
}
