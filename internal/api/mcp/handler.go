package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Zereker/vectorstore/internal/action"
	"github.com/Zereker/vectorstore/internal/domain"
	"github.com/Zereker/vectorstore/pkg/vector"
)

// defaultListLimit bounds vector_list when no limit is given.
const defaultListLimit = 100

// Handler handles MCP tool calls
type Handler struct {
	vectors *action.Vectors
}

// NewHandler creates a new MCP handler
func NewHandler(vectors *action.Vectors) *Handler {
	return &Handler{
		vectors: vectors,
	}
}

// ToolCallRequest represents an MCP tool call request
type ToolCallRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallResponse represents an MCP tool call response
type ToolCallResponse struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock represents a content block in the response
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type idArguments struct {
	ID string `json:"id"`
}

// HandleToolCall handles an MCP tool call
func (h *Handler) HandleToolCall(ctx context.Context, req ToolCallRequest) ToolCallResponse {
	switch req.Name {
	case "vector_search":
		return h.handleSearch(ctx, req.Arguments)
	case "vector_get":
		return h.handleGet(ctx, req.Arguments)
	case "vector_list":
		return h.handleList(ctx, req.Arguments)
	case "vector_insert":
		return h.handleInsert(ctx, req.Arguments)
	case "vector_delete":
		return h.handleDelete(ctx, req.Arguments)
	default:
		return errorResponse(fmt.Sprintf("unknown tool: %s", req.Name))
	}
}

// decodeArguments decodes loosely typed tool arguments into out.
func decodeArguments(args json.RawMessage, out any) error {
	raw := map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &raw); err != nil {
			return err
		}
	}
	return action.Decode(raw, out)
}

func (h *Handler) handleSearch(ctx context.Context, args json.RawMessage) ToolCallResponse {
	var req domain.SearchRequest
	if err := decodeArguments(args, &req); err != nil {
		return errorResponse(fmt.Sprintf("invalid arguments: %v", err))
	}

	resp, err := h.vectors.Search(ctx, &req)
	if err != nil {
		return errorResponse(fmt.Sprintf("search failed: %v", err))
	}

	if len(resp.Results) == 0 {
		return successResponse("No matching records.")
	}
	return successResponse(formatRecords(resp.Results))
}

func (h *Handler) handleGet(ctx context.Context, args json.RawMessage) ToolCallResponse {
	var req idArguments
	if err := decodeArguments(args, &req); err != nil {
		return errorResponse(fmt.Sprintf("invalid arguments: %v", err))
	}

	out, err := h.vectors.Get(ctx, req.ID)
	if err != nil {
		return errorResponse(fmt.Sprintf("get failed: %v", err))
	}

	return successResponse(formatRecords([]vector.OutputData{out}))
}

func (h *Handler) handleList(ctx context.Context, args json.RawMessage) ToolCallResponse {
	var req domain.ListRequest
	if err := decodeArguments(args, &req); err != nil {
		return errorResponse(fmt.Sprintf("invalid arguments: %v", err))
	}
	if req.Limit <= 0 {
		req.Limit = defaultListLimit
	}

	records, err := h.vectors.List(ctx, &req)
	if err != nil {
		return errorResponse(fmt.Sprintf("list failed: %v", err))
	}

	if len(records) == 0 {
		return successResponse("No records.")
	}
	return successResponse(formatRecords(records))
}

func (h *Handler) handleInsert(ctx context.Context, args json.RawMessage) ToolCallResponse {
	var req domain.InsertRequest
	if err := decodeArguments(args, &req); err != nil {
		return errorResponse(fmt.Sprintf("invalid arguments: %v", err))
	}

	resp, err := h.vectors.Insert(ctx, &req)
	if err != nil {
		return errorResponse(fmt.Sprintf("insert failed: %v", err))
	}

	lines := []string{fmt.Sprintf("Inserted %d of %d records:", resp.Inserted, len(resp.Results))}
	for _, r := range resp.Results {
		if r.Error != "" {
			lines = append(lines, fmt.Sprintf("- %s: failed: %s", r.ID, r.Error))
		} else {
			lines = append(lines, fmt.Sprintf("- %s", r.ID))
		}
	}

	result := successResponse(strings.Join(lines, "\n"))
	result.IsError = resp.Inserted == 0
	return result
}

func (h *Handler) handleDelete(ctx context.Context, args json.RawMessage) ToolCallResponse {
	var req idArguments
	if err := decodeArguments(args, &req); err != nil {
		return errorResponse(fmt.Sprintf("invalid arguments: %v", err))
	}

	if err := h.vectors.Delete(ctx, req.ID); err != nil {
		return errorResponse(fmt.Sprintf("delete failed: %v", err))
	}

	return successResponse(fmt.Sprintf("Deleted record: %s", req.ID))
}

// formatRecords renders one line per record: id, score when ranked, and the payload data.
func formatRecords(records []vector.OutputData) string {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		var b strings.Builder
		b.WriteString("- ")
		b.WriteString(r.ID)
		if r.Score != nil {
			fmt.Fprintf(&b, " (score %.4f)", *r.Score)
		}
		b.WriteString(": ")
		b.WriteString(truncate(describePayload(r), 200))
		lines = append(lines, b.String())
	}
	return strings.Join(lines, "\n")
}

func describePayload(r vector.OutputData) string {
	if r.Payload == nil {
		return r.RawPayload
	}
	if data, ok := r.Payload["data"].(string); ok {
		return data
	}
	encoded, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Sprint(r.Payload)
	}
	return string(encoded)
}

// Helper functions

func successResponse(text string) ToolCallResponse {
	return ToolCallResponse{
		Content: []ContentBlock{
			{Type: "text", Text: text},
		},
	}
}

func errorResponse(text string) ToolCallResponse {
	return ToolCallResponse{
		Content: []ContentBlock{
			{Type: "text", Text: text},
		},
		IsError: true,
	}
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
