package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Zereker/vectorstore/internal/action"
	"github.com/Zereker/vectorstore/internal/domain"
	"github.com/Zereker/vectorstore/pkg/log"
	"github.com/Zereker/vectorstore/pkg/vector"
)

// Handler handles HTTP API requests
type Handler struct {
	logger  *slog.Logger
	vectors *action.Vectors
}

// NewHandler creates a new HTTP handler
func NewHandler(vectors *action.Vectors) *Handler {
	return &Handler{
		logger:  log.Logger("http.handler"),
		vectors: vectors,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Collections
	mux.HandleFunc("GET /api/v1/collections", h.ListCollections)
	mux.HandleFunc("POST /api/v1/collections", h.EnsureCollection)
	mux.HandleFunc("GET /api/v1/collection", h.CollectionInfo)
	mux.HandleFunc("DELETE /api/v1/collection", h.DeleteCollection)
	mux.HandleFunc("POST /api/v1/collection/reset", h.Reset)

	// Records
	mux.HandleFunc("POST /api/v1/vectors", h.Insert)
	mux.HandleFunc("GET /api/v1/vectors", h.List)
	mux.HandleFunc("POST /api/v1/vectors/search", h.Search)
	mux.HandleFunc("GET /api/v1/vectors/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/vectors/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/vectors/{id}", h.Delete)

	// Health check
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/v1/health", h.Health)
}

// Insert handles POST /api/v1/vectors[?async=true]
func (h *Handler) Insert(w http.ResponseWriter, r *http.Request) {
	var req domain.InsertRequest
	if !h.decode(w, r, &req) {
		return
	}

	insert := h.vectors.Insert
	if isAsync(r) {
		insert = h.vectors.InsertAsync
	}

	resp, err := insert(r.Context(), &req)
	if err != nil {
		h.fail(w, "insert", err)
		return
	}

	status := http.StatusOK
	if resp.Queued {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, Response{Success: true, Data: resp})
}

// List handles GET /api/v1/vectors?limit=&user_id=&run_id=&agent_id=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	req := domain.ListRequest{}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid limit: "+raw)
			return
		}
		req.Limit = limit
	}
	for _, field := range vector.PromotedFields {
		if value := query.Get(field); value != "" {
			if req.Filters == nil {
				req.Filters = make(map[string]any)
			}
			req.Filters[field] = value
		}
	}

	records, err := h.vectors.List(r.Context(), &req)
	if err != nil {
		h.fail(w, "list", err)
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: records})
}

// Search handles POST /api/v1/vectors/search
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req domain.SearchRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.vectors.Search(r.Context(), &req)
	if err != nil {
		h.fail(w, "search", err)
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: resp})
}

// Get handles GET /api/v1/vectors/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	out, err := h.vectors.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, "get", err)
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

// Update handles PUT /api/v1/vectors/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	id := r.PathValue("id")
	if err := h.vectors.Update(r.Context(), id, &req); err != nil {
		h.fail(w, "update", err)
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{"updated": id}})
}

// Delete handles DELETE /api/v1/vectors/{id}[?async=true]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if isAsync(r) {
		if err := h.vectors.DeleteAsync(r.Context(), id); err != nil {
			h.fail(w, "delete", err)
			return
		}
		h.writeJSON(w, http.StatusAccepted, Response{Success: true, Data: map[string]string{"queued": id}})
		return
	}

	if err := h.vectors.Delete(r.Context(), id); err != nil {
		h.fail(w, "delete", err)
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{"deleted": id}})
}

// ListCollections handles GET /api/v1/collections
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	infos, err := h.vectors.ListCollections(r.Context())
	if err != nil {
		h.fail(w, "list collections", err)
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: infos})
}

// EnsureCollection handles POST /api/v1/collections
func (h *Handler) EnsureCollection(w http.ResponseWriter, r *http.Request) {
	var req domain.EnsureCollectionRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.vectors.EnsureCollection(r.Context(), &req); err != nil {
		h.fail(w, "ensure collection", err)
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{"collection": req.Name}})
}

// CollectionInfo handles GET /api/v1/collection
func (h *Handler) CollectionInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.vectors.CollectionInfo(r.Context())
	if err != nil {
		h.fail(w, "collection info", err)
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: info})
}

// DeleteCollection handles DELETE /api/v1/collection
func (h *Handler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := h.vectors.DeleteCollection(r.Context()); err != nil {
		h.fail(w, "delete collection", err)
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true})
}

// Reset handles POST /api/v1/collection/reset
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.vectors.Reset(r.Context()); err != nil {
		h.fail(w, "reset collection", err)
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]string{
			"status": "healthy",
		},
	})
}

func isAsync(r *http.Request) bool {
	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	return async
}

// decode reads the JSON body into v, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// fail maps err onto a status code and writes it.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", "error", err)
	} else {
		h.logger.Debug(op+" rejected", "status", status, "error", err)
	}
	h.writeError(w, status, err.Error())
}

func statusOf(err error) int {
	var cfgErr *vector.ConfigError
	switch {
	case errors.Is(err, vector.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vector.ErrInvalidArgument), errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case vector.IsPreconditionFailed(err):
		return http.StatusPreconditionFailed
	case vector.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, Response{
		Success: false,
		Error:   message,
	})
}
