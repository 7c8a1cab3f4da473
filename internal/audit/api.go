package audit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
)

// Handler exposes the trail over HTTP. Callers mount it behind role checks.
type Handler struct {
	trail *Trail
}

// NewHandler creates a new audit handler
func NewHandler(trail *Trail) *Handler {
	return &Handler{trail: trail}
}

// Routes registers the audit routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListEntries)
	r.Get("/verify", h.VerifyChain)
	return r
}

// ListEntries lists entries filtered by session_id, actor_id and action
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		SessionID: types.ID(q.Get("session_id")),
		ActorID:   types.ID(q.Get("actor_id")),
		Action:    q.Get("action"),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"error":   "limit must be between 1 and 1000",
				"code":    "BAD_REQUEST",
			})
			return
		}
		filter.Limit = n
	}

	entries := h.trail.List(filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    entries,
		"total":   h.trail.Len(),
	})
}

// VerifyChain checks the integrity of the whole trail
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    h.trail.Verify(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
