package handoff

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Handler lets operators review recent escalations.
type Handler struct {
	dispatcher *Dispatcher
	logger     *logging.Logger
}

// NewHandler creates the handoff history handler.
func NewHandler(dispatcher *Dispatcher, logger *logging.Logger) *Handler {
	if dispatcher == nil {
		panic("handoff: dispatcher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{dispatcher: dispatcher, logger: logger}
}

// History lists the newest handoffs for a tenant.
// GET /admin/handoffs/{tenantID}?limit=50
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := h.dispatcher.History(r.Context(), tenantID, limit)
	if err != nil {
		h.logger.Error("failed to list handoffs", "tenant_id", tenantID, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list handoffs"})
		return
	}
	if events == nil {
		events = []Event{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"handoffs":  events,
		"count":     len(events),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode handoff response", "error", err)
	}
}
