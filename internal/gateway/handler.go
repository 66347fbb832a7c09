package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

const maxBodyBytes = 64 << 10

// legacyFields maps the camelCase parameter names older agents send.
var legacyFields = map[string]string{
	"tenantId":       "tenant_id",
	"timePreference": "time_preference",
	"slotId":         "slot_id",
	"patientName":    "patient_name",
	"patientEmail":   "patient_email",
}

// Handler serves the action protocol over HTTP.
type Handler struct {
	gateway *Gateway
	tenants func() int
	service string
	logger  *logging.Logger
}

// NewHandler creates the HTTP surface. tenantCount feeds the health check and
// may be nil.
func NewHandler(gw *Gateway, tenantCount func() int, logger *logging.Logger) *Handler {
	if gw == nil {
		panic("gateway: gateway cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if tenantCount == nil {
		tenantCount = func() int { return 0 }
	}
	return &Handler{gateway: gw, tenants: tenantCount, service: "appointment-orchestrator", logger: logger}
}

// Routes returns the action routes, mounted under /v1/actions.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{action}", h.Action)
	return r
}

// RegisterLegacy adds the original service paths to r, which is expected to
// be the /v1 sub-router.
func (h *Handler) RegisterLegacy(r chi.Router) {
	r.Post("/slots/search", h.legacy(ActionSearchSlots))
	r.Post("/appointments/confirm", h.legacy(ActionConfirmAppointment))
	r.Post("/handoff", h.legacy(ActionHandoffToHuman))
}

// Action dispatches one agent call.
// POST /v1/actions/{action}
func (h *Handler) Action(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readBody(w, r)
	if !ok {
		return
	}
	status, body := h.gateway.Invoke(r.Context(), chi.URLParam(r, "action"), payload)
	h.writeJSON(w, status, body)
}

func (h *Handler) legacy(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := h.readBody(w, r)
		if !ok {
			return
		}
		status, body := h.gateway.Invoke(r.Context(), action, renameLegacyFields(payload))
		h.writeJSON(w, status, body)
	}
}

// Health reports liveness and how many tenants are loaded.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   h.service,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"tenants":   h.tenants(),
	})
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(actionError(CodeInvalidInput, "request body too large", err)))
		return nil, false
	}
	return payload, true
}

// CanonicalField returns the snake_case protocol name for a parameter,
// accepting the camelCase spelling too.
func CanonicalField(name string) string {
	if snake, ok := legacyFields[name]; ok {
		return snake
	}
	return name
}

// renameLegacyFields rewrites camelCase keys to the snake_case protocol.
// Payloads that are not JSON objects pass through for the decoder to reject.
func renameLegacyFields(payload []byte) []byte {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return payload
	}
	renamed := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		renamed[CanonicalField(k)] = v
	}
	out, err := json.Marshal(renamed)
	if err != nil {
		return payload
	}
	return out
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode gateway response", "error", err)
	}
}
