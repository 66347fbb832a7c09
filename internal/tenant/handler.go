package tenant

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

// Handler exposes read-only directory endpoints plus admin reload/update.
type Handler struct {
	directory *Directory
	logger    *logging.Logger
}

// NewHandler creates a tenant directory HTTP handler.
func NewHandler(directory *Directory, logger *logging.Logger) *Handler {
	if directory == nil {
		panic("tenant: directory cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{directory: directory, logger: logger}
}

// Routes returns the public directory routes, mounted under /v1/tenants.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/resolve", h.ResolveByDID)
	r.Get("/{tenantID}", h.Get)
	return r
}

// AdminRoutes returns the admin routes, mounted under /admin/tenants. scope
// wraps the per-tenant routes once {tenantID} is resolved.
func (h *Handler) AdminRoutes(scope ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/reload", h.Reload)
	r.With(scope...).Put("/{tenantID}", h.Put)
	return r
}

type summary struct {
	TenantID    string   `json:"tenant_id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	DID         string   `json:"did"`
	Specialties []string `json:"specialties"`
}

// List returns a summary of every tenant.
// GET /v1/tenants
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	all := h.directory.Snapshot().All()
	list := make([]summary, 0, len(all))
	for _, t := range all {
		list = append(list, summary{
			TenantID:    t.ID,
			Name:        t.Name,
			DisplayName: t.DisplayName,
			DID:         t.DID,
			Specialties: t.Specialties,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"tenants": list,
		"count":   len(list),
	})
}

// ResolveByDID maps a dialed number to its tenant.
// GET /v1/tenants/resolve?did=+15550100
func (h *Handler) ResolveByDID(w http.ResponseWriter, r *http.Request) {
	did := strings.TrimSpace(r.URL.Query().Get("did"))
	if did == "" {
		h.writeError(w, http.StatusBadRequest, "did parameter is required")
		return
	}
	t, err := h.directory.Resolve(did)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// Get returns one tenant by id.
// GET /v1/tenants/{tenantID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.directory.Resolve(chi.URLParam(r, "tenantID"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// Reload re-reads the tenant source.
// POST /admin/tenants/reload
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.directory.Reload(r.Context()); err != nil {
		h.writeError(w, http.StatusBadGateway, "reload failed")
		return
	}
	snap := h.directory.Snapshot()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"tenants":   snap.Len(),
		"loaded_at": snap.LoadedAt(),
	})
}

// Put creates or replaces a tenant when the source is writable, then reloads.
// PUT /admin/tenants/{tenantID}
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	writer, ok := h.directory.Source().(Writer)
	if !ok {
		h.writeError(w, http.StatusMethodNotAllowed, "tenant source is read-only")
		return
	}
	var t Tenant
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	t.ID = chi.URLParam(r, "tenantID")
	if err := writer.Save(r.Context(), t); err != nil {
		h.logger.Error("failed to save tenant", "tenant_id", t.ID, "error", err)
		h.writeError(w, http.StatusBadRequest, "failed to save tenant")
		return
	}
	if err := h.directory.Reload(r.Context()); err != nil {
		h.writeError(w, http.StatusBadGateway, "saved but reload failed")
		return
	}
	saved, err := h.directory.Resolve(t.ID)
	if errors.Is(err, ErrTenantNotFound) {
		h.writeError(w, http.StatusInternalServerError, "tenant not found after reload")
		return
	}
	h.writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode tenant response", "error", err)
	}
}
