package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"service-agent/internal/domain"
)

// getServiceConfig handles GET /config/{service}: the flat key/value map a
// container reads on startup.
func (h *Handler) getServiceConfig(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.config.Resolve(r.Context(), chi.URLParam(r, "service"))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

// listConfig handles GET /config.
func (h *Handler) listConfig(w http.ResponseWriter, r *http.Request) {
	entries, err := h.config.ListAll(r.Context())
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	out := make([]ConfigEntry, len(entries))
	for i, e := range entries {
		out[i] = configEntryToAPI(e)
	}
	writeJSON(w, http.StatusOK, out)
}

// listCategories handles GET /config/categories.
func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.config.Categories(r.Context())
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	if categories == nil {
		categories = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"categories": categories})
}

// createConfig handles POST /config.
func (h *Handler) createConfig(w http.ResponseWriter, r *http.Request) {
	var body UpsertConfigBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	res, err := h.config.Upsert(r.Context(), domain.UpsertConfigRequest{
		Key:         body.Key,
		Value:       body.Value,
		Scope:       body.Scope,
		IsSecret:    body.IsSecret,
		Category:    body.Category,
		Description: body.Description,
	})
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, ConfigMutationResponse{
		Entry:      configEntryToAPI(*res.Entry),
		AuditError: res.AuditError,
	})
}

// updateConfig handles PUT /config/{key}?scope=.
func (h *Handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	var body PatchConfigBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	res, err := h.config.Patch(r.Context(), chi.URLParam(r, "key"), scopeParam(r), domain.PatchConfigRequest{
		Value:       body.Value,
		Scope:       body.Scope,
		IsSecret:    body.IsSecret,
		Category:    body.Category,
		Description: body.Description,
	})
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, ConfigMutationResponse{
		Entry:      configEntryToAPI(*res.Entry),
		AuditError: res.AuditError,
	})
}

// deleteConfig handles DELETE /config/{key}?scope=.
func (h *Handler) deleteConfig(w http.ResponseWriter, r *http.Request) {
	res, err := h.config.Remove(r.Context(), chi.URLParam(r, "key"), scopeParam(r))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, ConfigDeleteResponse{
		Key:        res.Key,
		Scope:      res.Scope.Members(),
		AuditError: res.AuditError,
	})
}
