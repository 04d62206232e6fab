package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"service-agent/internal/domain"
)

// listServices handles GET /services.
func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.control.ListStatuses(r.Context())
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	out := ServiceList{Services: make([]ServiceStatus, len(statuses))}
	for i, s := range statuses {
		out.Services[i] = serviceStatusToAPI(s)
	}
	writeJSON(w, http.StatusOK, out)
}

// getService handles GET /services/{name}.
func (h *Handler) getService(w http.ResponseWriter, r *http.Request) {
	st, err := h.control.GetStatus(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, serviceStatusToAPI(*st))
}

// getServiceLogs handles GET /services/{name}/logs?lines=&container=.
func (h *Handler) getServiceLogs(w http.ResponseWriter, r *http.Request) {
	lines, err := intParam(r, "lines")
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	if _, set := r.URL.Query()["lines"]; set && lines == 0 {
		h.writeError(w, r, domain.ErrValidation("lines must be between 1 and %d", domain.MaxLogLines), nil)
		return
	}
	logs, err := h.control.Logs(r.Context(), chi.URLParam(r, "name"), domain.LogsRequest{
		Lines:     lines,
		Container: r.URL.Query().Get("container"),
	})
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, LogsResponse{Logs: logs})
}

type lifecycleFunc func(ctx context.Context, name string) (*domain.OperationResult, error)

// lifecycle handles POST /services/{name}/{start|stop|restart|update}. A
// failed operation still carries its result in the error body.
func (h *Handler) lifecycle(op lifecycleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := op(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			if res != nil {
				h.writeError(w, r, err, operationResultToAPI(res))
				return
			}
			h.writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, operationResultToAPI(res))
	}
}
