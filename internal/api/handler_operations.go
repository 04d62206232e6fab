package api

import (
	"net/http"

	"service-agent/internal/domain"
)

// listOperations handles GET /operations.
func (h *Handler) listOperations(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromParams(r)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	filter := domain.OperationLogFilter{
		Service:   optionalParam(r, "service"),
		Actor:     optionalParam(r, "actor"),
		Operation: optionalParam(r, "operation"),
		Outcome:   optionalParam(r, "outcome"),
		Page:      page,
	}

	records, total, err := h.audit.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	out := OperationLogList{
		Data:          make([]OperationLogRecord, len(records)),
		Total:         total,
		NextPageToken: domain.NextPageToken(page.Offset(), page.Limit(), total),
	}
	for i, rec := range records {
		out.Data[i] = operationLogToAPI(rec)
	}
	writeJSON(w, http.StatusOK, out)
}
