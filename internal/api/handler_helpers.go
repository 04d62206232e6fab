package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"service-agent/internal/domain"
	"service-agent/internal/middleware"
)

// maxBodyBytes bounds request bodies; config values are small.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as an ErrorResponse. result, when non-nil, is the
// partial outcome of a failed operation.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, result interface{}) {
	status := httpStatusFromDomainError(err)
	body := ErrorResponse{
		Kind:    domain.ErrorKind(err),
		Message: err.Error(),
		Result:  result,
	}

	var serviceErr *domain.ServiceError
	if errors.As(err, &serviceErr) {
		body.Detail = serviceErr.Detail
	}

	switch {
	case status == http.StatusInternalServerError:
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err)
		body.Message = "internal error"
	case status == http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="service-agent"`)
	}
	writeJSON(w, status, body)
}

// decodeJSON decodes a bounded JSON body, rejecting unknown fields.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.ErrValidation("invalid request body: %v", err)
	}
	return nil
}

// scopeParam reads ?scope= as a list of members. It accepts repeated
// parameters and comma-separated values; nil means no scope was given.
func scopeParam(r *http.Request) []string {
	raw, ok := r.URL.Query()["scope"]
	if !ok {
		return nil
	}
	var members []string
	for _, v := range raw {
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				members = append(members, m)
			}
		}
	}
	if members == nil {
		members = []string{}
	}
	return members
}

// intParam parses an optional integer query parameter.
func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, domain.ErrValidation("%s must be an integer", name)
	}
	return n, nil
}

// optionalParam returns a pointer to a non-empty query parameter.
func optionalParam(r *http.Request, name string) *string {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil
	}
	return &v
}

// pageFromParams extracts a PageRequest from optional max_results/page_token params.
func pageFromParams(r *http.Request) (domain.PageRequest, error) {
	maxResults, err := intParam(r, "max_results")
	if err != nil {
		return domain.PageRequest{}, err
	}
	if maxResults < 0 {
		return domain.PageRequest{}, domain.ErrValidation("max_results must not be negative")
	}
	return domain.PageRequest{MaxResults: maxResults, PageToken: r.URL.Query().Get("page_token")}, nil
}
