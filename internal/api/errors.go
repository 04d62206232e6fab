package api

import (
	"errors"
	"net/http"

	"service-agent/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var (
		authErr    *domain.AuthError
		configErr  *domain.ConfigError
		serviceErr *domain.ServiceError
		notFound   *domain.NotFoundError
		validation *domain.ValidationError
	)

	switch {
	case errors.As(err, &authErr):
		if authErr.Code == domain.AuthForbidden {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case errors.As(err, &configErr):
		if configErr.Code == domain.ConfigNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case errors.As(err, &serviceErr):
		switch serviceErr.Code {
		case domain.ServiceBusy, domain.ServiceInvalidTransition:
			return http.StatusConflict
		case domain.ServiceTimeout:
			return http.StatusGatewayTimeout
		case domain.ServiceExecutorUnreachable:
			return http.StatusServiceUnavailable
		default:
			return http.StatusBadGateway
		}
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
