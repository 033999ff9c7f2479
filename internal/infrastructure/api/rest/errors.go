package rest

import (
	"errors"
	"net/http"

	"github.com/notifyx/notifyx/internal/domain"
)

// ErrorResponse is the JSON error body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusForError maps the error taxonomy to HTTP status codes.
func statusForError(err error) (int, string) {
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, domain.ErrCodeValidationFailed
	}
	var rateLimited *domain.RateLimitedError
	if errors.As(err, &rateLimited) {
		return http.StatusTooManyRequests, domain.ErrCodeRateLimited
	}
	var resolution *domain.ResolutionError
	if errors.As(err, &resolution) {
		return http.StatusConflict, domain.ErrCodeUnresolvable
	}
	var configuration *domain.ConfigurationError
	if errors.As(err, &configuration) {
		return http.StatusServiceUnavailable, "CONFIGURATION"
	}
	var cancellation *domain.CancellationError
	if errors.As(err, &cancellation) {
		return http.StatusConflict, "CANCELLED"
	}

	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case domain.ErrCodeNotFound:
			return http.StatusNotFound, domainErr.Code
		case domain.ErrCodeAlreadyExists, domain.ErrCodeConflict, domain.ErrCodeInvalidState:
			return http.StatusConflict, domainErr.Code
		case domain.ErrCodeInvalidInput, domain.ErrCodeValidationFailed, domain.ErrCodeCyclicDependency:
			return http.StatusBadRequest, domainErr.Code
		case domain.ErrCodeUnauthorized:
			return http.StatusUnauthorized, domainErr.Code
		case domain.ErrCodeForbidden:
			return http.StatusForbidden, domainErr.Code
		case domain.ErrCodeRateLimited:
			return http.StatusTooManyRequests, domainErr.Code
		case domain.ErrCodeUnresolvable:
			return http.StatusConflict, domainErr.Code
		}
	}

	return http.StatusInternalServerError, domain.ErrCodeInternal
}
