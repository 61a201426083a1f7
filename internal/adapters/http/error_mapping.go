package httpadapter

import (
	"net/http"

	"github.com/kirillkom/archive-qa/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrSessionNotFound),
		domain.IsKind(err, domain.ErrDocumentNotFound),
		domain.IsKind(err, domain.ErrTemplateNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicErrorMessage hides internal error detail from 5xx responses.
func publicErrorMessage(status int, err error) string {
	if status >= http.StatusInternalServerError {
		if status == http.StatusServiceUnavailable {
			return "service temporarily unavailable"
		}
		return "internal error"
	}
	return err.Error()
}
