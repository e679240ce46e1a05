package httpadapter

import (
	"net/http"

	"github.com/kirillkom/notegen/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNoteNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrInvalidState), domain.IsKind(err, domain.ErrConflict):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrEmptyResult):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrProvider),
		domain.IsKind(err, domain.ErrParse),
		domain.IsKind(err, domain.ErrTruncated):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
