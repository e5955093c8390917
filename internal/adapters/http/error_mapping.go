package httpadapter

import (
	"net/http"

	"github.com/kirillkom/filings-rag/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrChunkNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrEmbedding),
		domain.IsKind(err, domain.ErrStoreDown),
		domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
