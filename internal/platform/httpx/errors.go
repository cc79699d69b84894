// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/teranga-app/teranga/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
//
// Validation maps to 400, authorization to 403, invariant violations to 422
// and concurrency conflicts to 409. Anything unrecognized is a 500 with no
// detail leaked to the client.
func RespondError(w http.ResponseWriter, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	var domainErr *shared.DomainError
	if !errors.As(err, &domainErr) {
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	switch domainErr.Kind {
	case shared.KindValidation:
		Problem(w, http.StatusBadRequest, "Validation Failed", domainErr.Message)
	case shared.KindAuthorization:
		Problem(w, http.StatusForbidden, "Forbidden", domainErr.Message)
	case shared.KindInvariant:
		Problem(w, http.StatusUnprocessableEntity, "Invariant Violation", domainErr.Message)
	case shared.KindConflict:
		Problem(w, http.StatusConflict, "Conflict", domainErr.Message)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
