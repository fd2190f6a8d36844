// Package httpx provides HTTP response utilities.
package httpx

import (
	"net/http"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

var statusByKind = map[shared.Kind]int{
	shared.KindValidation:             http.StatusUnprocessableEntity,
	shared.KindUnbalanced:             http.StatusUnprocessableEntity,
	shared.KindForeignAccount:         http.StatusUnprocessableEntity,
	shared.KindAllocationMismatch:     http.StatusUnprocessableEntity,
	shared.KindNoRateCard:             http.StatusUnprocessableEntity,
	shared.KindNoPublishedRate:        http.StatusUnprocessableEntity,
	shared.KindPermissionDenied:       http.StatusForbidden,
	shared.KindNotFound:               http.StatusNotFound,
	shared.KindInvalidStateTransition: http.StatusConflict,
	shared.KindPeriodClosed:           http.StatusConflict,
	shared.KindConflict:               http.StatusConflict,
	shared.KindMissingAccountMapping:  http.StatusFailedDependency,
}

// StatusFor maps an error kind to an HTTP status code.
func StatusFor(err error) int {
	if status, ok := statusByKind[shared.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		Problem(w, status, "Internal Error", "")
		return
	}
	kind := shared.KindOf(err)
	JSON(w, status, ProblemDetail{
		Type:   "urn:backoffice:error:" + string(kind),
		Title:  http.StatusText(status),
		Status: status,
		Detail: shared.ReasonOf(err),
		Kind:   string(kind),
	})
}
