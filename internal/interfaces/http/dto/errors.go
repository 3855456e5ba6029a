package dto

import (
	"net/http"
	"strings"

	"github.com/pharmos/backend/internal/domain/shared"
)

// Transport-level error codes. Domain codes come from the shared package and
// are passed through unchanged.
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "BAD_REQUEST"
	// ErrCodeValidation is used when request binding fails
	ErrCodeValidation = "VALIDATION_ERROR"
	// ErrCodeUnauthorized is used when identity headers are missing or invalid
	ErrCodeUnauthorized = "UNAUTHORIZED"
	// ErrCodeInternal is used for unexpected server errors
	ErrCodeInternal = "INTERNAL_ERROR"
)

// errorCodeHTTPStatus maps error codes to HTTP status codes.
//
// State conflicts (wrong status, stale version) map to 409 because the
// request was well-formed against a record that has since moved on. Business
// rule rejections map to 422: the request cannot succeed as stated no matter
// when it is retried.
var errorCodeHTTPStatus = map[string]int{
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeValidation:   http.StatusBadRequest,
	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeInternal:     http.StatusInternalServerError,

	shared.CodeNotFound:        http.StatusNotFound,
	shared.CodeInvalidInput:    http.StatusBadRequest,
	shared.CodeInvalidState:    http.StatusConflict,
	shared.CodeVersionConflict: http.StatusConflict,

	shared.CodeInsufficientStock:     http.StatusUnprocessableEntity,
	shared.CodeBatchMismatch:         http.StatusUnprocessableEntity,
	shared.CodeExceedsSoldQuantity:   http.StatusUnprocessableEntity,
	shared.CodePrescriptionRequired:  http.StatusUnprocessableEntity,
	shared.CodeNegativeCreditBalance: http.StatusUnprocessableEntity,
}

// GetHTTPStatus returns the HTTP status code for an error code. Unmapped
// INVALID_* and NO_* codes are caller mistakes and map to 400; anything else
// unknown is treated as an internal error.
func GetHTTPStatus(code string) int {
	if status, ok := errorCodeHTTPStatus[code]; ok {
		return status
	}
	if strings.HasPrefix(code, "INVALID_") || strings.HasPrefix(code, "NO_") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
