package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is makes errors.Is match on the error code so sentinel errors below can be
// compared against errors constructed with a specific message.
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if errors.As(target, &de) {
		return e.Code == de.Code
	}
	return false
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Error codes used across the engine. Handlers map these to HTTP statuses.
const (
	CodeNotFound              = "NOT_FOUND"
	CodeInvalidInput          = "INVALID_INPUT"
	CodeInvalidState          = "INVALID_STATE"
	CodeInsufficientStock     = "INSUFFICIENT_STOCK"
	CodeBatchMismatch         = "BATCH_MISMATCH"
	CodeExceedsSoldQuantity   = "EXCEEDS_SOLD_QUANTITY"
	CodePrescriptionRequired  = "PRESCRIPTION_REQUIRED"
	CodeNegativeCreditBalance = "NEGATIVE_CREDIT_BALANCE"
	CodeVersionConflict       = "VERSION_CONFLICT"
)

// Common domain errors
var (
	ErrNotFound              = NewDomainError(CodeNotFound, "Resource not found")
	ErrInvalidInput          = NewDomainError(CodeInvalidInput, "Invalid input provided")
	ErrInvalidState          = NewDomainError(CodeInvalidState, "Operation not allowed in current state")
	ErrInsufficientStock     = NewDomainError(CodeInsufficientStock, "Insufficient stock available")
	ErrBatchMismatch         = NewDomainError(CodeBatchMismatch, "Batch does not match the original sale line")
	ErrExceedsSoldQuantity   = NewDomainError(CodeExceedsSoldQuantity, "Return quantity exceeds remaining returnable quantity")
	ErrPrescriptionRequired  = NewDomainError(CodePrescriptionRequired, "A valid prescription is required for controlled substances")
	ErrNegativeCreditBalance = NewDomainError(CodeNegativeCreditBalance, "Credit reversal would make the patient balance negative")
	ErrVersionConflict       = NewDomainError(CodeVersionConflict, "The record was modified by another user, reload and retry")
)

// NewInsufficientStockError carries the available total for diagnostics so
// front-line staff see an actionable message, not a generic failure.
func NewInsufficientStockError(requested, available decimal.Decimal) *DomainError {
	return NewDomainError(CodeInsufficientStock,
		fmt.Sprintf("Insufficient stock: requested %s, available %s", requested.String(), available.String()))
}

// NewExceedsSoldQuantityError names the offending quantities.
func NewExceedsSoldQuantityError(requested, returnable decimal.Decimal) *DomainError {
	return NewDomainError(CodeExceedsSoldQuantity,
		fmt.Sprintf("Cannot return %s, maximum returnable is %s", requested.String(), returnable.String()))
}
