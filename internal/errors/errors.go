package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/pegged-token/claimer/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategoryPrecondition represents claim preconditions that are not met
	CategoryPrecondition ErrorCategory = "precondition"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryStore represents record store errors
	CategoryStore ErrorCategory = "store"
	// CategoryLedger represents ledger transfer errors
	CategoryLedger ErrorCategory = "ledger"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// Error codes surfaced to callers
const (
	CodeInvalidAddress      = "INVALID_ADDRESS"
	CodeWalletNotLinked     = "WALLET_NOT_LINKED"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeTransferFailed      = "TRANSFER_FAILED"
	CodeInconsistentState   = "INCONSISTENT_STATE"
	CodeInvalidParameter    = "INVALID_PARAMETER"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeInternalError       = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// User Input Errors (4xx)

// NewInvalidAddressError creates an invalid address error
func NewInvalidAddressError(address string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidAddress,
		Message:    fmt.Sprintf("invalid wallet address: %s", address),
		Cause:      cause,
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// NewWalletNotLinkedError creates the error returned when claiming without a wallet
func NewWalletNotLinkedError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPrecondition,
		StatusCode: http.StatusBadRequest,
		Code:       CodeWalletNotLinked,
		Message:    "no wallet linked, link a wallet before claiming",
	}
}

// NewInsufficientBalanceError creates the error returned when the balance is under the minimum
func NewInsufficientBalanceError(minimum, current int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPrecondition,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInsufficientBalance,
		Message:    fmt.Sprintf("need at least %d available tokens to claim, have %d", minimum, current),
		Details: map[string]interface{}{
			"minimum": minimum,
			"current": current,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeConflict,
		Message:    message,
		Cause:      cause,
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimitExceeded,
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// NewStoreUnavailableError creates a record store error
func NewStoreUnavailableError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryStore,
		StatusCode: http.StatusServiceUnavailable,
		Code:       CodeStoreUnavailable,
		Message:    fmt.Sprintf("record store unavailable during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewTransferFailedError creates a ledger transfer error. Available tokens are untouched.
func NewTransferFailedError(stage string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryLedger,
		StatusCode: http.StatusBadGateway,
		Code:       CodeTransferFailed,
		Message:    fmt.Sprintf("token transfer failed during %s", stage),
		Cause:      cause,
		Details: map[string]interface{}{
			"stage": stage,
		},
	}
}

// NewInconsistentStateError is returned when the transfer landed but the record patch failed
func NewInconsistentStateError(recordID, signature string, amount int64, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInconsistentState,
		Message:    "tokens were transferred but the account record could not be updated; manual reconciliation required",
		Cause:      cause,
		Details: map[string]interface{}{
			"recordId":  recordID,
			"signature": signature,
			"amount":    amount,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	// If already categorized, return as-is
	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	// If it's a ServiceError, convert it
	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	// Default to internal error
	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	category, status := CategorySystem, http.StatusInternalServerError
	switch err.Code {
	case CodeInvalidAddress:
		category, status = CategoryUserInput, http.StatusBadRequest
	case CodeWalletNotLinked, CodeInsufficientBalance:
		category, status = CategoryPrecondition, http.StatusBadRequest
	case CodeInvalidParameter:
		category, status = CategoryValidation, http.StatusBadRequest
	case CodeNotFound:
		category, status = CategoryNotFound, http.StatusNotFound
	case CodeConflict:
		category, status = CategoryConflict, http.StatusConflict
	case CodeStoreUnavailable:
		category, status = CategoryStore, http.StatusServiceUnavailable
	case CodeTransferFailed:
		category, status = CategoryLedger, http.StatusBadGateway
	}
	return &CategorizedError{
		Category:   category,
		StatusCode: status,
		Code:       err.Code,
		Message:    err.Message,
		Details:    err.Details,
	}
}

// HasCode reports whether err carries the given error code
func HasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	return Categorize(err).Code == code
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if a caller may safely retry the failed operation
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryStore, CategoryLedger, CategoryConflict:
		return true
	case CategorySystem:
		// An inconsistent claim must be reconciled by hand, never replayed
		if catErr.Code == CodeInconsistentState {
			return false
		}
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
