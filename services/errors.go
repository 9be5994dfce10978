package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeEntitlement  ErrorType = "entitlement"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeQuota        ErrorType = "quota"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
)

// ReasonCode is the stable, client-facing code attached to a denial.
// The UI branches on these values, so they must never change.
type ReasonCode string

const (
	ReasonMissingToken               ReasonCode = "missing_token"
	ReasonInvalidSignature           ReasonCode = "invalid_signature"
	ReasonSessionExpired             ReasonCode = "session_expired"
	ReasonSessionRevoked             ReasonCode = "session_revoked"
	ReasonBillingProviderUnavailable ReasonCode = "billing_provider_unavailable"
	ReasonInsufficientEntitlement    ReasonCode = "insufficient_entitlement"
	ReasonInsufficientRole           ReasonCode = "insufficient_role"
	ReasonSigningError               ReasonCode = "signing_error"
	ReasonNotFound                   ReasonCode = "not_found"
	ReasonInvalidCredentials         ReasonCode = "invalid_credentials"
	ReasonRateLimitExceeded          ReasonCode = "rate_limit_exceeded"
	ReasonUsageLimitExceeded         ReasonCode = "usage_limit_exceeded"
)

// RequiresLogin reports whether the client should send the user back to the login flow.
func (c ReasonCode) RequiresLogin() bool {
	switch c {
	case ReasonMissingToken, ReasonInvalidSignature, ReasonSessionExpired, ReasonSessionRevoked:
		return true
	}
	return false
}

// Retryable reports whether the same request may succeed later without user action.
func (c ReasonCode) Retryable() bool {
	return c == ReasonBillingProviderUnavailable || c == ReasonRateLimitExceeded
}

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Code    ReasonCode
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is. Errors carrying a reason code match on the code,
// otherwise on the type.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if e.Code != "" && t.Code != "" {
		return e.Code == t.Code
	}
	return e.Type == t.Type
}

// WithDetail returns a copy of the error with the detail added.
// Sentinels are shared, so they are never mutated in place.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &DomainError{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: details,
	}
}

// Wrap returns a copy of the error wrapping cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return &DomainError{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Err:     cause,
		Details: e.Details,
	}
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// NewCodedError creates a domain error carrying a stable reason code
func NewCodedError(errType ErrorType, code ReasonCode, message string) *DomainError {
	return &DomainError{
		Type:    errType,
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Session errors
	ErrMissingToken     = NewCodedError(ErrorTypeUnauthorized, ReasonMissingToken, "missing session token")
	ErrInvalidSignature = NewCodedError(ErrorTypeUnauthorized, ReasonInvalidSignature, "invalid session signature")
	ErrSessionExpired   = NewCodedError(ErrorTypeUnauthorized, ReasonSessionExpired, "session expired")
	ErrSessionRevoked   = NewCodedError(ErrorTypeUnauthorized, ReasonSessionRevoked, "session revoked")
	ErrSigningError     = NewCodedError(ErrorTypeInternal, ReasonSigningError, "session signing secret unavailable")

	// Credential errors
	ErrNotFound           = NewCodedError(ErrorTypeNotFound, ReasonNotFound, "credential not found")
	ErrInvalidCredentials = NewCodedError(ErrorTypeUnauthorized, ReasonInvalidCredentials, "invalid email or password")

	// Entitlement errors
	ErrBillingProviderUnavailable = NewCodedError(ErrorTypeExternal, ReasonBillingProviderUnavailable, "billing provider unavailable")
	ErrInsufficientEntitlement    = NewCodedError(ErrorTypeEntitlement, ReasonInsufficientEntitlement, "subscription does not grant this capability")
	ErrInsufficientRole           = NewCodedError(ErrorTypeForbidden, ReasonInsufficientRole, "insufficient permissions")

	// Rate limit errors
	ErrRateLimitExceeded = NewCodedError(ErrorTypeRateLimit, ReasonRateLimitExceeded, "rate limit exceeded")

	// Usage errors
	ErrUsageLimitExceeded = NewCodedError(ErrorTypeQuota, ReasonUsageLimitExceeded, "monthly usage limit reached for this plan")

	// Not found errors
	ErrUserNotFound         = NewDomainError(ErrorTypeNotFound, "user not found", nil)
	ErrTenantNotFound       = NewDomainError(ErrorTypeNotFound, "tenant not found", nil)
	ErrSubscriptionNotFound = NewDomainError(ErrorTypeNotFound, "subscription not found", nil)

	// Validation errors
	ErrInvalidInput      = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidCapability = NewDomainError(ErrorTypeValidation, "unknown capability", nil)
	ErrInvalidSnapshot   = NewDomainError(ErrorTypeValidation, "invalid subscription snapshot", nil)
	ErrInvalidWebhook    = NewDomainError(ErrorTypeValidation, "invalid webhook payload", nil)

	// Conflict errors
	ErrDuplicateEmail = NewDomainError(ErrorTypeConflict, "email already exists", nil)

	// Internal errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsEntitlementError checks if an error is an entitlement error
func IsEntitlementError(err error) bool {
	return GetErrorType(err) == ErrorTypeEntitlement
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeRateLimit
}

// IsQuotaError checks if an error is a plan usage quota error
func IsQuotaError(err error) bool {
	return GetErrorType(err) == ErrorTypeQuota
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// IsExternalError checks if an error is an external provider error
func IsExternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeExternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetReasonCode returns the reason code of a domain error, or empty string if none
func GetReasonCode(err error) ReasonCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as an external provider error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}
