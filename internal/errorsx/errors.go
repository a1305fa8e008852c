// Package errorsx implements the SCIM error taxonomy and provider-error
// translation described in spec §7.
package errorsx

import (
	"errors"
	"fmt"
)

// Kind is one of the thirteen taxonomy kinds plus the catch-all Unknown.
type Kind string

const (
	KindInvalidSyntax     Kind = "InvalidSyntax"
	KindUniqueness        Kind = "Uniqueness"
	KindMutability        Kind = "Mutability"
	KindInvalidFilter     Kind = "InvalidFilter"
	KindNoTarget          Kind = "NoTarget"
	KindTooMany           Kind = "TooMany"
	KindServerUnavailable Kind = "ServerUnavailable"
	KindResourceNotFound  Kind = "ResourceNotFound"
	KindUnauthorized      Kind = "Unauthorized"
	KindForbidden         Kind = "Forbidden"
	KindRateLimitExceeded Kind = "RateLimitExceeded"
	KindTimeout           Kind = "Timeout"
	KindInternalError     Kind = "InternalError"
	KindUnknown           Kind = "Unknown"

	// KindCrossTenantAccess and KindTenantResolution are gateway-specific
	// kinds surfaced by tenantctx (spec §4.3); they translate to Forbidden
	// and Unauthorized respectively at the HTTP boundary.
	KindCrossTenantAccess Kind = "CrossTenantAccess"
	KindTenantResolution  Kind = "TenantResolution"

	// KindAdapterNotFound and KindAdapterDisabled are registry-specific
	// kinds (spec §4.1); they translate to ResourceNotFound and Forbidden.
	KindAdapterNotFound Kind = "AdapterNotFound"
	KindAdapterDisabled Kind = "AdapterDisabled"
)

// HTTPStatus returns the status code the HTTP surface maps this kind to
// (spec §6 status code table).
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidSyntax, KindInvalidFilter, KindMutability, KindNoTarget, KindTooMany:
		return 400
	case KindUnauthorized, KindTenantResolution:
		return 401
	case KindForbidden, KindCrossTenantAccess, KindAdapterDisabled:
		return 403
	case KindResourceNotFound, KindAdapterNotFound:
		return 404
	case KindTimeout:
		return 408
	case KindUniqueness:
		return 409
	case KindRateLimitExceeded:
		return 429
	case KindServerUnavailable:
		return 503
	default:
		return 500
	}
}

// SCIMType returns the SCIM error schema's scimType field, or "" when the
// kind omits one (spec §6 error body).
func (k Kind) SCIMType() string {
	switch k {
	case KindInvalidSyntax:
		return "invalidSyntax"
	case KindUniqueness:
		return "uniqueness"
	case KindMutability:
		return "mutability"
	case KindInvalidFilter:
		return "invalidFilter"
	case KindNoTarget:
		return "noTarget"
	case KindTooMany:
		return "tooMany"
	default:
		return ""
	}
}

// AdapterError is the typed error every adapter operation (other than the
// get* "absent is not an error" contract) fails with (spec §4.1).
type AdapterError struct {
	ProviderName      string
	HTTPStatus        int
	ProviderErrorCode string
	ScimErrorKind     Kind
	IsRetryable       bool
	RetryAfterSeconds int
	AdapterID         string
	Operation         string
	ResourceID        string
	ResourceType      string

	cause error
}

func (e *AdapterError) Error() string {
	if e.ResourceID != "" {
		return fmt.Sprintf("%s: %s %s %s/%s: %s", e.AdapterID, e.Operation, e.ScimErrorKind, e.ResourceType, e.ResourceID, e.causeMessage())
	}
	return fmt.Sprintf("%s: %s %s: %s", e.AdapterID, e.Operation, e.ScimErrorKind, e.causeMessage())
}

func (e *AdapterError) causeMessage() string {
	if e.cause == nil {
		return string(e.ScimErrorKind)
	}
	return e.cause.Error()
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *AdapterError) Unwrap() error { return e.cause }

// New builds an AdapterError for a known SCIM error kind, independent of any
// transport response (e.g. a Uniqueness violation raised by in-process
// validation).
func New(adapterID, providerName, operation string, kind Kind, cause error) *AdapterError {
	return &AdapterError{
		AdapterID:     adapterID,
		ProviderName:  providerName,
		Operation:     operation,
		ScimErrorKind: kind,
		IsRetryable:   isRetryableKind(kind),
		cause:         cause,
	}
}

// Classify translates a transport failure into an AdapterError following
// spec §7: classify first by HTTP status (missing status => InternalError),
// unwrap nested errors to the root cause before classification, retain the
// provider error code without letting it alter classification.
func Classify(adapterID, providerName, operation string, httpStatus int, providerErrorCode string, retryAfterSeconds int, cause error) *AdapterError {
	root := rootCause(cause)

	kind := kindForStatus(httpStatus)
	retryable := isRetryable(httpStatus, cause)

	return &AdapterError{
		ProviderName:      providerName,
		HTTPStatus:        httpStatus,
		ProviderErrorCode: providerErrorCode,
		ScimErrorKind:     kind,
		IsRetryable:       retryable,
		RetryAfterSeconds: retryAfterSeconds,
		AdapterID:         adapterID,
		Operation:         operation,
		cause:             root,
	}
}

// rootCause unwraps nested/aggregate errors to the deepest cause.
func rootCause(err error) error {
	if err == nil {
		return nil
	}
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
}

func kindForStatus(status int) Kind {
	switch status {
	case 0:
		return KindInternalError
	case 400:
		return KindInvalidSyntax
	case 401:
		return KindUnauthorized
	case 403:
		return KindForbidden
	case 404:
		return KindResourceNotFound
	case 408:
		return KindTimeout
	case 409:
		return KindUniqueness
	case 429:
		return KindRateLimitExceeded
	case 503:
		return KindServerUnavailable
	default:
		if status >= 500 {
			return KindInternalError
		}
		return KindUnknown
	}
}

// isRetryable implements isRetryable = status ∈ {408, 429, 503} ∨ class(network).
func isRetryable(status int, cause error) bool {
	switch status {
	case 408, 429, 503:
		return true
	}
	return isNetworkError(cause)
}

func isRetryableKind(kind Kind) bool {
	switch kind {
	case KindTimeout, KindRateLimitExceeded, KindServerUnavailable:
		return true
	default:
		return false
	}
}

// NetworkError marks an error as transient/retryable transport failure
// (DNS, socket, connection reset) when no HTTP status is available.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

func isNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// CriticalKind reports whether kind requires immediate alerting regardless
// of retry budget (spec §7 "Alerting").
func CriticalKind(kind Kind) bool {
	switch kind {
	case KindUnauthorized, KindForbidden, KindTooMany, KindAdapterDisabled:
		return true
	default:
		return false
	}
}
