// Package errs provides the unified error type used across all of schemactx.
//
// Every subsystem (catalog, cache, metadata fetchers, intent resolution, …)
// wraps its native errors into *errs.Error before returning them to callers.
// Callers use the Is* predicates to handle errors without importing
// driver-specific packages.
//
// Usage:
//
//	// In a fetcher — wrap native errors:
//	return errs.Wrap(errs.ErrKindDetailFetchFailed, "fetch detail for MN_MCD_CLAIM", pgErr)
//
//	// In the builder — check error kind:
//	if errs.IsTimeout(err) {
//	    warnings = append(warnings, timeoutWarning(table))
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
// All backends (Postgres, MySQL, MinIO, the planner, …) map their native
// errors to one of these kinds, giving callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown            ErrKind = iota
	ErrKindCatalogUnavailable         // bulk metadata query failed; fatal at bootstrap, retryable at refresh
	ErrKindDetailFetchFailed          // per-table metadata fetch failed; surfaced as a context warning
	ErrKindIntentFailed               // planner call failed or returned nothing usable
	ErrKindUnknownTable               // a name that does not exist in the catalog
	ErrKindCacheCorruption            // a durable cache record failed to parse
	ErrKindTimeout                    // context deadline / cancellation
	ErrKindConnectionFailed           // cannot reach a backend
	ErrKindInvalidInput               // bad arguments from the caller
	ErrKindNotFound                   // no object, no record, no bucket
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindCatalogUnavailable:
		return "catalog_unavailable"
	case ErrKindDetailFetchFailed:
		return "detail_fetch_failed"
	case ErrKindIntentFailed:
		return "intent_resolution_failed"
	case ErrKindUnknownTable:
		return "unknown_table"
	case ErrKindCacheCorruption:
		return "cache_corruption"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all schemactx subsystems.
// Subsystems produce it; callers inspect it via the Is* predicates below.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original backend-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an *Error with a formatted message and no cause.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsCatalogUnavailable reports whether err means the bulk metadata source
// could not be reached or queried.
func IsCatalogUnavailable(err error) bool {
	return kindOf(err) == ErrKindCatalogUnavailable
}

// IsDetailFetchFailed reports whether err is a per-table metadata failure.
func IsDetailFetchFailed(err error) bool {
	return kindOf(err) == ErrKindDetailFetchFailed
}

// IsIntentFailed reports whether err came from a failed planner interaction.
func IsIntentFailed(err error) bool {
	return kindOf(err) == ErrKindIntentFailed
}

// IsUnknownTable reports whether err refers to a name absent from the catalog.
func IsUnknownTable(err error) bool {
	return kindOf(err) == ErrKindUnknownTable
}

// IsCacheCorruption reports whether err was caused by an unreadable durable
// cache record. Callers treat this as a miss and rebuild from source.
func IsCacheCorruption(err error) bool {
	return kindOf(err) == ErrKindCacheCorruption
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return kindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return kindOf(err) == ErrKindConnectionFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return kindOf(err) == ErrKindInvalidInput
}

// IsNotFound reports whether err represents a missing object or record.
func IsNotFound(err error) bool {
	return kindOf(err) == ErrKindNotFound
}

// kindOf extracts the ErrKind from any error in the chain.
func kindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
