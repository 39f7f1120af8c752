// Package fault defines the error taxonomy for the position cache.
//
// Every error surfaced by the cache core belongs to one of four classes:
// validation (bad caller input), authorization (caller not permitted),
// consistency (writer and ledger disagree; never coerced, always a hard
// failure), and availability (the ledger could not be read). Callers branch
// on the class and code via errors.As / the Is helpers below.
package fault

import (
	"errors"
	"fmt"
)

// Class partitions errors by how callers must react.
type Class int32

const (
	ClassUnknown Class = iota
	ClassValidation
	ClassAuthorization
	ClassConsistency
	ClassAvailability
)

// Code identifies the specific failure within a class.
type Code int32

const (
	CodeUnknown Code = iota

	// Validation
	CodeInvalidInput
	CodeEmptyArray
	CodeArrayLengthMismatch
	CodeBatchTooLarge

	// Authorization
	CodeUnauthorized
	CodeOnlyUserOrAdmin
	CodeOnlyAdmin
	CodeMissingRole

	// Consistency
	CodeLedgerMismatch
	CodeStaleVersion
	CodeOutOfOrderSeq
	CodeInvalidDelta

	// Availability
	CodeLedgerUnavailable
)

// Error carries the class/code pair plus a human-readable detail and an
// optional wrapped cause (the underlying ledger/registry error).
type Error struct {
	Class  Class
	Code   Code
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Class, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Class, e.Code, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same class and code, so sentinel-style
// comparisons like errors.Is(err, fault.StaleVersion()) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class Class, code Code, format string, args ...interface{}) *Error {
	return &Error{Class: class, Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Validation errors

func InvalidInput(format string, args ...interface{}) *Error {
	return newError(ClassValidation, CodeInvalidInput, format, args...)
}

func EmptyArray() *Error {
	return newError(ClassValidation, CodeEmptyArray, "empty input array")
}

func ArrayLengthMismatch(want, got int) *Error {
	return newError(ClassValidation, CodeArrayLengthMismatch, "parallel arrays differ: %d vs %d", want, got)
}

func BatchTooLarge(size, max int) *Error {
	return newError(ClassValidation, CodeBatchTooLarge, "batch size %d exceeds limit %d", size, max)
}

// Authorization errors

func Unauthorized(identity string) *Error {
	return newError(ClassAuthorization, CodeUnauthorized, "identity %s is not an allow-listed writer", identity)
}

func OnlyUserOrAdmin(identity string) *Error {
	return newError(ClassAuthorization, CodeOnlyUserOrAdmin, "identity %s is neither the account owner nor an administrator", identity)
}

func OnlyAdmin(identity string) *Error {
	return newError(ClassAuthorization, CodeOnlyAdmin, "identity %s is not an administrator", identity)
}

func MissingRole(role, identity string) *Error {
	return newError(ClassAuthorization, CodeMissingRole, "identity %s does not hold role %s", identity, role)
}

// Consistency errors

func LedgerMismatch(detail string, args ...interface{}) *Error {
	return newError(ClassConsistency, CodeLedgerMismatch, detail, args...)
}

func StaleVersion(requested, current uint64) *Error {
	return newError(ClassConsistency, CodeStaleVersion, "requested version %d <= current %d", requested, current)
}

func OutOfOrderSeq(seq, lastSeq uint64) *Error {
	return newError(ClassConsistency, CodeOutOfOrderSeq, "seq %d not greater than last accepted %d", seq, lastSeq)
}

func InvalidDelta(detail string, args ...interface{}) *Error {
	return newError(ClassConsistency, CodeInvalidDelta, detail, args...)
}

// Availability errors

// LedgerUnavailable wraps a failed ledger read. The write that observed it
// is aborted and recorded via a CacheUpdateFailed notification; recovery is
// the administrative retry operation.
func LedgerUnavailable(cause error) *Error {
	return &Error{
		Class:  ClassAvailability,
		Code:   CodeLedgerUnavailable,
		Detail: "ledger read failed",
		cause:  cause,
	}
}

// IsClass reports whether err is a fault error of the given class.
func IsClass(err error, class Class) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == class
}

// CodeOf extracts the code from err, or CodeUnknown for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassAuthorization:
		return "authorization"
	case ClassConsistency:
		return "consistency"
	case ClassAvailability:
		return "availability"
	default:
		return "unknown"
	}
}

func (c Code) String() string {
	switch c {
	case CodeInvalidInput:
		return "InvalidInput"
	case CodeEmptyArray:
		return "EmptyArray"
	case CodeArrayLengthMismatch:
		return "ArrayLengthMismatch"
	case CodeBatchTooLarge:
		return "BatchTooLarge"
	case CodeUnauthorized:
		return "Unauthorized"
	case CodeOnlyUserOrAdmin:
		return "OnlyUserOrAdmin"
	case CodeOnlyAdmin:
		return "OnlyAdmin"
	case CodeMissingRole:
		return "MissingRole"
	case CodeLedgerMismatch:
		return "LedgerMismatch"
	case CodeStaleVersion:
		return "StaleVersion"
	case CodeOutOfOrderSeq:
		return "OutOfOrderSeq"
	case CodeInvalidDelta:
		return "InvalidDelta"
	case CodeLedgerUnavailable:
		return "LedgerUnavailable"
	default:
		return "Unknown"
	}
}
