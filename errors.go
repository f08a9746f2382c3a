package vkernel

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the taxonomy's five buckets.
// Callers distinguish kinds with errors.Is against the sentinels below, or
// by unwrapping to *Error and inspecting Kind directly.
type Kind int

const (
	// KindConfiguration covers dimension/metric mismatch, invalid namespace
	// names, and malformed graph parameters. Never leaves a side effect.
	KindConfiguration Kind = iota
	// KindValidation covers a single bad call: empty identifier, wrong
	// vector length, non-JSON metadata, a malformed filter path. Batch
	// calls fail whole-batch on the first one found.
	KindValidation
	// KindNotFound covers lookups and deletes of an absent identifier or
	// namespace. Not part of the "fatal" class; callers may treat it as
	// idempotent success.
	KindNotFound
	// KindIO covers filesystem failures, checksum mismatches, and
	// truncated archives.
	KindIO
	// KindConcurrency covers programming-bug lock misuse (e.g. a caller
	// holding a shared lock attempting to acquire an exclusive one).
	KindConcurrency
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindIO:
		return "io"
	case KindConcurrency:
		return "concurrency"
	default:
		return "unknown"
	}
}

// Sentinel errors. Use errors.Is(err, vkernel.ErrDimensionMismatch) etc. to
// test for a specific condition; use errors.As(err, &kernelErr) to recover
// the operation name and Kind.
var (
	ErrDimensionMismatch    = errors.New("vkernel: vector dimension mismatch")
	ErrMetricMismatch       = errors.New("vkernel: distance metric mismatch")
	ErrInvalidNamespaceName = errors.New("vkernel: invalid namespace name")
	ErrInvalidGraphParams   = errors.New("vkernel: invalid graph parameters")

	ErrEmptyIdentifier   = errors.New("vkernel: identifier must not be empty")
	ErrIdentifierTooLong = errors.New("vkernel: identifier exceeds 1024 bytes")
	ErrInvalidVector     = errors.New("vkernel: invalid vector")
	ErrInvalidMetadata   = errors.New("vkernel: metadata is not JSON-compatible")
	ErrInvalidFilterPath = errors.New("vkernel: malformed filter field path")

	ErrNotFound = errors.New("vkernel: identifier not found")

	ErrChecksumMismatch = errors.New("vkernel: checksum mismatch on load")
	ErrCorruptArchive   = errors.New("vkernel: corrupt or truncated backup archive")

	ErrConcurrencyMisuse = errors.New("vkernel: invalid lock acquisition order")
)

// Error wraps an underlying error with the operation that produced it and
// its Kind, so callers can branch on the taxonomy without string matching.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("vkernel: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("vkernel: %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return errors.Is(e.Err, target) }

// wrap returns nil for a nil err, otherwise an *Error carrying op and kind.
func wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}
