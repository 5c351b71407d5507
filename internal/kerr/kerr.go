package kerr

import (
	"errors"
	"fmt"
	"syscall"
)

// Error is a structured kernel error carrying the operation, the subsystem
// it happened in, and the result Kind used for caller-facing branching.
type Error struct {
	Op      string // Operation that failed (e.g., "shootdown", "lane_submit")
	Subject string // Handle/subsystem identifier (e.g. an ASID, a HandleId), empty if not applicable
	Code    Kind   // High-level result category
	Errno   syscall.Errno
	Msg     string
	Inner   error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Subject != "" {
		parts = append(parts, fmt.Sprintf("subject=%s", e.Subject))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("corekernel: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("corekernel: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// Kind enumerates the result categories of spec §7. Success is never
// materialized as an *Error; it is the absence of one. Fault indicates a
// programmer-visible contract violation and is never returned — callers
// that hit it panic rather than branch on it.
type Kind string

const (
	KindCancelled            Kind = "cancelled"
	KindTransmissionMismatch Kind = "transmission_mismatch"
	KindBufferTooSmall       Kind = "buffer_too_small"
	KindEndOfLane            Kind = "end_of_lane"
	KindLaneShutdown         Kind = "lane_shutdown"
	KindIllegalArgument      Kind = "illegal_argument"
	KindOutOfMemory          Kind = "out_of_memory"
	KindProtocolViolation    Kind = "protocol_violation"
	KindFault                Kind = "fault"
)

// NewError creates a structured error for an operation.
func NewError(op string, code Kind, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewSubjectError attaches a subject identifier (ASID, HandleId, queue id...).
func NewSubjectError(op, subject string, code Kind, msg string) *Error {
	return &Error{Op: op, Subject: subject, Code: code, Msg: msg}
}

// NewErrnoError wraps a syscall errno (mmap, futex, dup failures) as a
// structured error, mapping it onto the Kind taxonomy.
func NewErrnoError(op string, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: mapErrnoToKind(errno), Errno: errno, Msg: errno.Error()}
}

// WrapError attaches operation context to an arbitrary error, preserving a
// structured inner error's Code/Errno/Subject rather than flattening it.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ke, ok := inner.(*Error); ok {
		return &Error{Op: op, Subject: ke.Subject, Code: ke.Code, Errno: ke.Errno, Msg: ke.Msg, Inner: ke.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Code: mapErrnoToKind(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Code: KindProtocolViolation, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToKind(errno syscall.Errno) Kind {
	switch errno {
	case syscall.EINVAL, syscall.E2BIG:
		return KindIllegalArgument
	case syscall.ENOMEM, syscall.ENOSPC:
		return KindOutOfMemory
	case syscall.ETIMEDOUT, syscall.ECANCELED, syscall.EINTR:
		return KindCancelled
	default:
		return KindProtocolViolation
	}
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, code Kind) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code == code
	}
	return false
}

// IsErrno reports whether err carries the given errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Errno == errno
	}
	return false
}
