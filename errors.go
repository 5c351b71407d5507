package corekernel

import (
	"syscall"

	"github.com/corekernel/corekernel/internal/kerr"
)

// Error is a structured kernel error carrying the operation, the subsystem
// it happened in, and the result Kind used for caller-facing branching.
// The type lives in internal/kerr so every internal package (stream,
// pagespace, ipcqueue, timer) can construct and branch on it without
// importing this root package.
type Error = kerr.Error

// Kind enumerates the result categories of spec §7. Success is never
// materialized as an *Error; it is the absence of one. Fault indicates a
// programmer-visible contract violation and is never returned — callers
// that hit it panic rather than branch on it.
type Kind = kerr.Kind

const (
	KindCancelled            = kerr.KindCancelled
	KindTransmissionMismatch = kerr.KindTransmissionMismatch
	KindBufferTooSmall       = kerr.KindBufferTooSmall
	KindEndOfLane            = kerr.KindEndOfLane
	KindLaneShutdown         = kerr.KindLaneShutdown
	KindIllegalArgument      = kerr.KindIllegalArgument
	KindOutOfMemory          = kerr.KindOutOfMemory
	KindProtocolViolation    = kerr.KindProtocolViolation
	KindFault                = kerr.KindFault
)

// NewError creates a structured error for an operation.
func NewError(op string, code Kind, msg string) *Error { return kerr.NewError(op, code, msg) }

// NewSubjectError attaches a subject identifier (ASID, HandleId, queue id...).
func NewSubjectError(op, subject string, code Kind, msg string) *Error {
	return kerr.NewSubjectError(op, subject, code, msg)
}

// NewErrnoError wraps a syscall errno (mmap, futex, dup failures) as a
// structured error, mapping it onto the Kind taxonomy.
func NewErrnoError(op string, errno syscall.Errno) *Error { return kerr.NewErrnoError(op, errno) }

// WrapError attaches operation context to an arbitrary error, preserving a
// structured inner error's Code/Errno/Subject rather than flattening it.
func WrapError(op string, inner error) *Error { return kerr.WrapError(op, inner) }

// IsKind reports whether err carries the given Kind.
func IsKind(err error, code Kind) bool { return kerr.IsKind(err, code) }

// IsErrno reports whether err carries the given errno.
func IsErrno(err error, errno syscall.Errno) bool { return kerr.IsErrno(err, errno) }
