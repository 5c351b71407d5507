package corekernel

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredError(t *testing.T) {
	err := NewError("shootdown", KindIllegalArgument, "bad range")

	assert.Equal(t, "shootdown", err.Op)
	assert.Equal(t, KindIllegalArgument, err.Code)
	assert.Equal(t, "corekernel: bad range (op=shootdown)", err.Error())
}

func TestErrnoError(t *testing.T) {
	err := NewErrnoError("queue_create", syscall.ENOMEM)

	assert.Equal(t, syscall.ENOMEM, err.Errno)
	assert.Equal(t, KindOutOfMemory, err.Code)
}

func TestSubjectError(t *testing.T) {
	err := NewSubjectError("lane_submit", "lane-7", KindLaneShutdown, "peer gone")

	assert.Equal(t, "lane-7", err.Subject)
	assert.Equal(t, "corekernel: peer gone (op=lane_submit)", err.Error())
}

func TestWrapError(t *testing.T) {
	err := WrapError("queue_wait", syscall.ETIMEDOUT)
	require.NotNil(t, err)

	assert.Equal(t, KindCancelled, err.Code)
	assert.Equal(t, syscall.ETIMEDOUT, err.Errno)
}

func TestWrapErrorPreservesInner(t *testing.T) {
	inner := NewSubjectError("install", "timer-3", KindIllegalArgument, "negative deadline")
	wrapped := WrapError("progress", inner)

	assert.Equal(t, "progress", wrapped.Op)
	assert.Equal(t, inner.Subject, wrapped.Subject)
	assert.Equal(t, inner.Code, wrapped.Code)
}

func TestWrapErrorNil(t *testing.T) {
	assert.Nil(t, WrapError("noop", nil))
}

func TestIsKind(t *testing.T) {
	err := NewError("progress", KindEndOfLane, "no more work")

	assert.True(t, IsKind(err, KindEndOfLane))
	assert.False(t, IsKind(err, KindFault))
	assert.False(t, IsKind(nil, KindEndOfLane))
}

func TestIsErrno(t *testing.T) {
	err := NewErrnoError("install", syscall.EINVAL)

	assert.True(t, IsErrno(err, syscall.EINVAL))
	assert.False(t, IsErrno(err, syscall.EPERM))
	assert.False(t, IsErrno(nil, syscall.EINVAL))
}

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		errno    syscall.Errno
		expected Kind
	}{
		{syscall.EINVAL, KindIllegalArgument},
		{syscall.E2BIG, KindIllegalArgument},
		{syscall.ENOMEM, KindOutOfMemory},
		{syscall.ENOSPC, KindOutOfMemory},
		{syscall.ETIMEDOUT, KindCancelled},
		{syscall.ECANCELED, KindCancelled},
		{syscall.EIO, KindProtocolViolation},
	}

	for _, tc := range cases {
		err := NewErrnoError("test", tc.errno)
		assert.Equal(t, tc.expected, err.Code, "errno %v", tc.errno)
	}
}
