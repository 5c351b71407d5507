package corekernel

import "github.com/corekernel/corekernel/internal/constants"

// Re-exported defaults for public API consumers.
const (
	DefaultASIDSlots                   = constants.DefaultASIDSlots
	DefaultIpcQueueChunkSize            = constants.DefaultIpcQueueChunkSize
	DefaultIpcQueueCQChunks             = constants.DefaultIpcQueueCQChunks
	DefaultIpcQueueSQChunks             = constants.DefaultIpcQueueSQChunks
	DefaultStreamLaneBacklog            = constants.DefaultStreamLaneBacklog
	DefaultShootdownQueueCapacity       = constants.DefaultShootdownQueueCapacity
	DefaultLoadBalanceDecayNumerator    = constants.DefaultLoadBalanceDecayNumerator
	DefaultLoadBalanceDecayDenominator  = constants.DefaultLoadBalanceDecayDenominator
	DefaultLoadBalanceInterval          = constants.DefaultLoadBalanceInterval
	DefaultRCUGracePeriodPoll           = constants.DefaultRCUGracePeriodPoll
)
