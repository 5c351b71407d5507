package ipcqueue

import "github.com/corekernel/corekernel/internal/kerr"

var (
	errTooLargeForChunk = kerr.NewError("submit_from_user", kerr.KindBufferTooSmall, "record exceeds chunk_size")
	errNoSQChunk        = kerr.NewError("submit_from_user", kerr.KindOutOfMemory, "no sq chunk supplied")
	errChunkFull        = kerr.NewError("submit_from_user", kerr.KindOutOfMemory, "current sq chunk has no room")
)
