package abi

import "encoding/binary"

// PutQueueHeader writes h into buf[0:HeaderSize] in the wire format.
func PutQueueHeader(buf []byte, h *QueueHeader) {
	binary.LittleEndian.PutUint32(buf[0:4], h.KernelNotify)
	binary.LittleEndian.PutUint32(buf[4:8], h.UserNotify)
	binary.LittleEndian.PutUint32(buf[8:12], h.CQFirst)
	binary.LittleEndian.PutUint32(buf[12:16], h.SQFirst)
}

// GetQueueHeader reads a QueueHeader out of buf[0:HeaderSize].
func GetQueueHeader(buf []byte) QueueHeader {
	return QueueHeader{
		KernelNotify: binary.LittleEndian.Uint32(buf[0:4]),
		UserNotify:   binary.LittleEndian.Uint32(buf[4:8]),
		CQFirst:      binary.LittleEndian.Uint32(buf[8:12]),
		SQFirst:      binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// PutChunkControl writes the 8-byte chunk control word pair.
func PutChunkControl(buf []byte, c ChunkControl) {
	binary.LittleEndian.PutUint32(buf[0:4], c.Next)
	binary.LittleEndian.PutUint32(buf[4:8], c.ProgressFutex)
}

// GetChunkControl reads the 8-byte chunk control word pair.
func GetChunkControl(buf []byte) ChunkControl {
	return ChunkControl{
		Next:          binary.LittleEndian.Uint32(buf[0:4]),
		ProgressFutex: binary.LittleEndian.Uint32(buf[4:8]),
	}
}

// LoadProgressFutex reads just the progress_futex word at its fixed offset
// within a chunk (offset 4, after the next word).
func LoadProgressFutex(chunk []byte) uint32 {
	return binary.LittleEndian.Uint32(chunk[4:8])
}

// StoreProgressFutex writes the progress_futex word at its fixed offset.
func StoreProgressFutex(chunk []byte, v uint32) {
	binary.LittleEndian.PutUint32(chunk[4:8], v)
}

// PutElementHeader writes an ElementHeader at buf[0:ElementHeaderSize].
func PutElementHeader(buf []byte, h ElementHeader) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Length)
	binary.LittleEndian.PutUint32(buf[4:8], h.Opcode)
	binary.LittleEndian.PutUint64(buf[8:16], h.Context)
}

// GetElementHeader reads an ElementHeader from buf[0:ElementHeaderSize].
func GetElementHeader(buf []byte) ElementHeader {
	return ElementHeader{
		Length:  binary.LittleEndian.Uint32(buf[0:4]),
		Opcode:  binary.LittleEndian.Uint32(buf[4:8]),
		Context: binary.LittleEndian.Uint64(buf[8:16]),
	}
}
