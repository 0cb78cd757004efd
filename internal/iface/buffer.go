package iface

import "sync"

// bufferSize is large enough for the 9000-octet inbound bound the engine's
// codec enforces (spec.md §4.1) plus headroom.
const bufferSize = 9216

var buffers = sync.Pool{
	New: func() interface{} {
		return make([]byte, bufferSize)
	},
}

// GetBuffer fetches a read buffer from the pool, adapted from
// dissolve's transport.bufferpool.
func GetBuffer() []byte {
	return buffers.Get().([]byte)
}

// PutBuffer returns buf to the pool.
func PutBuffer(buf []byte) {
	if cap(buf) >= bufferSize {
		buffers.Put(buf[:bufferSize])
	}
}
