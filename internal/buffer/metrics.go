package buffer

import "sync/atomic"

// MetricsSnapshot is a point-in-time copy of pool counters.
type MetricsSnapshot struct {
	Hits           int64 // pins of an already cached block
	Misses         int64 // pins that had to load a block
	FreeListAllocs int64 // slots taken from the free list
	Evictions      int64 // mapped slots rebound to another block
	Waits          int64 // times Manager suspended a caller
	Aborts         int64 // ErrBufferAbort returned by Manager
}

type poolMetrics struct {
	hits           atomic.Int64
	misses         atomic.Int64
	freeListAllocs atomic.Int64
	evictions      atomic.Int64
}

func (m *poolMetrics) snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Hits:           m.hits.Load(),
		Misses:         m.misses.Load(),
		FreeListAllocs: m.freeListAllocs.Load(),
		Evictions:      m.evictions.Load(),
	}
}

// BufferStats describes one mapped buffer.
type BufferStats struct {
	Index       int
	Block       string
	Pins        int32
	ReadCount   int64
	WriteCount  int64
	LSN         int64
	ModifyingTx int
}
