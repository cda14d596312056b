package buffer

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/eapache/queue"
	"golang.org/x/sync/errgroup"

	"github.com/tuannm99/novabuf/internal/file"
)

// Pool is the non-blocking core of the buffer manager. It owns a fixed
// arena of buffers, the block -> slot table and the free list. Every method
// runs under one mutex; none of them waits for a buffer to become free.
type Pool struct {
	logger           *slog.Logger
	flushParallelism int

	mu        sync.Mutex
	frames    []*Buffer          // len == capacity, never reallocated
	table     map[file.Block]int // block -> frame index
	free      *queue.Queue       // frame indices never bound to a block, FIFO
	available int                // frames with pin count 0

	metrics poolMetrics
}

func NewPool(fm FileManager, lm LogManager, capacity int, opts ...Option) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	o := buildOptions(opts)

	p := &Pool{
		logger:           o.logger,
		flushParallelism: o.flushParallelism,
		frames:           make([]*Buffer, capacity),
		table:            make(map[file.Block]int, capacity),
		free:             queue.New(),
		available:        capacity,
	}
	for i := range capacity {
		p.frames[i] = newBuffer(fm, lm, i)
		p.free.Add(i)
	}
	return p
}

func (p *Pool) Capacity() int { return len(p.frames) }

// Pin pins a buffer to blk, loading the block if it is not cached.
// ok is false when every buffer is pinned; err reports I/O failures while
// writing out the replaced page or reading blk.
func (p *Pool) Pin(blk file.Block) (buf *Buffer, ok bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 1) HIT
	if idx, found := p.table[blk]; found {
		buf = p.frames[idx]
		if buf.pin() == 1 {
			p.available--
		}
		p.metrics.hits.Add(1)
		return buf, true, nil
	}
	p.metrics.misses.Add(1)

	// 2) Replace
	v, found := p.chooseUnpinned()
	if !found {
		return nil, false, nil
	}
	buf = p.frames[v.idx]
	old, hadOld := buf.Block()

	if err := buf.assignToBlock(blk); err != nil {
		p.recoverFailedAssign(v, old, hadOld)
		return nil, false, err
	}
	p.commitAssign(v, old, hadOld)

	p.table[blk] = v.idx
	buf.pin()
	p.available--
	return buf, true, nil
}

// PinNew appends a new block to filename, formats it with fmtr and pins a
// buffer to it. It fails with ErrBufferPoolExhausted if every buffer is pinned.
func (p *Pool) PinNew(filename string, fmtr PageFormatter) (*Buffer, error) {
	if fmtr == nil {
		fmtr = ZeroFormatter
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	v, found := p.chooseUnpinned()
	if !found {
		return nil, ErrBufferPoolExhausted
	}
	buf := p.frames[v.idx]
	old, hadOld := buf.Block()

	if err := buf.assignToNew(filename, fmtr); err != nil {
		p.recoverFailedAssign(v, old, hadOld)
		return nil, err
	}
	p.commitAssign(v, old, hadOld)

	blk, _ := buf.Block()
	p.table[blk] = v.idx
	buf.pin()
	p.available--
	return buf, nil
}

// commitAssign drops the slot's previous identity after a successful rebind.
func (p *Pool) commitAssign(v victim, old file.Block, hadOld bool) {
	if v.fromFree {
		p.free.Remove()
		p.metrics.freeListAllocs.Add(1)
		return
	}
	if hadOld {
		delete(p.table, old)
		p.metrics.evictions.Add(1)
	}
}

// recoverFailedAssign restores the bookkeeping after a rebind failed. A slot
// that lost its old block moves to the free list so it stays reachable.
func (p *Pool) recoverFailedAssign(v victim, old file.Block, hadOld bool) {
	if v.fromFree || !hadOld {
		return
	}
	if _, still := p.frames[v.idx].Block(); still {
		return
	}
	delete(p.table, old)
	p.free.Add(v.idx)
	p.logger.Warn("buffer released after failed load", "index", v.idx, "block", old.String())
}

// Unpin decrements the pin count of buf. released reports whether the count
// reached zero.
func (p *Pool) Unpin(buf *Buffer) (released bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if buf == nil || buf.index < 0 || buf.index >= len(p.frames) || p.frames[buf.index] != buf {
		return false, fmt.Errorf("%w: buffer does not belong to this pool", ErrInvariantViolation)
	}
	n, err := buf.unpin()
	if err != nil {
		return false, fmt.Errorf("%w: unpin %s: %w", ErrInvariantViolation, buf, err)
	}
	if n == 0 {
		p.available++
		return true, nil
	}
	return false, nil
}

// FlushAll writes every mapped buffer modified by txnum. Other buffers are
// left untouched.
func (p *Pool) FlushAll(txnum int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(p.flushParallelism)
	for _, idx := range p.table {
		buf := p.frames[idx]
		if !buf.IsModifiedBy(txnum) {
			continue
		}
		g.Go(buf.flush)
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("buffer: flush tx %d: %w", txnum, err)
	}
	return nil
}

// Available returns the number of unpinned buffers.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

func (p *Pool) ContainsMapping(blk file.Block) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.table[blk]
	return ok
}

func (p *Pool) GetMapping(blk file.Block) (*Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.table[blk]
	if !ok {
		return nil, false
	}
	return p.frames[idx], true
}

// Statistics reports every mapped buffer, ordered by slot index.
func (p *Pool) Statistics() []BufferStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]BufferStats, 0, len(p.table))
	for blk, idx := range p.table {
		buf := p.frames[idx]
		out = append(out, BufferStats{
			Index:       idx,
			Block:       blk.String(),
			Pins:        buf.Pins(),
			ReadCount:   buf.ReadCount(),
			WriteCount:  buf.WriteCount(),
			LSN:         buf.LSN(),
			ModifyingTx: buf.ModifyingTx(),
		})
	}
	slices.SortFunc(out, func(a, b BufferStats) int { return a.Index - b.Index })
	return out
}

func (p *Pool) Metrics() MetricsSnapshot {
	return p.metrics.snapshot()
}
