package buffer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tuannm99/novabuf/internal/file"
	locking "github.com/tuannm99/novabuf/internal/lock"
)

// FileManager is the block I/O used by buffers.
type FileManager interface {
	BlockSize() int
	Read(blk file.Block, p *file.Page) error
	Write(blk file.Block, p *file.Page) error
	Append(filename string) (file.Block, error)
}

// LogManager forces log records to disk before the pages they describe.
type LogManager interface {
	Flush(lsn uint64) error
}

var (
	_ FileManager = (*file.Manager)(nil)
)

// Buffer is one slot of the pool. It caches the contents of at most one
// block and tracks who pinned and who modified it.
//
// Block binding and pin count are changed only by the owning Pool under its
// lock. The modification marker (transaction and LSN) is set by callers
// through SetModified.
type Buffer struct {
	fm    FileManager
	lm    LogManager
	index int

	contents *file.Page
	blk      file.Block
	assigned bool
	pins     locking.RefCount

	mu         sync.Mutex
	modifiedBy int
	lsn        int64

	reads  atomic.Int64
	writes atomic.Int64
}

func newBuffer(fm FileManager, lm LogManager, index int) *Buffer {
	return &Buffer{
		fm:         fm,
		lm:         lm,
		index:      index,
		contents:   file.NewPage(fm.BlockSize()),
		modifiedBy: -1,
		lsn:        -1,
	}
}

// Index is the slot number inside the pool.
func (b *Buffer) Index() int { return b.index }

func (b *Buffer) Contents() *file.Page { return b.contents }

// Block returns the block cached here; ok is false if the slot is unused.
func (b *Buffer) Block() (blk file.Block, ok bool) {
	return b.blk, b.assigned
}

// SetModified records that txnum changed the contents. A negative lsn means
// the change produced no log record and the previous LSN is kept.
func (b *Buffer) SetModified(txnum int, lsn int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modifiedBy = txnum
	if lsn >= 0 {
		b.lsn = lsn
	}
}

func (b *Buffer) IsPinned() bool { return b.pins.Get() > 0 }

func (b *Buffer) Pins() int32 { return b.pins.Get() }

// ModifyingTx returns the transaction that dirtied the buffer, or -1 if clean.
func (b *Buffer) ModifyingTx() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.modifiedBy
}

func (b *Buffer) IsModifiedBy(txnum int) bool {
	return b.ModifyingTx() == txnum
}

// LSN of the latest change since the block was loaded, or -1.
func (b *Buffer) LSN() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lsn
}

func (b *Buffer) ReadCount() int64 { return b.reads.Load() }

func (b *Buffer) WriteCount() int64 { return b.writes.Load() }

func (b *Buffer) String() string {
	if !b.assigned {
		return fmt.Sprintf("buffer %d: unassigned", b.index)
	}
	return fmt.Sprintf("buffer %d: %s pins=%d", b.index, b.blk, b.Pins())
}

// flush writes a dirty page to disk. The log is forced up to the page LSN
// first.
func (b *Buffer) flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.modifiedBy < 0 {
		return nil
	}
	if b.lsn > 0 {
		if err := b.lm.Flush(uint64(b.lsn)); err != nil {
			return fmt.Errorf("buffer: flush log to lsn %d: %w", b.lsn, err)
		}
	}
	if err := b.fm.Write(b.blk, b.contents); err != nil {
		return fmt.Errorf("buffer: write %s: %w", b.blk, err)
	}
	b.writes.Add(1)
	b.modifiedBy = -1
	return nil
}

// assignToBlock flushes the current contents and loads blk.
// If flushing fails the buffer keeps its old binding. If loading fails the
// buffer ends up unassigned.
func (b *Buffer) assignToBlock(blk file.Block) error {
	if err := b.flush(); err != nil {
		return err
	}
	if err := b.fm.Read(blk, b.contents); err != nil {
		b.unassign()
		return fmt.Errorf("buffer: read %s: %w", blk, err)
	}
	b.reads.Add(1)
	b.bind(blk)
	return nil
}

// assignToNew flushes the current contents, appends a block to filename,
// formats it with fmtr and writes it out.
func (b *Buffer) assignToNew(filename string, fmtr PageFormatter) error {
	if err := b.flush(); err != nil {
		return err
	}
	blk, err := b.fm.Append(filename)
	if err != nil {
		return fmt.Errorf("buffer: append to %s: %w", filename, err)
	}
	fmtr.Format(b.contents)
	if err := b.fm.Write(blk, b.contents); err != nil {
		b.unassign()
		return fmt.Errorf("buffer: write %s: %w", blk, err)
	}
	b.writes.Add(1)
	b.bind(blk)
	return nil
}

func (b *Buffer) bind(blk file.Block) {
	b.blk = blk
	b.assigned = true
	b.pins.Reset()

	b.mu.Lock()
	b.modifiedBy = -1
	b.lsn = -1
	b.mu.Unlock()
}

func (b *Buffer) unassign() {
	b.blk = file.Block{}
	b.assigned = false
	b.contents.Zero()

	b.mu.Lock()
	b.modifiedBy = -1
	b.lsn = -1
	b.mu.Unlock()
}

func (b *Buffer) pin() int32 {
	return b.pins.Inc()
}

func (b *Buffer) unpin() (int32, error) {
	return b.pins.Dec()
}
