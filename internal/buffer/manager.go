package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tuannm99/novabuf/internal/file"
)

// Manager wraps a Pool so that Pin never reports "no buffer available".
// A caller that finds every buffer pinned waits until some buffer is
// released, for at most the configured max wait, then gets ErrBufferAbort.
//
// All waiters share one release signal: each Unpin that drops a pin count to
// zero wakes every waiter, whichever block it is waiting for. There is no
// FIFO fairness among waiters.
type Manager struct {
	pool    *Pool
	maxWait time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	released chan struct{} // closed and replaced on every release

	waits  atomic.Int64
	aborts atomic.Int64
}

func NewManager(fm FileManager, lm LogManager, capacity int, opts ...Option) *Manager {
	o := buildOptions(opts)
	return &Manager{
		pool:     NewPool(fm, lm, capacity, opts...),
		maxWait:  o.maxWait,
		logger:   o.logger,
		released: make(chan struct{}),
	}
}

// releaseSignal returns the channel closed by the next broadcast.
func (m *Manager) releaseSignal() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

func (m *Manager) broadcast() {
	m.mu.Lock()
	defer m.mu.Unlock()
	close(m.released)
	m.released = make(chan struct{})
}

// Pin pins a buffer to blk, waiting for an unpinned buffer if necessary.
// It returns an error wrapping ErrBufferAbort if none is released within the
// max wait or if ctx is done while waiting.
func (m *Manager) Pin(ctx context.Context, blk file.Block) (*Buffer, error) {
	deadline := time.Now().Add(m.maxWait)

	for {
		// Take the signal before trying, so a release that happens between
		// a failed attempt and the wait is not missed.
		signal := m.releaseSignal()

		buf, ok, err := m.pool.Pin(blk)
		if err != nil {
			return nil, fmt.Errorf("buffer: pin %s: %w", blk, err)
		}
		if ok {
			return buf, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, m.abort(blk.String(), ErrWaitTimeout)
		}
		if err := m.wait(ctx, signal, remaining); err != nil {
			return nil, m.abort(blk.String(), err)
		}
	}
}

// PinNew appends a block to filename and pins a buffer to it.
//
// Running out of buffers here is terminal: the pool's ErrBufferPoolExhausted
// is returned wrapped in ErrBufferAbort without waiting.
func (m *Manager) PinNew(ctx context.Context, filename string, fmtr PageFormatter) (*Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, m.abort(filename, err)
	}
	buf, err := m.pool.PinNew(filename, fmtr)
	if err != nil {
		if isExhausted(err) {
			return nil, m.abort(filename, err)
		}
		return nil, fmt.Errorf("buffer: pin new block of %s: %w", filename, err)
	}
	return buf, nil
}

func (m *Manager) wait(ctx context.Context, signal <-chan struct{}, d time.Duration) error {
	m.waits.Add(1)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-signal:
		return nil
	case <-timer.C:
		// one more attempt is made before giving up
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) abort(target string, cause error) error {
	m.aborts.Add(1)
	m.logger.Warn("buffer abort", "target", target, "cause", cause, "available", m.pool.Available())
	return fmt.Errorf("%w: %s: %w", ErrBufferAbort, target, cause)
}

// Unpin releases one pin on buf and wakes all waiters if buf became unpinned.
func (m *Manager) Unpin(buf *Buffer) error {
	released, err := m.pool.Unpin(buf)
	if err != nil {
		m.logger.Error("unpin failed", "error", err)
		return err
	}
	if released {
		m.broadcast()
	}
	return nil
}

func (m *Manager) FlushAll(txnum int) error { return m.pool.FlushAll(txnum) }

func (m *Manager) Available() int { return m.pool.Available() }

func (m *Manager) Capacity() int { return m.pool.Capacity() }

func (m *Manager) ContainsMapping(blk file.Block) bool { return m.pool.ContainsMapping(blk) }

func (m *Manager) GetMapping(blk file.Block) (*Buffer, bool) { return m.pool.GetMapping(blk) }

func (m *Manager) Statistics() []BufferStats { return m.pool.Statistics() }

func (m *Manager) Metrics() MetricsSnapshot {
	s := m.pool.Metrics()
	s.Waits = m.waits.Load()
	s.Aborts = m.aborts.Load()
	return s
}

// LogStatistics writes one debug line per mapped buffer.
func (m *Manager) LogStatistics(ctx context.Context) {
	for _, s := range m.Statistics() {
		m.logger.DebugContext(ctx, "buffer statistics",
			"index", s.Index,
			"block", s.Block,
			"pins", s.Pins,
			"reads", s.ReadCount,
			"writes", s.WriteCount,
			"lsn", s.LSN,
		)
	}
}
