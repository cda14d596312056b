package buffer

import "errors"

var (
	// ErrBufferAbort is returned by Manager when a buffer cannot be obtained:
	// the bounded wait expired, the wait was cancelled, or a new block could
	// not be allocated. Callers are expected to abort their transaction.
	ErrBufferAbort = errors.New("buffer: abort")

	// ErrBufferPoolExhausted is returned by Pool.PinNew when every slot is pinned.
	ErrBufferPoolExhausted = errors.New("buffer: pool exhausted (all buffers pinned)")

	// ErrInvariantViolation marks a programming error such as unpinning a
	// buffer that is not pinned.
	ErrInvariantViolation = errors.New("buffer: invariant violation")

	ErrWaitTimeout = errors.New("buffer: waited too long for an unpinned buffer")
)

func isExhausted(err error) bool {
	return errors.Is(err, ErrBufferPoolExhausted)
}
