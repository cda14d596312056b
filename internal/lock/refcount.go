package locking

// used for buffer pin counts
// a buffer whose count is zero may be evicted by the pool

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var ErrRefCountUnderflow = errors.New("refcount: dropped below zero")

type RefCount struct {
	count atomic.Int32
}

func NewRefCount() *RefCount {
	return &RefCount{}
}

// Inc returns the new count.
func (r *RefCount) Inc() int32 {
	return r.count.Add(1)
}

// Dec returns the new count. The count never goes negative: decrementing
// a zero count leaves it at zero and reports ErrRefCountUnderflow.
func (r *RefCount) Dec() (int32, error) {
	for {
		cur := r.count.Load()
		if cur <= 0 {
			return 0, ErrRefCountUnderflow
		}
		if r.count.CompareAndSwap(cur, cur-1) {
			return cur - 1, nil
		}
	}
}

func (r *RefCount) Get() int32 {
	return r.count.Load()
}

func (r *RefCount) Reset() {
	r.count.Store(0)
}

func (r *RefCount) String() string {
	return fmt.Sprintf("RefCount: %d", r.Get())
}
