package locking

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRefCount_IncDec(t *testing.T) {
	r := NewRefCount()
	require.Equal(t, int32(0), r.Get())

	require.Equal(t, int32(1), r.Inc())
	require.Equal(t, int32(2), r.Inc())

	n, err := r.Dec()
	require.NoError(t, err)
	require.Equal(t, int32(1), n)

	n, err = r.Dec()
	require.NoError(t, err)
	require.Equal(t, int32(0), n)
}

func TestRefCount_UnderflowDoesNotGoNegative(t *testing.T) {
	r := NewRefCount()

	_, err := r.Dec()
	require.ErrorIs(t, err, ErrRefCountUnderflow)
	require.Equal(t, int32(0), r.Get())
}

func TestRefCount_Concurrent(t *testing.T) {
	r := NewRefCount()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Inc()
			_, _ = r.Dec()
		}()
	}
	wg.Wait()

	require.Equal(t, int32(0), r.Get())
	require.Equal(t, "RefCount: 0", r.String())
}
