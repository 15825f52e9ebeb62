package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultQueueReorders(t *testing.T) {
	q := NewResultQueue(10)
	for _, seq := range []uint64{3, 1, 5, 2, 4} {
		q.Put(&BatchResult{Sequence: seq})
	}
	for want := uint64(1); want <= 5; want++ {
		r, ok := q.Next(time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, want, r.Sequence)
	}
	assert.Equal(t, 0, q.Len())
}

func TestResultQueueWaitsForNext(t *testing.T) {
	q := NewResultQueue(10)
	q.Put(&BatchResult{Sequence: 2})

	got := make(chan uint64, 1)
	go func() {
		r, ok := q.Next(time.Millisecond)
		if ok {
			got <- r.Sequence
		}
	}()

	select {
	case <-got:
		t.Fatal("Next returned before sequence 1 arrived")
	case <-time.After(20 * time.Millisecond):
	}
	q.Put(&BatchResult{Sequence: 1})
	assert.Equal(t, uint64(1), <-got)
}

func TestResultQueueCapacityAdmitsNext(t *testing.T) {
	q := NewResultQueue(1)
	q.Put(&BatchResult{Sequence: 3})

	var wg sync.WaitGroup
	wg.Add(1)
	put := make(chan struct{})
	go func() {
		defer wg.Done()
		q.Put(&BatchResult{Sequence: 2})
		close(put)
	}()

	select {
	case <-put:
		t.Fatal("Put of sequence 2 should block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	// The sequence the writer waits on is accepted over capacity.
	q.Put(&BatchResult{Sequence: 1})
	for want := uint64(1); want <= 3; want++ {
		r, ok := q.Next(time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, want, r.Sequence)
	}
	wg.Wait()
}

func TestResultQueueClose(t *testing.T) {
	q := NewResultQueue(4)
	q.Put(&BatchResult{Sequence: 1})
	q.Close()

	r, ok := q.Next(time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, uint64(1), r.Sequence)

	_, ok = q.Next(time.Millisecond)
	assert.False(t, ok)

	q.Put(&BatchResult{Sequence: 2})
	assert.Equal(t, 0, q.Len())
}
