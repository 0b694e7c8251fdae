package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int]()
	for i := range 5 {
		q.Push(i)
	}
	assert.Equal(t, 5, q.Len())

	for i := range 5 {
		v, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestQueuePollTimesOut(t *testing.T) {
	q := NewQueue[string]()
	start := time.Now()
	_, ok := q.Poll(5 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)

	_, ok = q.Poll(0)
	assert.False(t, ok)
}

func TestQueuePollWakesOnPush(t *testing.T) {
	q := NewQueue[string]()
	go func() {
		time.Sleep(2 * time.Millisecond)
		q.Push("late")
	}()
	v, ok := q.Poll(time.Second)
	require.True(t, ok)
	assert.Equal(t, "late", v)
}

func TestQueueConcurrentConsumers(t *testing.T) {
	q := NewQueue[int]()
	const items, consumers = 1000, 4

	var mu sync.Mutex
	seen := make(map[int]int)
	var wg sync.WaitGroup
	for range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := q.Poll(20 * time.Millisecond)
				if !ok {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}
	for i := range items {
		q.Push(i)
	}
	wg.Wait()

	assert.Len(t, seen, items)
	for v, n := range seen {
		assert.Equal(t, 1, n, "item %d", v)
	}
}
