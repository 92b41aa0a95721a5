package workerpool

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomCollectsAllResults(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 4})
	defer wp.Close()

	const n = 100
	room := wp.CreateRoom(n)
	for i := 0; i < n; i++ {
		i := i
		room.NewTask(func() interface{} { return i * i })
	}

	results := room.Collect()
	assert.Len(t, results, n)

	seen := make(map[int]bool)
	for _, r := range results {
		seen[r.(int)] = true
	}
	for i := 0; i < n; i++ {
		assert.True(t, seen[i*i], "missing result for task %d", i)
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 2})
	defer wp.Close()

	a := wp.CreateRoom(3)
	b := wp.CreateRoom(3)
	for i := 0; i < 3; i++ {
		a.NewTask(func() interface{} { return "a" })
		b.NewTask(func() interface{} { return "b" })
	}

	for _, r := range a.Collect() {
		assert.Equal(t, "a", r)
	}
	for _, r := range b.Collect() {
		assert.Equal(t, "b", r)
	}
}

func TestEveryTaskRunsExactlyOnce(t *testing.T) {
	wp := NewWorkerPool(Config{})
	defer wp.Close()

	var calls int64
	const n = 50
	room := wp.CreateRoom(n)
	for i := 0; i < n; i++ {
		room.NewTask(func() interface{} {
			return atomic.AddInt64(&calls, 1)
		})
	}
	room.Collect()

	assert.Equal(t, int64(n), atomic.LoadInt64(&calls))
}

func TestEmptyRoom(t *testing.T) {
	wp := NewWorkerPool(Config{})
	defer wp.Close()

	assert.Empty(t, wp.CreateRoom(0).Collect())
}
