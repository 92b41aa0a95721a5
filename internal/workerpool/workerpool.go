// Package workerpool runs independent store operations concurrently. Each
// batch gets its own room; the pool itself is shared and long-lived.
package workerpool

import (
	"runtime"
	"sync"
)

type WorkerPool struct {
	config    Config
	taskQueue chan task
}

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

type task struct {
	run  func() interface{}
	room *Room
}

// Room collects the results of one batch of tasks.
type Room struct {
	resultChan chan interface{}
	wg         sync.WaitGroup
	wp         *WorkerPool
}

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU() * 3
	}
	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 1000
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan task, config.GlobalBuffer),
	}

	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	for t := range wp.taskQueue {
		t.room.resultChan <- t.run()
		t.room.wg.Done()
	}
}

// Close stops the workers once all queued tasks have drained.
func (wp *WorkerPool) Close() {
	close(wp.taskQueue)
}

// CreateRoom creates a collection room sized for the expected number of
// results.
func (wp *WorkerPool) CreateRoom(size int) *Room {
	return &Room{
		resultChan: make(chan interface{}, size),
		wp:         wp,
	}
}

// NewTask queues a job, blocking when the global buffer is full.
func (ro *Room) NewTask(job func() interface{}) {
	ro.wg.Add(1)
	ro.wp.taskQueue <- task{run: job, room: ro}
}

// Collect waits for every queued task of this room and returns their
// results in completion order. The room is closed afterwards.
func (ro *Room) Collect() []interface{} {
	go func() {
		ro.wg.Wait()
		close(ro.resultChan)
	}()

	results := make([]interface{}, 0)
	for result := range ro.resultChan {
		results = append(results, result)
	}
	return results
}
