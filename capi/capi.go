// Package capi exposes the scheduler and thread pool behind opaque integer
// handles, the shape an embedding host expects from a foreign interface.
// Every function tolerates invalid handles rather than crashing the host.
package capi

import (
	"sync"
	"sync/atomic"

	"quill/internal/concurrency"
)

// InvalidHandle is returned by constructors on failure and rejected by
// every other call.
const InvalidHandle int64 = 0

var registry = struct {
	mu         sync.Mutex
	schedulers map[int64]*concurrency.Scheduler
	pools      map[int64]*concurrency.ThreadPool
}{
	schedulers: make(map[int64]*concurrency.Scheduler),
	pools:      make(map[int64]*concurrency.ThreadPool),
}

var nextHandle atomic.Int64

func newHandle() int64 {
	return nextHandle.Add(1)
}

// SchedulerCreate allocates a scheduler and returns its handle.
func SchedulerCreate() int64 {
	h := newHandle()
	registry.mu.Lock()
	registry.schedulers[h] = concurrency.NewScheduler()
	registry.mu.Unlock()
	return h
}

// SchedulerSubmit enqueues a callback on the scheduler. Returns false on an
// invalid handle or nil task.
func SchedulerSubmit(handle int64, task concurrency.Task) bool {
	if task == nil {
		return false
	}
	registry.mu.Lock()
	s := registry.schedulers[handle]
	registry.mu.Unlock()
	if s == nil {
		return false
	}
	s.Submit(task)
	return true
}

// SchedulerShutdown closes the scheduler's queue. Safe on invalid handles.
func SchedulerShutdown(handle int64) {
	registry.mu.Lock()
	s := registry.schedulers[handle]
	registry.mu.Unlock()
	if s != nil {
		s.Shutdown()
	}
}

// SchedulerDestroy shuts the scheduler down and releases its handle.
func SchedulerDestroy(handle int64) {
	registry.mu.Lock()
	s := registry.schedulers[handle]
	delete(registry.schedulers, handle)
	registry.mu.Unlock()
	if s != nil {
		s.Shutdown()
	}
}

// ThreadPoolCreate allocates a pool of numWorkers workers fed by the given
// scheduler. Returns InvalidHandle when the scheduler handle is stale.
func ThreadPoolCreate(numWorkers int, schedulerHandle int64) int64 {
	registry.mu.Lock()
	s := registry.schedulers[schedulerHandle]
	registry.mu.Unlock()
	if s == nil {
		return InvalidHandle
	}

	h := newHandle()
	registry.mu.Lock()
	registry.pools[h] = concurrency.NewThreadPool(numWorkers, s)
	registry.mu.Unlock()
	return h
}

// ThreadPoolStart starts the pool's workers. Safe on invalid handles.
func ThreadPoolStart(handle int64) {
	registry.mu.Lock()
	p := registry.pools[handle]
	registry.mu.Unlock()
	if p != nil {
		p.Start()
	}
}

// ThreadPoolStop stops the pool's workers. Safe on invalid handles.
func ThreadPoolStop(handle int64) {
	registry.mu.Lock()
	p := registry.pools[handle]
	registry.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}

// ThreadPoolDestroy stops the pool and releases its handle.
func ThreadPoolDestroy(handle int64) {
	registry.mu.Lock()
	p := registry.pools[handle]
	delete(registry.pools, handle)
	registry.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}
