package capi

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerLifecycle(t *testing.T) {
	h := SchedulerCreate()
	if h == InvalidHandle {
		t.Fatal("SchedulerCreate returned the invalid handle")
	}
	defer SchedulerDestroy(h)

	var ran atomic.Int64
	if !SchedulerSubmit(h, func() { ran.Add(1) }) {
		t.Error("SchedulerSubmit failed on a live handle")
	}
	if SchedulerSubmit(h, nil) {
		t.Error("SchedulerSubmit accepted a nil task")
	}
}

func TestInvalidHandlesAreSafe(t *testing.T) {
	const stale int64 = 999999

	if SchedulerSubmit(stale, func() {}) {
		t.Error("SchedulerSubmit succeeded on a stale handle")
	}
	SchedulerShutdown(stale)
	SchedulerDestroy(stale)
	ThreadPoolStart(stale)
	ThreadPoolStop(stale)
	ThreadPoolDestroy(stale)

	if ThreadPoolCreate(2, stale) != InvalidHandle {
		t.Error("ThreadPoolCreate succeeded with a stale scheduler handle")
	}
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	sh := SchedulerCreate()
	defer SchedulerDestroy(sh)

	ph := ThreadPoolCreate(2, sh)
	if ph == InvalidHandle {
		t.Fatal("ThreadPoolCreate returned the invalid handle")
	}
	defer ThreadPoolDestroy(ph)

	ThreadPoolStart(ph)

	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		SchedulerSubmit(sh, func() { ran.Add(1) })
	}

	deadline := time.Now().Add(5 * time.Second)
	for ran.Load() != 10 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if ran.Load() != 10 {
		t.Errorf("ran %d tasks, want 10", ran.Load())
	}
	ThreadPoolStop(ph)
}

func TestDestroyReleasesHandle(t *testing.T) {
	h := SchedulerCreate()
	SchedulerDestroy(h)
	if SchedulerSubmit(h, func() {}) {
		t.Error("destroyed handle still accepts work")
	}
}
