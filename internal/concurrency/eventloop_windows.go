//go:build windows

package concurrency

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/windows"
)

// wakeKey is a completion key reserved for waking the loop out of its wait
// when Stop is called.
const wakeKey = ^uintptr(0)

// iocpBackend multiplexes completion events on Windows. Descriptors are
// associated with one completion port using the fd as the completion key.
type iocpBackend struct {
	port    windows.Handle
	mu      sync.Mutex
	cbs     map[int]EventCallback
	stopped atomic.Bool
}

func newPlatformBackend() (eventLoopBackend, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("create io completion port: %w", err)
	}
	return &iocpBackend{
		port: port,
		cbs:  make(map[int]EventCallback),
	}, nil
}

func (b *iocpBackend) registerEvent(fd int, cb EventCallback) error {
	if _, err := windows.CreateIoCompletionPort(windows.Handle(fd), b.port, uintptr(fd), 0); err != nil {
		return fmt.Errorf("associate handle %d: %w", fd, err)
	}
	b.mu.Lock()
	b.cbs[fd] = cb
	b.mu.Unlock()
	return nil
}

func (b *iocpBackend) unregisterEvent(fd int) error {
	b.mu.Lock()
	_, ok := b.cbs[fd]
	delete(b.cbs, fd)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("handle %d not registered", fd)
	}
	// A handle cannot be dissociated from a completion port; dropping the
	// callback makes later completions for it no-ops.
	return nil
}

func (b *iocpBackend) run() {
	b.stopped.Store(false)
	timeout := uint32(pollInterval.Milliseconds())

	for !b.stopped.Load() {
		var bytes uint32
		var key uintptr
		var overlapped *windows.Overlapped
		err := windows.GetQueuedCompletionStatus(b.port, &bytes, &key, &overlapped, timeout)
		if err != nil {
			if err == syscall.Errno(windows.WAIT_TIMEOUT) {
				continue
			}
			slog.Error("completion port wait failed", slog.Any("error", err))
			return
		}
		if key == wakeKey {
			continue
		}
		b.dispatch(int(key))
	}
}

func (b *iocpBackend) dispatch(fd int) {
	b.mu.Lock()
	cb := b.cbs[fd]
	b.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (b *iocpBackend) stop() {
	b.stopped.Store(true)
	// Kick the loop out of its wait so the flag is observed immediately.
	_ = windows.PostQueuedCompletionStatus(b.port, 0, wakeKey, nil)
}

func (b *iocpBackend) close() error {
	return windows.CloseHandle(b.port)
}
