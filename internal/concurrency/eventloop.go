package concurrency

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// EventCallback is invoked when its registered descriptor becomes ready.
type EventCallback func()

// pollInterval bounds every backend's kernel wait so the stop flag is
// re-checked promptly; Stop never leaves Run blocked indefinitely.
const pollInterval = 200 * time.Millisecond

// eventLoopBackend is the platform half of the event loop. Exactly one
// implementation is compiled in: epoll on Linux, kqueue on the BSDs and
// macOS, an I/O completion port on Windows.
type eventLoopBackend interface {
	registerEvent(fd int, cb EventCallback) error
	unregisterEvent(fd int) error
	run()
	stop()
	close() error
}

// EventLoop is the readiness multiplexer used by concurrent (I/O-bound)
// blocks. One instance exists per runtime; Run occupies a single goroutine
// and dispatches the registered callback for each ready descriptor.
type EventLoop struct {
	backend eventLoopBackend
	running atomic.Bool
}

// NewEventLoop selects and initializes the backend for the host platform.
func NewEventLoop() (*EventLoop, error) {
	backend, err := newPlatformBackend()
	if err != nil {
		return nil, err
	}
	return &EventLoop{backend: backend}, nil
}

// RegisterEvent watches fd for read readiness. Failures are logged and
// returned, never fatal.
func (l *EventLoop) RegisterEvent(fd int, cb EventCallback) error {
	if err := l.backend.registerEvent(fd, cb); err != nil {
		slog.Warn("failed to register event", slog.Int("fd", fd), slog.Any("error", err))
		return err
	}
	return nil
}

// UnregisterEvent stops watching fd. Unknown descriptors are logged and
// reported, never fatal.
func (l *EventLoop) UnregisterEvent(fd int) error {
	if err := l.backend.unregisterEvent(fd); err != nil {
		slog.Warn("failed to unregister event", slog.Int("fd", fd), slog.Any("error", err))
		return err
	}
	return nil
}

// Run blocks, dispatching readiness callbacks until Stop is called. A second
// concurrent call while the loop is already running is a no-op.
func (l *EventLoop) Run() {
	if l.running.Swap(true) {
		return
	}
	l.backend.run()
	l.running.Store(false)
}

// Stop asks a running loop to exit. No-op when the loop is not running.
func (l *EventLoop) Stop() {
	if !l.running.Load() {
		return
	}
	l.backend.stop()
}

func (l *EventLoop) IsRunning() bool {
	return l.running.Load()
}

// Close stops the loop and releases the kernel handle.
func (l *EventLoop) Close() error {
	l.Stop()
	return l.backend.close()
}
