//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package concurrency

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// kqueueBackend multiplexes readiness with kqueue on macOS and the BSDs.
type kqueueBackend struct {
	kq      int
	mu      sync.Mutex
	cbs     map[int]EventCallback
	stopped atomic.Bool
}

func newPlatformBackend() (eventLoopBackend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue: %w", err)
	}
	return &kqueueBackend{
		kq:  kq,
		cbs: make(map[int]EventCallback),
	}, nil
}

func (b *kqueueBackend) registerEvent(fd int, cb EventCallback) error {
	var kev unix.Kevent_t
	unix.SetKevent(&kev, fd, unix.EVFILT_READ, unix.EV_ADD)
	if _, err := unix.Kevent(b.kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		return fmt.Errorf("kevent add fd %d: %w", fd, err)
	}
	b.mu.Lock()
	b.cbs[fd] = cb
	b.mu.Unlock()
	return nil
}

func (b *kqueueBackend) unregisterEvent(fd int) error {
	b.mu.Lock()
	delete(b.cbs, fd)
	b.mu.Unlock()
	var kev unix.Kevent_t
	unix.SetKevent(&kev, fd, unix.EVFILT_READ, unix.EV_DELETE)
	if _, err := unix.Kevent(b.kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		return fmt.Errorf("kevent delete fd %d: %w", fd, err)
	}
	return nil
}

func (b *kqueueBackend) run() {
	b.stopped.Store(false)
	events := make([]unix.Kevent_t, 64)
	timeout := unix.NsecToTimespec(pollInterval.Nanoseconds())

	for !b.stopped.Load() {
		n, err := unix.Kevent(b.kq, nil, events, &timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			slog.Error("kevent wait failed", slog.Any("error", err))
			return
		}
		for i := 0; i < n; i++ {
			b.dispatch(int(events[i].Ident))
		}
	}
}

func (b *kqueueBackend) dispatch(fd int) {
	b.mu.Lock()
	cb := b.cbs[fd]
	b.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (b *kqueueBackend) stop() {
	b.stopped.Store(true)
}

func (b *kqueueBackend) close() error {
	return unix.Close(b.kq)
}
