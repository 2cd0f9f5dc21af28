//go:build linux

package concurrency

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// epollBackend multiplexes readiness with epoll. Descriptors are registered
// edge-triggered for input events.
type epollBackend struct {
	epfd    int
	mu      sync.Mutex
	cbs     map[int]EventCallback
	stopped atomic.Bool
}

func newPlatformBackend() (eventLoopBackend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &epollBackend{
		epfd: epfd,
		cbs:  make(map[int]EventCallback),
	}, nil
}

func (b *epollBackend) registerEvent(fd int, cb EventCallback) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	b.mu.Lock()
	b.cbs[fd] = cb
	b.mu.Unlock()
	return nil
}

func (b *epollBackend) unregisterEvent(fd int) error {
	b.mu.Lock()
	delete(b.cbs, fd)
	b.mu.Unlock()
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

func (b *epollBackend) run() {
	b.stopped.Store(false)
	events := make([]unix.EpollEvent, 64)

	for !b.stopped.Load() {
		n, err := unix.EpollWait(b.epfd, events, int(pollInterval.Milliseconds()))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			slog.Error("epoll_wait failed", slog.Any("error", err))
			return
		}
		for i := 0; i < n; i++ {
			b.dispatch(int(events[i].Fd))
		}
	}
}

func (b *epollBackend) dispatch(fd int) {
	b.mu.Lock()
	cb := b.cbs[fd]
	b.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (b *epollBackend) stop() {
	b.stopped.Store(true)
}

func (b *epollBackend) close() error {
	return unix.Close(b.epfd)
}
