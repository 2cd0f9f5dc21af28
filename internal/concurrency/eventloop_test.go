//go:build linux || darwin

package concurrency

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func makePipe(t *testing.T) (int, int) {
	t.Helper()
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestEventLoopDispatchesReadEvent(t *testing.T) {
	loop, err := NewEventLoop()
	if err != nil {
		t.Fatal(err)
	}
	defer loop.Close()

	r, w := makePipe(t)
	fired := make(chan struct{}, 1)
	err = loop.RegisterEvent(r, func() {
		buf := make([]byte, 8)
		unix.Read(r, buf)
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	go loop.Run()
	defer loop.Stop()
	waitFor(t, time.Second, loop.IsRunning)

	if _, err := unix.Write(w, []byte("x")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback not dispatched for readable fd")
	}
}

func TestEventLoopUnregister(t *testing.T) {
	loop, err := NewEventLoop()
	if err != nil {
		t.Fatal(err)
	}
	defer loop.Close()

	r, _ := makePipe(t)
	if err := loop.RegisterEvent(r, func() {}); err != nil {
		t.Fatal(err)
	}
	if err := loop.UnregisterEvent(r); err != nil {
		t.Fatal(err)
	}
	if err := loop.UnregisterEvent(r); err == nil {
		t.Error("unregistering an unknown fd succeeded")
	}
}

func TestEventLoopStopTerminatesRun(t *testing.T) {
	loop, err := NewEventLoop()
	if err != nil {
		t.Fatal(err)
	}
	defer loop.Close()

	done := make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()
	waitFor(t, time.Second, loop.IsRunning)

	loop.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if loop.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}
