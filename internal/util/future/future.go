// Package future provides a minimal single-assignment future used by
// async execution blocks: produced once, awaited any number of times.
package future

import (
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by AwaitTimeout when the deadline elapses first.
var ErrTimeout = errors.New("future: await timed out")

// Future is a value that will be resolved exactly once. The zero value is
// not usable; construct with New, FromValue, FromError or Pending.
type Future[T any] struct {
	done chan struct{}
	once sync.Once

	value T
	err   error
}

// Pending returns an unresolved future to be settled later with Complete
// or Fail.
func Pending[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// New runs fn on its own goroutine and resolves the future with its result.
func New[T any](fn func() (T, error)) *Future[T] {
	f := Pending[T]()
	go func() {
		v, err := fn()
		if err != nil {
			f.Fail(err)
			return
		}
		f.Complete(v)
	}()
	return f
}

// FromValue returns an already-resolved future.
func FromValue[T any](v T) *Future[T] {
	f := Pending[T]()
	f.Complete(v)
	return f
}

// FromError returns an already-failed future.
func FromError[T any](err error) *Future[T] {
	f := Pending[T]()
	f.Fail(err)
	return f
}

// Complete resolves the future with a value. Only the first settlement of
// a future takes effect.
func (f *Future[T]) Complete(v T) {
	f.once.Do(func() {
		f.value = v
		close(f.done)
	})
}

// Fail resolves the future with an error.
func (f *Future[T]) Fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Await blocks until the future is resolved.
func (f *Future[T]) Await() (T, error) {
	<-f.done
	return f.value, f.err
}

// AwaitTimeout blocks until resolution or the timeout, whichever first.
func (f *Future[T]) AwaitTimeout(d time.Duration) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-time.After(d):
		var zero T
		return zero, ErrTimeout
	}
}

// Done exposes the resolution signal for use in select statements.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Resolved reports whether the future has been settled, without blocking.
func (f *Future[T]) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// All awaits every future in order and returns the values, or the first
// error encountered.
func All[T any](futures []*Future[T]) ([]T, error) {
	out := make([]T, 0, len(futures))
	for _, f := range futures {
		v, err := f.Await()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// First returns the result of whichever future resolves first.
func First[T any](futures []*Future[T]) (T, error) {
	if len(futures) == 0 {
		var zero T
		return zero, errors.New("future: First on empty set")
	}
	type settled struct {
		value T
		err   error
	}
	ch := make(chan settled, len(futures))
	for _, f := range futures {
		go func(f *Future[T]) {
			v, err := f.Await()
			ch <- settled{v, err}
		}(f)
	}
	s := <-ch
	return s.value, s.err
}
