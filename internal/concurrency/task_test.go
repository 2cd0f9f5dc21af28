package concurrency

import (
	"errors"
	"sync/atomic"
	"testing"

	"quill/internal/object"
)

func num(v float64) *object.Number { return &object.Number{Value: v} }

func TestNewTaskExecutorValidation(t *testing.T) {
	ctx := NewTaskContext(0, "x", num(1))
	collector := NewErrorCollector()

	if _, err := NewTaskExecutor(nil, collector, nil, nil); err == nil {
		t.Error("nil context accepted")
	}
	if _, err := NewTaskExecutor(ctx, nil, nil, nil); err == nil {
		t.Error("nil collector accepted")
	}
	if _, err := NewTaskExecutor(ctx, collector, nil, nil); err != nil {
		t.Errorf("valid arguments rejected: %v", err)
	}
}

func TestExecuteBindsLoopVariable(t *testing.T) {
	ctx := NewTaskContext(3, "item", num(21))
	ctx.Body = func(env *object.Environment) (object.Object, error) {
		v, ok := env.Get("item")
		if !ok {
			return nil, errors.New("loop variable not bound")
		}
		return num(v.(*object.Number).Value * 2), nil
	}

	ex, err := NewTaskExecutor(ctx, NewErrorCollector(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	result, ev := ex.Execute()
	if ev != nil {
		t.Fatalf("Execute() error = %v", ev)
	}
	if result.(*object.Number).Value != 42 {
		t.Errorf("result = %s, want 42", result.Inspect())
	}
}

// The task scope is a child of the block scope: reads see the parent,
// writes to the loop variable do not leak out.
func TestExecuteScopeIsolation(t *testing.T) {
	parent := object.NewEnvironment()
	if _, err := parent.Define("base", num(10), false); err != nil {
		t.Fatal(err)
	}

	ctx := NewTaskContext(0, "n", num(5))
	ctx.Env = parent
	ctx.Body = func(env *object.Environment) (object.Object, error) {
		base, _ := env.Get("base")
		n, _ := env.Get("n")
		return num(base.(*object.Number).Value + n.(*object.Number).Value), nil
	}

	ex, _ := NewTaskExecutor(ctx, NewErrorCollector(), nil, nil)
	result, ev := ex.Execute()
	if ev != nil {
		t.Fatalf("Execute() error = %v", ev)
	}
	if result.(*object.Number).Value != 15 {
		t.Errorf("result = %s, want 15", result.Inspect())
	}
	if _, ok := parent.Get("n"); ok {
		t.Error("loop variable leaked into the parent scope")
	}
}

func TestExecuteWithoutBodyYieldsIterationValue(t *testing.T) {
	ctx := NewTaskContext(0, "x", num(9))
	ex, _ := NewTaskExecutor(ctx, NewErrorCollector(), nil, nil)
	result, ev := ex.Execute()
	if ev != nil {
		t.Fatalf("Execute() error = %v", ev)
	}
	if result.(*object.Number).Value != 9 {
		t.Errorf("result = %s, want the iteration value 9", result.Inspect())
	}
}

func TestExecuteNilResultBecomesNil(t *testing.T) {
	ctx := NewTaskContext(0, "x", num(1))
	ctx.Body = func(env *object.Environment) (object.Object, error) {
		return nil, nil
	}
	ex, _ := NewTaskExecutor(ctx, NewErrorCollector(), nil, nil)
	result, ev := ex.Execute()
	if ev != nil {
		t.Fatalf("Execute() error = %v", ev)
	}
	if result != object.NIL {
		t.Errorf("result = %v, want the NIL singleton", result)
	}
}

func TestExecuteCollectsBodyError(t *testing.T) {
	collector := NewErrorCollector()
	errCh := NewChannel[ErrorValue]()

	ctx := NewTaskContext(0, "x", num(1))
	ctx.Body = func(env *object.Environment) (object.Object, error) {
		return nil, errors.New("division by zero")
	}

	ex, _ := NewTaskExecutor(ctx, collector, nil, errCh)
	result, ev := ex.Execute()
	if result != nil {
		t.Errorf("result = %v on failure, want nil", result)
	}
	if ev == nil || ev.ErrorType != ErrTaskExecution {
		t.Fatalf("error = %v, want a TaskExecutionError", ev)
	}
	if collector.Count() != 1 {
		t.Errorf("collector.Count() = %d, want 1", collector.Count())
	}
	if got, ok := errCh.TryReceive(); !ok || got.ErrorType != ErrTaskExecution {
		t.Errorf("error channel got (%v, %v), want a TaskExecutionError", got, ok)
	}
}

func TestExecuteContainsPanic(t *testing.T) {
	ctx := NewTaskContext(0, "x", num(1))
	ctx.Body = func(env *object.Environment) (object.Object, error) {
		panic("body exploded")
	}
	ex, _ := NewTaskExecutor(ctx, NewErrorCollector(), nil, nil)
	_, ev := ex.Execute()
	if ev == nil || ev.ErrorType != ErrTaskExecution {
		t.Fatalf("error = %v, want a TaskExecutionError from the panic", ev)
	}
}

// Complete settles the task exactly once no matter how often it is called.
func TestCompleteAtMostOnce(t *testing.T) {
	resultCh := NewChannel[object.Object]()
	ctx := NewTaskContext(0, "x", num(1))
	ex, _ := NewTaskExecutor(ctx, NewErrorCollector(), resultCh, nil)

	var fired atomic.Int64
	ex.SetCompletionCallback(func(id int, result object.Object, success bool) {
		fired.Add(1)
		if id != 0 || !success {
			t.Errorf("callback got (id=%d, success=%v), want (0, true)", id, success)
		}
	})

	ex.Complete(num(1))
	ex.Complete(num(2))
	ex.Complete(num(3))

	if fired.Load() != 1 {
		t.Errorf("callback fired %d times, want 1", fired.Load())
	}
	if resultCh.Len() != 1 {
		t.Errorf("result channel holds %d values, want 1", resultCh.Len())
	}
}

func TestCancelEmitsTaskCancelledOnce(t *testing.T) {
	errCh := NewChannel[ErrorValue]()
	ctx := NewTaskContext(7, "x", num(1))
	ex, _ := NewTaskExecutor(ctx, NewErrorCollector(), nil, errCh)

	ex.Cancel()
	ex.Cancel()

	if !ex.Cancelled() {
		t.Error("Cancelled() = false after Cancel")
	}
	if errCh.Len() != 1 {
		t.Fatalf("error channel holds %d values, want 1", errCh.Len())
	}
	ev, _ := errCh.TryReceive()
	if ev.ErrorType != ErrTaskCancelled {
		t.Errorf("error type = %s, want %s", ev.ErrorType, ErrTaskCancelled)
	}
}

// A pre-cancelled task never runs its body and never completes.
func TestExecuteSkipsCancelledTask(t *testing.T) {
	ctx := NewTaskContext(0, "x", num(1))
	bodyRan := false
	ctx.Body = func(env *object.Environment) (object.Object, error) {
		bodyRan = true
		return num(1), nil
	}

	ex, _ := NewTaskExecutor(ctx, NewErrorCollector(), nil, nil)
	ex.Cancel()

	result, ev := ex.Execute()
	if result != nil || ev != nil {
		t.Errorf("Execute() on cancelled task = (%v, %v), want (nil, nil)", result, ev)
	}
	if bodyRan {
		t.Error("body ran for a cancelled task")
	}
	if ex.Completed() {
		t.Error("cancelled task marked completed")
	}
}

// The context's flags are shared by all executors for the task, so a second
// executor cannot complete a task the first already settled.
func TestCompletionFlagSharedAcrossExecutors(t *testing.T) {
	ctx := NewTaskContext(0, "x", num(1))
	collector := NewErrorCollector()
	first, _ := NewTaskExecutor(ctx, collector, nil, nil)
	second, _ := NewTaskExecutor(ctx, collector, nil, nil)

	var fired atomic.Int64
	cb := func(id int, result object.Object, success bool) { fired.Add(1) }
	first.SetCompletionCallback(cb)
	second.SetCompletionCallback(cb)

	first.Complete(num(1))
	second.Complete(num(2))

	if fired.Load() != 1 {
		t.Errorf("callback fired %d times across executors, want 1", fired.Load())
	}
}
