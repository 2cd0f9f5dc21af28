package concurrency

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"quill/internal/object"
)

// TaskBody is the interpreter's entry point for one iteration: execute the
// block body in the task's isolated environment and return its value.
type TaskBody func(env *object.Environment) (object.Object, error)

// CompletionCallback is invoked exactly once when a task finishes, with the
// task id, its result (nil on failure) and whether it succeeded.
type CompletionCallback func(taskID int, result object.Object, success bool)

// ErrorFrame mirrors one of the VM's error-handler frames. Tasks carry a
// copy of the enclosing function's frames so error propagation semantics
// survive the thread boundary.
type ErrorFrame struct {
	HandlerAddress int
	StackBase      int
	ErrorType      string
	FunctionName   string
}

// TaskContext carries one loop iteration's execution parameters. The
// completed/cancelled flags live here, shared by every executor attempt for
// the task, which is what makes completion and cancellation at-most-once
// per task rather than per attempt.
type TaskContext struct {
	TaskID         int
	LoopVar        string
	IterationValue object.Object
	Env            *object.Environment
	Body           TaskBody

	ErrorFrames  []ErrorFrame
	Strategy     ErrorHandlingStrategy
	ErrorChannel *Channel[ErrorValue]

	completed atomic.Bool
	cancelled atomic.Bool
}

func NewTaskContext(id int, loopVar string, value object.Object) *TaskContext {
	return &TaskContext{
		TaskID:         id,
		LoopVar:        loopVar,
		IterationValue: value,
		Strategy:       StrategyStop,
	}
}

func (c *TaskContext) Completed() bool { return c.completed.Load() }
func (c *TaskContext) Cancelled() bool { return c.cancelled.Load() }

// TaskExecutor runs one task in isolation: a private child scope seeded
// with the loop variable, a private copy of the error frames, cooperative
// cancellation checks before and after the body, and at-most-once
// result/error delivery.
type TaskExecutor struct {
	ctx           *TaskContext
	collector     *ErrorCollector
	resultChannel *Channel[object.Object]
	errorChannel  *Channel[ErrorValue]
	errorFrames   []ErrorFrame

	onComplete CompletionCallback

	timeMu    sync.Mutex
	startTime time.Time
	endTime   time.Time
}

// NewTaskExecutor wires a task up for execution. A nil context or collector
// is a caller bug and fails immediately rather than degrading silently.
func NewTaskExecutor(ctx *TaskContext, collector *ErrorCollector,
	resultChannel *Channel[object.Object], errorChannel *Channel[ErrorValue]) (*TaskExecutor, error) {

	if ctx == nil {
		return nil, errors.New("task context cannot be nil")
	}
	if collector == nil {
		return nil, errors.New("error collector cannot be nil")
	}
	if errorChannel == nil {
		errorChannel = ctx.ErrorChannel
	}

	frames := make([]ErrorFrame, len(ctx.ErrorFrames))
	copy(frames, ctx.ErrorFrames)

	return &TaskExecutor{
		ctx:           ctx,
		collector:     collector,
		resultChannel: resultChannel,
		errorChannel:  errorChannel,
		errorFrames:   frames,
	}, nil
}

func (t *TaskExecutor) SetCompletionCallback(cb CompletionCallback) {
	t.onComplete = cb
}

func (t *TaskExecutor) TaskID() int                   { return t.ctx.TaskID }
func (t *TaskExecutor) LoopVariable() string          { return t.ctx.LoopVar }
func (t *TaskExecutor) IterationValue() object.Object { return t.ctx.IterationValue }
func (t *TaskExecutor) Completed() bool               { return t.ctx.Completed() }
func (t *TaskExecutor) Cancelled() bool               { return t.ctx.Cancelled() }

// Execute runs the task body. Cancellation is checked cooperatively before
// and after the body; there is no preemption, so a running body finishes
// even if the task is cancelled mid-flight (its result is then discarded).
// Returns the result on success or the recorded error on failure; a
// cancelled task returns neither.
func (t *TaskExecutor) Execute() (object.Object, *ErrorValue) {
	if t.ctx.Cancelled() {
		t.Cancel()
		return nil, nil
	}

	t.timeMu.Lock()
	t.startTime = time.Now()
	t.timeMu.Unlock()

	result, err := t.runBody()

	if t.ctx.Cancelled() {
		t.Cancel()
		return nil, nil
	}

	if err != nil {
		ev := ErrorValue{ErrorType: ErrTaskExecution, Message: err.Error()}
		t.handleTaskError(ev)
		// Under Retry the orchestrator decides when the task is spent, so
		// an intermediate failed attempt must not settle it.
		if t.ctx.Strategy != StrategyRetry {
			t.Complete(nil)
		}
		return nil, &ev
	}

	if result == nil {
		result = object.NIL
	}
	t.Complete(result)
	return result, nil
}

// runBody builds the isolated scope, binds the loop variable and invokes
// the body, turning panics into errors.
func (t *TaskExecutor) runBody() (result object.Object, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic in task body: %v", r)
		}
	}()

	parent := t.ctx.Env
	if parent == nil {
		parent = object.NewEnvironment()
	}
	env := object.NewEnclosedEnvironment(parent)
	if t.ctx.LoopVar != "" && t.ctx.IterationValue != nil {
		if _, defErr := env.Define(t.ctx.LoopVar, t.ctx.IterationValue, false); defErr != nil {
			return nil, defErr
		}
	}

	if t.ctx.Body == nil {
		// No body supplied: the task yields its iteration value.
		slog.Debug("task has no body, yielding iteration value",
			slog.Int("task", t.ctx.TaskID))
		return t.ctx.IterationValue, nil
	}
	return t.ctx.Body(env)
}

// handleTaskError records the error in the shared collector and forwards it
// on the error channel if one is configured. What happens to the block's
// other tasks is the orchestrator's call, per the configured strategy.
func (t *TaskExecutor) handleTaskError(ev ErrorValue) {
	t.collector.Add(ev)
	if t.errorChannel != nil {
		t.errorChannel.Send(ev)
	}
}

// Complete settles the task at most once across all executor attempts: the
// result (if any) goes to the result channel and the completion callback
// fires with (task_id, result, success). Later calls are no-ops.
func (t *TaskExecutor) Complete(result object.Object) {
	if !t.ctx.completed.CompareAndSwap(false, true) {
		return
	}

	t.timeMu.Lock()
	t.endTime = time.Now()
	t.timeMu.Unlock()

	if result != nil && t.resultChannel != nil {
		t.resultChannel.Send(result)
	}
	if t.onComplete != nil {
		t.onComplete(t.ctx.TaskID, result, result != nil)
	}
}

// Cancel settles the task as cancelled, at most once. A TaskCancelled error
// is emitted on the error channel if one is configured; no result is ever
// delivered for a cancelled task.
func (t *TaskExecutor) Cancel() {
	if !t.ctx.cancelled.CompareAndSwap(false, true) {
		return
	}

	t.timeMu.Lock()
	t.endTime = time.Now()
	t.timeMu.Unlock()

	if t.errorChannel != nil {
		t.errorChannel.Send(ErrorValue{
			ErrorType: ErrTaskCancelled,
			Message:   fmt.Sprintf("task %d was cancelled", t.ctx.TaskID),
		})
	}
}

// Duration reports how long the task ran; for a still-running task it is
// the time since start.
func (t *TaskExecutor) Duration() time.Duration {
	t.timeMu.Lock()
	defer t.timeMu.Unlock()
	if t.startTime.IsZero() {
		return 0
	}
	if t.endTime.IsZero() {
		return time.Since(t.startTime)
	}
	return t.endTime.Sub(t.startTime)
}
