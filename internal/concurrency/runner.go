package concurrency

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"quill/internal/object"
	"quill/internal/util/future"
)

const (
	// maxRetryAttempts bounds total attempts per task under the retry
	// strategy, the first run included.
	maxRetryAttempts = 3
	// retryBackoff is multiplied by the attempt number before a re-submit.
	retryBackoff = 10 * time.Millisecond
	// completionPoll is how often a waiting block re-checks its deadline.
	completionPoll = 5 * time.Millisecond
)

// BlockResult is what a finished batch block reports back to the VM.
type BlockResult struct {
	Results  []object.Object
	Errors   []ErrorValue
	TimedOut bool

	Completed int
	Failed    int
	Total     int
}

// blockRun drives one block to completion: it owns the per-block error
// channel, the executors, and the settle accounting that closes done when
// every task has either completed, finally failed, or been cancelled.
type blockRun struct {
	state *ConcurrencyState
	block *BlockExecutionState
	errCh *Channel[ErrorValue]

	mu        sync.Mutex
	executors map[int]*TaskExecutor
	futures   map[int]*future.Future[object.Object]
	settledBy map[int]bool

	settled  atomic.Int64
	done     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once
}

func newBlockRun(state *ConcurrencyState, block *BlockExecutionState) *blockRun {
	return &blockRun{
		state:     state,
		block:     block,
		errCh:     NewChannel[ErrorValue](),
		executors: make(map[int]*TaskExecutor),
		futures:   make(map[int]*future.Future[object.Object]),
		settledBy: make(map[int]bool),
		done:      make(chan struct{}),
	}
}

// start builds one executor per task and dispatches the first attempts.
// Parallel blocks pin tasks onto workers round-robin; concurrent blocks go
// through the global queue with the event loop running.
func (run *blockRun) start() error {
	tasks := run.block.Tasks()
	if len(tasks) == 0 {
		run.finish()
		return nil
	}

	rt := run.state.Runtime()
	var resultCh *Channel[object.Object]
	if run.block.Mode == ModeStream {
		resultCh = run.block.OutputChannel
	}

	for _, ctx := range tasks {
		ctx.ErrorChannel = run.errCh
		ex, err := NewTaskExecutor(ctx, rt.ErrorCollector(), resultCh, run.errCh)
		if err != nil {
			return err
		}
		ex.SetCompletionCallback(run.onTaskSettled)

		run.mu.Lock()
		run.executors[ctx.TaskID] = ex
		if run.block.Mode == ModeAsync {
			run.futures[ctx.TaskID] = future.Pending[object.Object]()
		}
		run.mu.Unlock()
	}

	if run.block.Kind == BlockConcurrent {
		rt.EnsureEventLoop()
	}

	// Cores caps how many workers a parallel block spreads over; stealing
	// may still rebalance onto idle peers.
	workers := rt.ThreadPool().WorkerCount()
	if run.block.Cores > 0 && run.block.Cores < workers {
		workers = run.block.Cores
	}
	for _, ctx := range tasks {
		run.dispatch(ctx.TaskID, 1, workers)
	}
	return nil
}

func (run *blockRun) dispatch(taskID, attempt, workers int) {
	run.mu.Lock()
	ex := run.executors[taskID]
	run.mu.Unlock()

	task := func() { run.runAttempt(ex, attempt) }
	if run.block.Kind == BlockParallel {
		run.state.Runtime().ThreadPool().SubmitToWorker(taskID%workers, task)
	} else {
		run.state.Runtime().Scheduler().Submit(task)
	}
}

// runAttempt executes one attempt and classifies the outcome. Everything
// that settles a task funnels through here or through cancelRemaining.
func (run *blockRun) runAttempt(ex *TaskExecutor, attempt int) {
	result, ev := ex.Execute()

	switch {
	case ev == nil && result != nil:
		// Success. The executor already fired the completion callback.
		run.settleTask(ex.TaskID())

	case ev == nil && result == nil:
		// Cancelled mid-flight.
		run.settleTask(ex.TaskID())

	case run.block.Strategy == StrategyRetry:
		run.retryOrFail(ex, attempt, ev)

	case run.block.Strategy == StrategyStop:
		run.settleTask(ex.TaskID())
		run.stopOnce.Do(run.cancelRemaining)

	default: // StrategyAuto collects the error and keeps going.
		run.settleTask(ex.TaskID())
	}
}

// retryOrFail re-submits a failed attempt with linear backoff through the
// global queue, or settles the task as finally failed once the attempt
// budget is spent. Every attempt's error has already been collected.
func (run *blockRun) retryOrFail(ex *TaskExecutor, attempt int, ev *ErrorValue) {
	if attempt < maxRetryAttempts && !ex.Cancelled() && !run.block.IsTimedOut() {
		next := attempt + 1
		delay := retryBackoff * time.Duration(attempt)
		time.AfterFunc(delay, func() {
			if ex.Cancelled() || run.block.IsTimedOut() {
				run.finalizeFailure(ex)
				return
			}
			run.state.Runtime().Scheduler().Submit(func() {
				run.runAttempt(ex, next)
			})
		})
		return
	}
	run.finalizeFailure(ex)
}

// finalizeFailure spends the task: completing with a nil result fires the
// callback with success=false, exactly once.
func (run *blockRun) finalizeFailure(ex *TaskExecutor) {
	ex.Complete(nil)
	run.settleTask(ex.TaskID())
}

// onTaskSettled is the executor completion callback: it maintains the block
// counters, the batch result set and the async futures. Fires at most once
// per task.
func (run *blockRun) onTaskSettled(taskID int, result object.Object, success bool) {
	run.state.Stats.add(&run.state.Stats.TasksExecuted, 1)

	if success {
		run.block.IncrementCompleted()
		if run.block.Mode == ModeBatch {
			run.block.AddResult(result)
		}
	} else {
		run.block.IncrementFailed()
		run.state.Stats.add(&run.state.Stats.TasksFailed, 1)
	}

	run.mu.Lock()
	f := run.futures[taskID]
	run.mu.Unlock()
	if f != nil {
		if success {
			f.Complete(result)
		} else {
			f.Fail(ErrorValue{
				ErrorType: ErrTaskExecution,
				Message:   fmt.Sprintf("task %d failed", taskID),
			})
		}
	}
}

// settleTask counts each task toward block completion exactly once, across
// retries and cancellation races.
func (run *blockRun) settleTask(taskID int) {
	run.mu.Lock()
	if run.settledBy[taskID] {
		run.mu.Unlock()
		return
	}
	run.settledBy[taskID] = true
	run.mu.Unlock()

	if run.settled.Add(1) >= int64(run.block.TotalTasks()) {
		run.finish()
	}
}

func (run *blockRun) finish() {
	run.doneOnce.Do(func() { close(run.done) })
}

// cancelRemaining cancels every task that has not completed. Cancelled
// tasks settle immediately so the block waiter cannot deadlock on work that
// will never report back.
func (run *blockRun) cancelRemaining() {
	run.mu.Lock()
	pending := make([]*TaskExecutor, 0, len(run.executors))
	for _, ex := range run.executors {
		if !ex.Completed() {
			pending = append(pending, ex)
		}
	}
	run.mu.Unlock()

	for _, ex := range pending {
		ex.Cancel()
		run.mu.Lock()
		f := run.futures[ex.TaskID()]
		run.mu.Unlock()
		if f != nil {
			f.Fail(ErrorValue{
				ErrorType: ErrTaskCancelled,
				Message:   fmt.Sprintf("task %d was cancelled", ex.TaskID()),
			})
		}
		run.settleTask(ex.TaskID())
	}
}

// wait blocks until every task settles or the block deadline passes.
// Returns whether the block timed out.
func (run *blockRun) wait() bool {
	if run.block.Timeout <= 0 {
		<-run.done
		return false
	}

	ticker := time.NewTicker(completionPoll)
	defer ticker.Stop()
	for {
		select {
		case <-run.done:
			return false
		case <-ticker.C:
			if !run.block.IsTimedOut() {
				continue
			}
			// Deadline passed: stop handing out results, cancel what has
			// not completed, and give in-flight tasks the grace window.
			run.stopOnce.Do(run.cancelRemaining)
			select {
			case <-run.done:
			case <-time.After(run.block.GracePeriod):
			}
			return true
		}
	}
}

// collect drains the per-block error channel into the result after the run
// has settled.
func (run *blockRun) collect(timedOut bool) *BlockResult {
	res := &BlockResult{
		Results:   run.block.Results(),
		TimedOut:  timedOut,
		Completed: run.block.CompletedTasks(),
		Failed:    run.block.FailedTasks(),
		Total:     run.block.TotalTasks(),
	}
	for {
		ev, ok := run.errCh.TryReceive()
		if !ok {
			break
		}
		res.Errors = append(res.Errors, ev)
		run.state.Stats.add(&run.state.Stats.ErrorsHandled, 1)
	}
	run.errCh.Close()
	return res
}

// ExecuteBlock runs a batch block on this state.
func (s *ConcurrencyState) ExecuteBlock(block *BlockExecutionState) (*BlockResult, error) {
	return ExecuteBlock(s, block)
}

// ExecuteStream runs a streaming block on this state.
func (s *ConcurrencyState) ExecuteStream(block *BlockExecutionState) (*Channel[object.Object], error) {
	return ExecuteStream(s, block)
}

// ExecuteAsync runs an async block on this state.
func (s *ConcurrencyState) ExecuteAsync(block *BlockExecutionState) ([]*future.Future[object.Object], error) {
	return ExecuteAsync(s, block)
}

// ExecuteBlock runs a batch block: submit every task, wait for all of them
// (or the deadline) and return the aggregate result. On timeout the
// configured TimeoutAction decides between partial results and an error.
func ExecuteBlock(state *ConcurrencyState, block *BlockExecutionState) (*BlockResult, error) {
	state.PushBlock(block)
	defer state.PopBlock()

	run := newBlockRun(state, block)
	if err := run.start(); err != nil {
		return nil, err
	}

	timedOut := run.wait()
	res := run.collect(timedOut)

	if timedOut {
		state.Stats.add(&state.Stats.TimeoutsOccurred, 1)
		if block.TimeoutAction == TimeoutError {
			ev := ErrorValue{
				ErrorType: ErrBlockTimeout,
				Message:   fmt.Sprintf("block timed out after %s", block.Timeout),
			}
			res.Errors = append(res.Errors, ev)
			return res, ev
		}
		return res, nil
	}

	if block.Strategy == StrategyStop && len(res.Errors) > 0 {
		return res, res.Errors[0]
	}
	return res, nil
}

// ExecuteStream runs a block whose results are piped through its output
// channel as tasks finish. The channel is closed once every task settles,
// so a range-style consumer terminates naturally.
func ExecuteStream(state *ConcurrencyState, block *BlockExecutionState) (*Channel[object.Object], error) {
	if block.OutputChannel == nil {
		name := block.OutputChannelName
		if name == "" {
			name = fmt.Sprintf("stream-%d", time.Now().UnixNano())
		}
		block.OutputChannel = state.Runtime().ChannelManager().Create(name)
		block.OutputChannelName = name
		state.Stats.add(&state.Stats.ChannelsCreated, 1)
	}
	block.Mode = ModeStream

	state.PushBlock(block)
	run := newBlockRun(state, block)
	if err := run.start(); err != nil {
		state.PopBlock()
		return nil, err
	}

	out := block.OutputChannel
	go func() {
		timedOut := run.wait()
		if timedOut {
			state.Stats.add(&state.Stats.TimeoutsOccurred, 1)
		}
		run.collect(timedOut)
		out.Close()
		state.PopBlock()
	}()
	return out, nil
}

// ExecuteAsync runs a block without waiting: it returns one future per
// task, in task order, each resolved when its task completes, finally
// fails, or is cancelled.
func ExecuteAsync(state *ConcurrencyState, block *BlockExecutionState) ([]*future.Future[object.Object], error) {
	block.Mode = ModeAsync

	state.PushBlock(block)
	run := newBlockRun(state, block)
	if err := run.start(); err != nil {
		state.PopBlock()
		return nil, err
	}

	tasks := block.Tasks()
	futures := make([]*future.Future[object.Object], len(tasks))
	run.mu.Lock()
	for i, ctx := range tasks {
		futures[i] = run.futures[ctx.TaskID]
	}
	run.mu.Unlock()

	go func() {
		timedOut := run.wait()
		if timedOut {
			state.Stats.add(&state.Stats.TimeoutsOccurred, 1)
		}
		run.collect(timedOut)
		state.PopBlock()
	}()
	return futures, nil
}
