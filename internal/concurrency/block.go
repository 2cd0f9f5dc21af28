package concurrency

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"quill/internal/object"
)

// BlockType distinguishes CPU-bound parallel blocks from I/O-bound
// concurrent blocks.
type BlockType int

const (
	BlockParallel BlockType = iota
	BlockConcurrent
)

func (t BlockType) String() string {
	switch t {
	case BlockParallel:
		return "parallel"
	case BlockConcurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("block(%d)", int(t))
	}
}

// ExecutionMode selects how a block delivers its results.
type ExecutionMode int

const (
	// ModeBatch waits for every task and returns the collected results.
	ModeBatch ExecutionMode = iota
	// ModeStream pipes results through a channel as tasks finish.
	ModeStream
	// ModeAsync returns one future per task immediately.
	ModeAsync
)

func (m ExecutionMode) String() string {
	switch m {
	case ModeBatch:
		return "batch"
	case ModeStream:
		return "stream"
	case ModeAsync:
		return "async"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// TimeoutAction decides what a timed-out block reports.
type TimeoutAction int

const (
	// TimeoutPartial returns whatever completed before the deadline.
	TimeoutPartial TimeoutAction = iota
	// TimeoutError treats the timeout itself as a block failure.
	TimeoutError
)

// DefaultGracePeriod is how long a timed-out block waits for in-flight
// tasks to settle before collecting.
const DefaultGracePeriod = 500 * time.Millisecond

// BlockExecutionState is the aggregate state for one concurrent/parallel
// block: its policies, its tasks, and the thread-safe result collection.
type BlockExecutionState struct {
	Kind          BlockType
	Mode          ExecutionMode
	Cores         int
	Strategy      ErrorHandlingStrategy
	Timeout       time.Duration
	GracePeriod   time.Duration
	TimeoutAction TimeoutAction

	OutputChannel     *Channel[object.Object]
	OutputChannelName string

	tasks []*TaskContext

	completedTasks atomic.Int64
	failedTasks    atomic.Int64
	totalTasks     atomic.Int64

	startTime time.Time
	deadline  time.Time

	resultsMu sync.Mutex
	results   []object.Object
}

func NewBlockState(kind BlockType) *BlockExecutionState {
	return &BlockExecutionState{
		Kind:        kind,
		GracePeriod: DefaultGracePeriod,
		startTime:   time.Now(),
	}
}

// SetTimeout fixes the block deadline relative to its start time. A zero
// timeout means the block never times out.
func (b *BlockExecutionState) SetTimeout(d time.Duration) {
	b.Timeout = d
	if d > 0 {
		b.deadline = b.startTime.Add(d)
	}
}

// IsTimedOut reports whether the deadline has passed. Only meaningful when
// a timeout was set.
func (b *BlockExecutionState) IsTimedOut() bool {
	if b.Timeout <= 0 {
		return false
	}
	return !time.Now().Before(b.deadline)
}

// AddTask registers one iteration with the block. Task ids are assigned by
// the caller and must be unique within the block.
func (b *BlockExecutionState) AddTask(ctx *TaskContext) {
	ctx.Strategy = b.Strategy
	b.tasks = append(b.tasks, ctx)
	b.totalTasks.Add(1)
}

// SpawnTasks creates one TaskContext per iteration value, all sharing the
// parent scope and body. Ids are the iteration indexes, unique per block.
func (b *BlockExecutionState) SpawnTasks(loopVar string, values []object.Object,
	parent *object.Environment, body TaskBody) {

	for i, v := range values {
		ctx := NewTaskContext(i, loopVar, v)
		ctx.Env = parent
		ctx.Body = body
		b.AddTask(ctx)
	}
}

func (b *BlockExecutionState) Tasks() []*TaskContext {
	return b.tasks
}

func (b *BlockExecutionState) AddResult(result object.Object) {
	b.resultsMu.Lock()
	defer b.resultsMu.Unlock()
	b.results = append(b.results, result)
}

// Results returns a copy of the collected results.
func (b *BlockExecutionState) Results() []object.Object {
	b.resultsMu.Lock()
	defer b.resultsMu.Unlock()
	out := make([]object.Object, len(b.results))
	copy(out, b.results)
	return out
}

func (b *BlockExecutionState) IncrementCompleted() { b.completedTasks.Add(1) }
func (b *BlockExecutionState) IncrementFailed()    { b.failedTasks.Add(1) }

func (b *BlockExecutionState) CompletedTasks() int { return int(b.completedTasks.Load()) }
func (b *BlockExecutionState) FailedTasks() int    { return int(b.failedTasks.Load()) }
func (b *BlockExecutionState) TotalTasks() int     { return int(b.totalTasks.Load()) }

func (b *BlockExecutionState) AllTasksCompleted() bool {
	return b.completedTasks.Load() >= b.totalTasks.Load()
}

// CompletionPercentage is completed/total in [0,1]; an empty block is
// vacuously complete.
func (b *BlockExecutionState) CompletionPercentage() float64 {
	total := b.totalTasks.Load()
	if total == 0 {
		return 1.0
	}
	return float64(b.completedTasks.Load()) / float64(total)
}

func (b *BlockExecutionState) StartTime() time.Time { return b.startTime }
