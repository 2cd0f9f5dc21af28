package concurrency

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrorHandlingStrategy governs how task failures affect the remaining
// tasks of a block.
type ErrorHandlingStrategy int

const (
	// StrategyStop aborts the remaining tasks in the block on first error.
	StrategyStop ErrorHandlingStrategy = iota
	// StrategyAuto lets every task run to completion, collecting all errors.
	StrategyAuto
	// StrategyRetry re-submits a failed task up to a bounded attempt count.
	StrategyRetry
)

func (s ErrorHandlingStrategy) String() string {
	switch s {
	case StrategyStop:
		return "stop"
	case StrategyAuto:
		return "auto"
	case StrategyRetry:
		return "retry"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a configuration string onto a strategy.
func ParseStrategy(s string) (ErrorHandlingStrategy, error) {
	switch s {
	case "stop", "":
		return StrategyStop, nil
	case "auto":
		return StrategyAuto, nil
	case "retry":
		return StrategyRetry, nil
	default:
		return StrategyStop, fmt.Errorf("unknown error handling strategy %q", s)
	}
}

const (
	// stopDrainTimeout bounds how long Stop waits for active blocks before
	// force-proceeding with teardown.
	stopDrainTimeout = 5 * time.Second
	drainPoll        = 10 * time.Millisecond
	activePoll       = time.Millisecond
)

// ConcurrencyRuntime is the composition root: one scheduler, one
// work-stealing pool, one event loop, one channel manager and one error
// collector, with a process-wide start/stop lifecycle.
type ConcurrencyRuntime struct {
	scheduler      *Scheduler
	threadPool     *ThreadPool
	eventLoop      *EventLoop
	channelManager *ChannelManager
	errorCollector *ErrorCollector

	activeBlocks      atomic.Int64
	shutdownRequested atomic.Bool
	loopOnce          sync.Once

	strategyMu sync.Mutex
	strategy   ErrorHandlingStrategy
}

// NewRuntime builds a runtime with the given worker count. Zero or negative
// means detected hardware parallelism, never less than two workers.
func NewRuntime(numWorkers int) (*ConcurrencyRuntime, error) {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
		if numWorkers < 2 {
			numWorkers = 2
		}
	}

	loop, err := NewEventLoop()
	if err != nil {
		return nil, fmt.Errorf("event loop init: %w", err)
	}

	scheduler := NewScheduler()
	rt := &ConcurrencyRuntime{
		scheduler:      scheduler,
		threadPool:     NewThreadPool(numWorkers, scheduler),
		eventLoop:      loop,
		channelManager: NewChannelManager(),
		errorCollector: NewErrorCollector(),
	}
	return rt, nil
}

// Start launches the thread pool. The event loop starts lazily on first
// use. No-op once shutdown has been requested.
func (rt *ConcurrencyRuntime) Start() {
	if rt.shutdownRequested.Load() {
		return
	}
	rt.threadPool.Start()
}

// EnsureEventLoop starts the event loop on its own goroutine the first time
// an I/O-bound block needs it.
func (rt *ConcurrencyRuntime) EnsureEventLoop() {
	rt.loopOnce.Do(func() {
		go rt.eventLoop.Run()
	})
}

// Stop shuts the runtime down: request shutdown, wait (bounded) for active
// blocks to drain, close managed channels, stop the event loop, stop the
// pool, shut the scheduler down. Safe to call more than once.
func (rt *ConcurrencyRuntime) Stop() {
	rt.RequestShutdown()

	deadline := time.Now().Add(stopDrainTimeout)
	for rt.activeBlocks.Load() > 0 {
		if time.Now().After(deadline) {
			slog.Warn("forcing runtime shutdown with active blocks",
				slog.Int64("active", rt.activeBlocks.Load()))
			break
		}
		time.Sleep(drainPoll)
	}

	rt.channelManager.CloseAll()
	rt.eventLoop.Stop()
	rt.threadPool.Stop()
	rt.scheduler.Shutdown()
}

func (rt *ConcurrencyRuntime) RequestShutdown() {
	rt.shutdownRequested.Store(true)
}

func (rt *ConcurrencyRuntime) IsShutdownRequested() bool {
	return rt.shutdownRequested.Load()
}

// Component accessors.
func (rt *ConcurrencyRuntime) Scheduler() *Scheduler            { return rt.scheduler }
func (rt *ConcurrencyRuntime) ThreadPool() *ThreadPool          { return rt.threadPool }
func (rt *ConcurrencyRuntime) EventLoop() *EventLoop            { return rt.eventLoop }
func (rt *ConcurrencyRuntime) ChannelManager() *ChannelManager  { return rt.channelManager }
func (rt *ConcurrencyRuntime) ErrorCollector() *ErrorCollector  { return rt.errorCollector }

func (rt *ConcurrencyRuntime) SetErrorHandlingStrategy(s ErrorHandlingStrategy) {
	rt.strategyMu.Lock()
	defer rt.strategyMu.Unlock()
	rt.strategy = s
}

func (rt *ConcurrencyRuntime) ErrorHandlingStrategy() ErrorHandlingStrategy {
	rt.strategyMu.Lock()
	defer rt.strategyMu.Unlock()
	return rt.strategy
}

// Active-block accounting: incremented on block entry, decremented on exit.
func (rt *ConcurrencyRuntime) IncrementActiveBlocks() { rt.activeBlocks.Add(1) }
func (rt *ConcurrencyRuntime) DecrementActiveBlocks() { rt.activeBlocks.Add(-1) }

func (rt *ConcurrencyRuntime) ActiveBlockCount() int {
	return int(rt.activeBlocks.Load())
}

// WaitForActiveBlocks polls until every active block has exited or shutdown
// is requested.
func (rt *ConcurrencyRuntime) WaitForActiveBlocks() {
	for rt.activeBlocks.Load() > 0 && !rt.shutdownRequested.Load() {
		time.Sleep(activePoll)
	}
}
