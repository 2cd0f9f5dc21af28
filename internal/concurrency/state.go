package concurrency

import "sync"

// ConcurrencyStats tracks aggregate execution statistics for one VM
// instance. All counters are safe for concurrent update.
type ConcurrencyStats struct {
	TasksExecuted    int64
	TasksFailed      int64
	BlocksExecuted   int64
	ErrorsHandled    int64
	TimeoutsOccurred int64
	ChannelsCreated  int64

	mu sync.Mutex
}

func (s *ConcurrencyStats) add(field *int64, delta int64) {
	s.mu.Lock()
	*field += delta
	s.mu.Unlock()
}

func (s *ConcurrencyStats) Snapshot() (executed, failed, blocks, errors, timeouts, channels int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TasksExecuted, s.TasksFailed, s.BlocksExecuted,
		s.ErrorsHandled, s.TimeoutsOccurred, s.ChannelsCreated
}

func (s *ConcurrencyStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TasksExecuted = 0
	s.TasksFailed = 0
	s.BlocksExecuted = 0
	s.ErrorsHandled = 0
	s.TimeoutsOccurred = 0
	s.ChannelsCreated = 0
}

// SuccessRate is successful/executed, vacuously 1.0 when nothing ran.
func (s *ConcurrencyStats) SuccessRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TasksExecuted == 0 {
		return 1.0
	}
	return float64(s.TasksExecuted-s.TasksFailed) / float64(s.TasksExecuted)
}

// ConcurrencyState is the VM-facing façade: one runtime, a stack of block
// states for nested concurrent/parallel blocks, and aggregate statistics.
type ConcurrencyState struct {
	runtime *ConcurrencyRuntime
	Stats   ConcurrencyStats

	mu         sync.Mutex
	blockStack []*BlockExecutionState
}

// NewConcurrencyState builds and starts a runtime. One instance exists per
// VM and lives as long as it.
func NewConcurrencyState(numWorkers int) (*ConcurrencyState, error) {
	rt, err := NewRuntime(numWorkers)
	if err != nil {
		return nil, err
	}
	rt.Start()
	return &ConcurrencyState{runtime: rt}, nil
}

func (s *ConcurrencyState) Runtime() *ConcurrencyRuntime {
	return s.runtime
}

// Close stops the underlying runtime. Called on VM teardown.
func (s *ConcurrencyState) Close() {
	s.runtime.Stop()
}

// PushBlock enters a nested block: the runtime's active-block counter and
// the stack move together under one lock so their depths always agree.
func (s *ConcurrencyState) PushBlock(block *BlockExecutionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtime.IncrementActiveBlocks()
	s.blockStack = append(s.blockStack, block)
	s.Stats.add(&s.Stats.BlocksExecuted, 1)
}

// PopBlock leaves the innermost block, returning nil (not an error) when
// the stack is already empty.
func (s *ConcurrencyState) PopBlock() *BlockExecutionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.blockStack) == 0 {
		return nil
	}
	top := s.blockStack[len(s.blockStack)-1]
	s.blockStack = s.blockStack[:len(s.blockStack)-1]
	s.runtime.DecrementActiveBlocks()
	return top
}

// CurrentBlock returns the innermost block, or nil outside any block.
func (s *ConcurrencyState) CurrentBlock() *BlockExecutionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.blockStack) == 0 {
		return nil
	}
	return s.blockStack[len(s.blockStack)-1]
}

func (s *ConcurrencyState) IsInConcurrentBlock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blockStack) > 0
}

// BlockNestingLevel is the depth of the block stack.
func (s *ConcurrencyState) BlockNestingLevel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blockStack)
}
