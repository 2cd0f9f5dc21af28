package concurrency

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Error types produced by the runtime itself. User code inside a task may
// carry any errorType it likes.
const (
	ErrTaskExecution = "TaskExecutionError"
	ErrTaskCancelled = "TaskCancelled"
	ErrBlockTimeout  = "BlockTimeout"
)

// ErrorValue is the error record collected from tasks.
type ErrorValue struct {
	ErrorType      string
	Message        string
	SourceLocation int
}

func (e ErrorValue) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrorType, e.Message)
}

// ErrorCollector accumulates task errors for one runtime instance. Adding
// and reading are guarded by a mutex; HasErrors is a lock-free fast path so
// the hot loop can skip aggregation when nothing failed.
type ErrorCollector struct {
	mu        sync.Mutex
	errors    []ErrorValue
	hasErrors atomic.Bool
}

func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{}
}

func (c *ErrorCollector) Add(err ErrorValue) {
	c.mu.Lock()
	c.errors = append(c.errors, err)
	c.mu.Unlock()
	c.hasErrors.Store(true)
}

// Errors returns a copy of the collected errors.
func (c *ErrorCollector) Errors() []ErrorValue {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ErrorValue, len(c.errors))
	copy(out, c.errors)
	return out
}

func (c *ErrorCollector) HasErrors() bool {
	return c.hasErrors.Load()
}

func (c *ErrorCollector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errors)
}

func (c *ErrorCollector) Clear() {
	c.mu.Lock()
	c.errors = nil
	c.mu.Unlock()
	c.hasErrors.Store(false)
}
