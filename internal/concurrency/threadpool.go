package concurrency

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// idleWait bounds how long an idle worker sleeps before re-checking its
// queue and the shutdown flag. Kept short so Stop is observed promptly.
const idleWait = 10 * time.Millisecond

// workerQueue is one worker's double-ended task queue. The owner pops from
// the front; thieves pop from the back under a try-lock so two workers can
// never deadlock waiting on each other's queue.
type workerQueue struct {
	mu    sync.Mutex
	tasks []Task
	wake  chan struct{}
}

func newWorkerQueue() *workerQueue {
	return &workerQueue{wake: make(chan struct{}, 1)}
}

func (q *workerQueue) pushBack(task Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	q.signal()
}

// popFront takes the oldest task. FIFO on a worker's own queue keeps its
// submissions fair.
func (q *workerQueue) popFront() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return task, true
}

// trySteal takes the newest task without blocking. Returning false on lock
// contention is deliberate: the thief just moves on to the next victim.
func (q *workerQueue) trySteal() (Task, bool) {
	if !q.mu.TryLock() {
		return nil, false
	}
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	last := len(q.tasks) - 1
	task := q.tasks[last]
	q.tasks[last] = nil
	q.tasks = q.tasks[:last]
	return task, true
}

func (q *workerQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *workerQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// ThreadPool runs a fixed set of worker goroutines over per-worker deques
// with work stealing. Each worker prefers its own queue, then steals from
// peers, then polls the global scheduler queue.
type ThreadPool struct {
	mu         sync.Mutex
	numWorkers int
	scheduler  *Scheduler
	queues     []*workerQueue
	wg         sync.WaitGroup
	running    bool

	shutdownRequested atomic.Bool
	activeWorkers     atomic.Int64
}

func NewThreadPool(numWorkers int, scheduler *Scheduler) *ThreadPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	p := &ThreadPool{
		numWorkers: numWorkers,
		scheduler:  scheduler,
	}
	p.queues = makeQueues(numWorkers)
	return p
}

func makeQueues(n int) []*workerQueue {
	queues := make([]*workerQueue, n)
	for i := range queues {
		queues[i] = newWorkerQueue()
	}
	return queues
}

// Start launches the worker goroutines. No-op if already running.
func (p *ThreadPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.shutdownRequested.Store(false)
	p.running = true

	p.wg.Add(p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		go p.workerLoop(i)
	}
}

// Stop signals shutdown and joins all workers. Queued tasks that no worker
// picked up before observing the flag are dropped; the global scheduler
// queue is left open so the pool can be restarted.
func (p *ThreadPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.shutdownRequested.Store(true)
	queues := p.queues
	p.mu.Unlock()

	for _, q := range queues {
		q.signal()
	}
	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

// SetWorkerCount stops the pool and restarts it with a new worker count.
// This is expensive and never done on the hot path.
func (p *ThreadPool) SetWorkerCount(count int) {
	if count < 1 {
		count = 1
	}
	p.mu.Lock()
	same := count == p.numWorkers
	p.mu.Unlock()
	if same {
		return
	}

	p.Stop()

	p.mu.Lock()
	p.numWorkers = count
	p.queues = makeQueues(count)
	p.mu.Unlock()

	p.Start()
}

func (p *ThreadPool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numWorkers
}

// SubmitToWorker places a task on a specific worker's queue for explicit
// load balancing. Out-of-range ids fall back to modulo placement.
func (p *ThreadPool) SubmitToWorker(workerID int, task Task) {
	p.mu.Lock()
	queues := p.queues
	n := p.numWorkers
	p.mu.Unlock()

	if workerID < 0 || workerID >= n {
		workerID = ((workerID % n) + n) % n
	}
	queues[workerID].pushBack(task)
}

// WorkerQueueSize reports the depth of one worker's local queue.
func (p *ThreadPool) WorkerQueueSize(workerID int) int {
	p.mu.Lock()
	queues := p.queues
	n := p.numWorkers
	p.mu.Unlock()
	if workerID < 0 || workerID >= n {
		return 0
	}
	return queues[workerID].size()
}

// TotalQueuedTasks sums every worker's local queue depth.
func (p *ThreadPool) TotalQueuedTasks() int {
	p.mu.Lock()
	queues := p.queues
	p.mu.Unlock()
	total := 0
	for _, q := range queues {
		total += q.size()
	}
	return total
}

// StealWork scans the other workers' queues round-robin starting after the
// thief and takes from the back of the first victim whose lock is free.
// Stealing recently queued work keeps it cache-warm for the thief and stays
// clear of the victim's own front pop.
func (p *ThreadPool) StealWork(thiefID int) (Task, bool) {
	p.mu.Lock()
	queues := p.queues
	n := p.numWorkers
	p.mu.Unlock()

	for i := 1; i < n; i++ {
		victim := (thiefID + i) % n
		if task, ok := queues[victim].trySteal(); ok {
			return task, true
		}
	}
	return nil, false
}

// ActiveWorkers reports how many worker loops are currently live.
func (p *ThreadPool) ActiveWorkers() int {
	return int(p.activeWorkers.Load())
}

func (p *ThreadPool) workerLoop(workerID int) {
	defer p.wg.Done()
	p.activeWorkers.Add(1)
	defer p.activeWorkers.Add(-1)

	p.mu.Lock()
	own := p.queues[workerID]
	p.mu.Unlock()

	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	for !p.shutdownRequested.Load() {
		task, ok := own.popFront()
		if !ok {
			task, ok = p.StealWork(workerID)
		}
		if !ok {
			task, ok = p.scheduler.PollTask()
		}

		if ok {
			p.runTask(workerID, task)
			continue
		}

		// Nothing anywhere: sleep until new local work or the bounded
		// timeout so shutdown is observed without busy-spinning.
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(idleWait)
		select {
		case <-own.wake:
		case <-timer.C:
		}
	}
}

// runTask executes one task, containing any panic so a failing task cannot
// take the worker down. The discarded panic is always logged.
func (p *ThreadPool) runTask(workerID int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panic swallowed at worker loop boundary",
				slog.Int("worker", workerID),
				slog.Any("panic", r))
		}
	}()
	task()
}
