package concurrency

// A Task is a unit of work with no arguments and no result.
type Task func()

// Scheduler is the global work queue shared by all pool workers. It is a
// thin wrapper around a Channel[Task]; workers fall back to it when their
// local deque is empty and stealing found nothing.
type Scheduler struct {
	taskQueue *Channel[Task]
}

func NewScheduler() *Scheduler {
	return &Scheduler{taskQueue: NewChannel[Task]()}
}

// Submit enqueues a task for any worker to pick up.
func (s *Scheduler) Submit(task Task) {
	s.taskQueue.Send(task)
}

// NextTask blocks for the next task. ok is false once Shutdown has been
// called and the queue has drained.
func (s *Scheduler) NextTask() (Task, bool) {
	return s.taskQueue.Receive()
}

// PollTask is the non-blocking form used by the worker loop.
func (s *Scheduler) PollTask() (Task, bool) {
	return s.taskQueue.TryReceive()
}

// Shutdown closes the queue. Idempotent.
func (s *Scheduler) Shutdown() {
	s.taskQueue.Close()
}

// QueuedTasks reports how many tasks wait in the global queue.
func (s *Scheduler) QueuedTasks() int {
	return s.taskQueue.Len()
}
