package sched

import "sync"

// Processor tracks the single logical CPU's current task, matching
// os/src/task/processor.rs's Processor struct. The real kernel's
// __switch assembly stub (spec.md §9: "require an externally provided
// routine with the stated save/load semantics") is outside what a host
// simulation can express; this models the bookkeeping side — which
// item is current and how the ready queue hands off to it — and performs
// no register/stack switching at all (task.Manager's Schedule/Suspend
// only update each PCB's status and stride around it).
type Processor[T Item] struct {
	mu      sync.Mutex
	queue   *Queue
	current T
	hasCur  bool
}

// NewProcessor builds a Processor driven by queue.
func NewProcessor[T Item](queue *Queue) *Processor[T] {
	return &Processor[T]{queue: queue}
}

// Current returns the currently running item, if any.
func (p *Processor[T]) Current() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.hasCur
}

// TakeCurrent clears and returns the current item (used by
// suspend/exit paths that need to detach the running task before
// re-queueing or discarding it).
func (p *Processor[T]) TakeCurrent() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.current, p.hasCur
	var zero T
	p.current, p.hasCur = zero, false
	return cur, ok
}

// Schedule pops the next minimum-stride item from the queue and installs
// it as current, returning it, matching run_tasks' fetch→mark
// Running→install loop minus the assembly switch.
func (p *Processor[T]) Schedule() (T, bool) {
	item, ok := p.queue.PopMin()
	var zero T
	if !ok {
		return zero, false
	}
	t, ok := item.(T)
	if !ok {
		return zero, false
	}
	p.mu.Lock()
	p.current, p.hasCur = t, true
	p.mu.Unlock()
	return t, true
}
