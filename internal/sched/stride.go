// Package sched implements the stride scheduler of spec.md §4.8: a
// single ready queue of minimum-stride selection with a deadloop guard,
// grounded on the source's TaskManager (os/src/task/manager.rs) and its
// BIG_STRIDE accounting in task.rs.
package sched

import "sync"

// BigStride is the stride increment numerator; priority divides it.
const BigStride = 255

// MaxStride is the deadloop-guard ceiling: a task whose accumulated
// stride exceeds this is silently dropped from the queue rather than
// risking wraparound, matching usize::MAX/2 in the source.
const MaxStride = ^uint64(0) / 2

// MinPriority and MaxPriority bound the priority range accepted by
// set_priority (spec.md §9's resolved Open Question: reject priority <
// 2, clamp the upper bound to 255).
const (
	MinPriority = 2
	MaxPriority = 255
)

// Item is anything the scheduler can order: a task's stride and
// priority. Defined as an interface rather than embedding the PCB type
// directly so this package has no dependency on internal/task (task
// depends on sched, not the reverse), matching the layering between
// manager.rs and task.rs in the source.
type Item interface {
	Stride() uint64
	SetStride(uint64)
	Priority() int
}

// Queue is a FIFO-ordered ready list with minimum-stride-first
// selection, serialized by its own lock per spec.md §5.
type Queue struct {
	mu    sync.Mutex
	items []Item
	total uint64
}

// NewQueue constructs an empty ready queue.
func NewQueue() *Queue { return &Queue{} }

// Push appends it to the back of the queue (insertion order, used as
// the tie-break for equal strides).
func (q *Queue) Push(it Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, it)
}

// PopMin removes and returns the item with the smallest stride,
// breaking ties by insertion order, then advances its stride by
// BigStride/priority. If the item's new stride exceeds MaxStride it is
// dropped instead of returned and PopMin tries the next-smallest item
// (the deadloop guard in spec.md §4.8).
func (q *Queue) PopMin() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if len(q.items) == 0 {
			return nil, false
		}
		minIdx := 0
		for i, it := range q.items[1:] {
			if it.Stride() < q.items[minIdx].Stride() {
				minIdx = i + 1
			}
		}
		chosen := q.items[minIdx]
		q.items = append(q.items[:minIdx], q.items[minIdx+1:]...)

		next := chosen.Stride() + BigStride/uint64(chosen.Priority())
		chosen.SetStride(next)
		q.total += BigStride / uint64(chosen.Priority())
		if next > MaxStride {
			continue // deadloop guard: drop and keep scanning
		}
		return chosen, true
	}
}

// Len reports the number of items currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// TotalStride returns the accumulated stride awarded across every
// PopMin call so far, a diagnostic matching the source's total_stride.
func (q *Queue) TotalStride() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// ValidatePriority applies the resolved Open Question from spec.md §9:
// a priority below MinPriority is rejected outright (ok=false, the
// caller's set_priority syscall returns -1 without changing state); a
// priority above MaxPriority is accepted but clamped down to it.
func ValidatePriority(p int) (clamped int, ok bool) {
	if p < MinPriority {
		return 0, false
	}
	if p > MaxPriority {
		return MaxPriority, true
	}
	return p, true
}
