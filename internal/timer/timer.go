// Package timer implements the ordered-due-time timer scheduler of
// spec.md §4.5: a due-time-ordered structure with FIFO ordering between
// timers that share a due time, ref/unref for event-loop keep-alive, and
// zero-delay clamping.
//
// The underlying structure is a container/heap min-heap of due-time nodes,
// each holding a FIFO list of timers sharing that due time — the idiomatic
// Go substitute for the tree the spec describes, grounded on the timer
// heap in the retrieval pack's eventloop package (container/heap.Push/Pop
// driving a []timer slice ordered by due time).
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// ID identifies a scheduled timer, returned to JS as the setTimeout/
// setInterval handle.
type ID uint32

// Callback is invoked when a timer fires. It receives the id so interval
// timers can be rescheduled by the caller.
type Callback func(id ID)

// entry is one scheduled timer.
type entry struct {
	id       ID
	due      time.Time
	period   time.Duration // rearm interval for repeat timers; meaningless when repeat is false
	repeat   bool          // true for setInterval (even with a zero period), false for setTimeout
	cb       Callback
	refed    bool
	canceled bool
}

// dueNode groups every live timer sharing one due time, preserving
// registration order within the node (spec.md §4.5 "timers due at the same
// time fire in the order they were scheduled").
type dueNode struct {
	due     time.Time
	entries []*entry
}

// nodeHeap is a min-heap of dueNodes ordered by due time.
type nodeHeap []*dueNode

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)         { *h = append(*h, x.(*dueNode)) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return node
}

// minZeroDelay is the clamp applied to a requested delay of zero or less,
// resolving spec.md §9 Open Question (b): a fire time of "now" would sort
// arbitrarily against timers registered in the same tick, so a zero-delay
// timer is clamped to fire no earlier than 1ms after the scheduling call.
const minZeroDelay = time.Millisecond

// maxDelay is the spec.md §4.5 clamp ceiling, 2^31-1 milliseconds — the
// classic browser-quirk ceiling for setTimeout/setInterval delays. Values
// above it clamp down to 1ms rather than overflowing into an immediate or
// negative fire time.
const maxDelay = (1<<31 - 1) * time.Millisecond

// Scheduler tracks every live timer for one isolate. It is not safe for
// concurrent use from multiple goroutines; callers serialize access the
// same way the rest of the isolate host does (spec.md §5, single isolate
// thread).
type Scheduler struct {
	mu     sync.Mutex
	heap   nodeHeap
	byID   map[ID]*entry
	byNode map[ID]*dueNode
	nextID ID
	refed  int // count of refed, live timers — drives HasRef
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		byID:   make(map[ID]*entry),
		byNode: make(map[ID]*dueNode),
	}
}

// Set schedules a one-shot (repeat == false) or repeating (repeat == true)
// timer delay after now, returning its id. New timers are refed by
// default, matching setTimeout/setInterval semantics. period is only
// consulted when repeat is true; clamped the same way delay is, so
// setInterval(fn, 0) rearms every minZeroDelay instead of degrading into a
// one-shot (spec.md §4.5's repeat contract).
func (s *Scheduler) Set(now time.Time, delay time.Duration, period time.Duration, repeat bool, cb Callback) ID {
	delay = clampDelay(delay)
	if repeat {
		period = clampDelay(period)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	e := &entry{id: id, due: now.Add(delay), period: period, repeat: repeat, cb: cb, refed: true}
	s.byID[id] = e
	s.refed++
	s.insertLocked(e)
	return id
}

// clampDelay applies the spec.md §4.5 zero/negative and out-of-range
// clamps shared by a timer's initial delay and, for repeating timers, its
// rearm period.
func clampDelay(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return minZeroDelay
	case d > maxDelay:
		// Browser quirk: an out-of-int32-range delay clamps to ~immediate,
		// not to the ceiling (spec.md §4.5).
		return minZeroDelay
	default:
		return d
	}
}

func (s *Scheduler) insertLocked(e *entry) {
	for _, node := range s.heap {
		if node.due.Equal(e.due) {
			node.entries = append(node.entries, e)
			s.byNode[e.id] = node
			return
		}
	}
	node := &dueNode{due: e.due, entries: []*entry{e}}
	heap.Push(&s.heap, node)
	s.byNode[e.id] = node
}

// Clear cancels a timer. Clearing an unknown or already-fired one-shot id
// is a no-op, matching clearTimeout/clearInterval's JS semantics.
func (s *Scheduler) Clear(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok || e.canceled {
		return
	}
	e.canceled = true
	delete(s.byID, id)
	if e.refed {
		s.refed--
	}
	node := s.byNode[id]
	delete(s.byNode, id)
	if node == nil {
		return
	}
	for i, other := range node.entries {
		if other.id == id {
			node.entries = append(node.entries[:i], node.entries[i+1:]...)
			break
		}
	}
	if len(node.entries) == 0 {
		s.removeNodeLocked(node)
	}
}

func (s *Scheduler) removeNodeLocked(target *dueNode) {
	for i, node := range s.heap {
		if node == target {
			heap.Remove(&s.heap, i)
			return
		}
	}
}

// Ref marks a timer as keeping the event loop alive (spec.md §4.5
// "ref/unref"). No-op on unknown or canceled ids.
func (s *Scheduler) Ref(id ID) { s.setRefed(id, true) }

// Unref marks a timer as not keeping the event loop alive on its own.
func (s *Scheduler) Unref(id ID) { s.setRefed(id, false) }

func (s *Scheduler) setRefed(id ID, refed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok || e.canceled || e.refed == refed {
		return
	}
	e.refed = refed
	if refed {
		s.refed++
	} else {
		s.refed--
	}
}

// HasRef reports whether any live, refed timer remains — the event loop
// driver uses this to decide whether "no work left" should exit rather
// than wait on unref'd timers alone.
func (s *Scheduler) HasRef() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refed > 0
}

// Len reports the number of live timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// NextDue returns the due time of the earliest live timer and true, or the
// zero time and false if no timers are scheduled.
func (s *Scheduler) NextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return time.Time{}, false
	}
	return s.heap[0].due, true
}

// FireDue pops and invokes every timer due at or before now, in due-time
// order and FIFO order within a shared due time. Interval timers are
// rescheduled for their next period before their callback runs, so a
// callback that clears its own interval id takes effect on the next fire.
func (s *Scheduler) FireDue(now time.Time) int {
	fired := 0
	for {
		s.mu.Lock()
		if len(s.heap) == 0 || s.heap[0].due.After(now) {
			s.mu.Unlock()
			break
		}
		node := heap.Pop(&s.heap).(*dueNode)
		entries := node.entries
		for _, e := range entries {
			delete(s.byNode, e.id)
		}
		s.mu.Unlock()

		for _, e := range entries {
			s.mu.Lock()
			canceled := e.canceled
			if !canceled {
				delete(s.byID, e.id)
				if e.refed {
					s.refed--
				}
			}
			s.mu.Unlock()
			if canceled {
				continue
			}

			if e.repeat {
				s.reschedule(e, now)
			}
			e.cb(e.id)
			fired++
		}
	}
	return fired
}

// reschedule re-inserts a periodic timer's entry for its next firing,
// reusing its id and *entry so a callback that clears its own interval id
// cancels this very reinsertion. The next due is max(now, prevDue+period)
// (spec.md §4.5 "repeat rearms with max(now, prev_due + delay) after
// firing"), so a driver that was late to a tick doesn't let an interval
// fire in a tight catch-up burst.
func (s *Scheduler) reschedule(e *entry, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.canceled {
		return
	}
	next := e.due.Add(e.period)
	if next.Before(now) {
		next = now
	}
	e.due = next
	s.byID[e.id] = e
	if e.refed {
		s.refed++
	}
	s.insertLocked(e)
}
