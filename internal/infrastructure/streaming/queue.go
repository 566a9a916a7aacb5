package streaming

import (
	"log"

	"github.com/agentkernel/agentkernel/internal/domain/execution"
)

const defaultQueueCapacity = 1000

// dropHook, when set, observes every queue-full drop (wired to the
// Prometheus drop counter at startup). It must never block.
var dropHook func(runID string)

// SetDropHook installs the overflow observer. Call once at startup,
// before any queue is live.
func SetDropHook(hook func(runID string)) {
	dropHook = hook
}

// BoundedQueue is the per-run bounded event queue (SPEC_FULL.md §5, default
// capacity 1000): the Engine and executors never block on a full queue —
// overflow drops the event and logs a warning.
type BoundedQueue struct {
	runID string
	ch    chan execution.ExecutionEvent
}

// NewBoundedQueue creates a queue with the given capacity (0 uses the
// spec's default of 1000).
func NewBoundedQueue(runID string, capacity int) *BoundedQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &BoundedQueue{runID: runID, ch: make(chan execution.ExecutionEvent, capacity)}
}

// Push enqueues an event, dropping it with a logged warning if the queue is
// full (SPEC_FULL.md §4.3: "it never blocks on a full queue").
func (q *BoundedQueue) Push(event execution.ExecutionEvent) {
	select {
	case q.ch <- event:
	default:
		log.Printf("streaming: queue full for run %s, dropping event %q", q.runID, event.Event)
		if dropHook != nil {
			dropHook(q.runID)
		}
	}
}

// Chan exposes the underlying channel for a Merger/consumer to range over.
func (q *BoundedQueue) Chan() <-chan execution.ExecutionEvent {
	return q.ch
}

// Close signals no further events will be pushed; callers must ensure no
// concurrent Push races with Close.
func (q *BoundedQueue) Close() {
	close(q.ch)
}
