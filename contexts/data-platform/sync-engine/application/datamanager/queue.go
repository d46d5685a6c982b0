package datamanager

import (
	"sync"

	"dashsync/contexts/data-platform/sync-engine/domain/entities"
)

// Queue is the ordered list of pending operations recorded while the remote
// tiers were unreachable. Operations taken for replay stay in flight, and in
// every snapshot, until they are settled. It is safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	inflight []entities.PendingOperation
	ops      []entities.PendingOperation
}

func NewQueue(seed []entities.PendingOperation) *Queue {
	return &Queue{ops: append([]entities.PendingOperation(nil), seed...)}
}

// Append adds ops to the tail in the order given.
func (q *Queue) Append(ops ...entities.PendingOperation) {
	q.mu.Lock()
	q.ops = append(q.ops, ops...)
	q.mu.Unlock()
}

// Begin moves every queued operation in flight and returns them. Operations
// recorded afterwards queue behind the in-flight ones.
func (q *Queue) Begin() []entities.PendingOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight = append(q.inflight, q.ops...)
	q.ops = nil
	return append([]entities.PendingOperation(nil), q.inflight...)
}

// Settle removes the in-flight operation with id.
func (q *Queue) Settle(id string) {
	q.mu.Lock()
	q.settle(id)
	q.mu.Unlock()
}

// Requeue settles op and puts it back at the tail with its updated state.
func (q *Queue) Requeue(op entities.PendingOperation) {
	q.mu.Lock()
	q.settle(op.ID)
	q.ops = append(q.ops, op)
	q.mu.Unlock()
}

func (q *Queue) settle(id string) {
	for i, op := range q.inflight {
		if op.ID == id {
			q.inflight = append(q.inflight[:i:i], q.inflight[i+1:]...)
			return
		}
	}
}

// Snapshot returns a copy of the queue, in-flight operations first.
func (q *Queue) Snapshot() []entities.PendingOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]entities.PendingOperation, 0, len(q.inflight)+len(q.ops))
	out = append(out, q.inflight...)
	return append(out, q.ops...)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight) + len(q.ops)
}

// Restore prepends ops loaded from storage ahead of anything queued since
// process start.
func (q *Queue) Restore(ops []entities.PendingOperation) {
	if len(ops) == 0 {
		return
	}
	q.mu.Lock()
	q.ops = append(append([]entities.PendingOperation(nil), ops...), q.ops...)
	q.mu.Unlock()
}

// DropOldest removes operations from the head until at most limit remain
// queued, and returns what it removed. In-flight operations are kept.
func (q *Queue) DropOldest(limit int) []entities.PendingOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	excess := len(q.inflight) + len(q.ops) - limit
	if limit <= 0 || excess <= 0 {
		return nil
	}
	if excess > len(q.ops) {
		excess = len(q.ops)
	}
	dropped := append([]entities.PendingOperation(nil), q.ops[:excess]...)
	q.ops = append([]entities.PendingOperation(nil), q.ops[excess:]...)
	return dropped
}
