// Package queue implements the two-tier pending-task container.
//
// Tasks queue into four FIFO sub-levels, one per priority. The critical and
// high sub-levels form the priority tier, normal and low form the normal
// tier. Dispatch scans sub-levels in priority order and never reorders the
// tasks it skips.
package queue

import (
	"sync"

	"yqhp/conductor/pkg/types"
)

const levelCount = 4

// TaskQueue holds pending tasks in priority order.
// All methods are safe for concurrent use.
type TaskQueue struct {
	mu     sync.Mutex
	levels [levelCount][]*types.Task
	size   int
}

// NewTaskQueue creates an empty task queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Push appends the task to the sub-level matching its priority.
func (q *TaskQueue) Push(task *types.Task) {
	if task == nil {
		return
	}
	rank := task.Priority.Rank()
	if rank >= levelCount {
		rank = types.PriorityNormal.Rank()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.levels[rank] = append(q.levels[rank], task)
	q.size++
}

// PopFor removes and returns the first queued task whose required
// capabilities are covered by capabilities, scanning critical, high,
// normal, low in order. Skipped tasks keep their relative order.
// Returns nil when no queued task matches.
func (q *TaskQueue) PopFor(capabilities []string) *types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for rank := 0; rank < levelCount; rank++ {
		for i, task := range q.levels[rank] {
			if types.HasAllCapabilities(capabilities, task.RequiredCapabilities) {
				q.levels[rank] = append(q.levels[rank][:i], q.levels[rank][i+1:]...)
				q.size--
				return task
			}
		}
	}
	return nil
}

// Remove deletes the queued task with the given id and returns it,
// or nil if the task is not queued.
func (q *TaskQueue) Remove(taskID string) *types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for rank := 0; rank < levelCount; rank++ {
		for i, task := range q.levels[rank] {
			if task.ID == taskID {
				q.levels[rank] = append(q.levels[rank][:i], q.levels[rank][i+1:]...)
				q.size--
				return task
			}
		}
	}
	return nil
}

// Len returns the total number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Depths returns the queued task count per tier.
func (q *TaskQueue) Depths() types.QueueDepths {
	q.mu.Lock()
	defer q.mu.Unlock()
	return types.QueueDepths{
		Priority: len(q.levels[0]) + len(q.levels[1]),
		Normal:   len(q.levels[2]) + len(q.levels[3]),
	}
}

// Drain removes and returns all queued tasks in dispatch order.
func (q *TaskQueue) Drain() []*types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := make([]*types.Task, 0, q.size)
	for rank := 0; rank < levelCount; rank++ {
		drained = append(drained, q.levels[rank]...)
		q.levels[rank] = nil
	}
	q.size = 0
	return drained
}
