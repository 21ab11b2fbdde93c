package core

import (
	"container/heap"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// TaskPriority defines task urgency levels (lower value means higher priority).
type TaskPriority int

const (
	TaskPriorityHigh   TaskPriority = 0
	TaskPriorityMedium TaskPriority = 1
	TaskPriorityLow    TaskPriority = 2
)

// PriorityOf ranks fresh map tasks first, retried map tasks next and reduce
// tasks last.
func PriorityOf(task *Task) TaskPriority {
	switch {
	case task.Type == TaskTypeReduce:
		return TaskPriorityLow
	case task.Failures > 0:
		return TaskPriorityMedium
	default:
		return TaskPriorityHigh
	}
}

// ErrQueueEmpty is returned when Pop() or Top() is called on an empty queue.
var ErrQueueEmpty = errors.New("priority queue is empty")

// TaskPriorityQueue holds the pending tasks of one job. Tasks with the same
// priority are served in FIFO order and a task is queued at most once.
type TaskPriorityQueue interface {
	// Push queues task. Pushing a task that is already queued moves it to
	// the back of the given priority.
	Push(task *Task, priority TaskPriority) error
	Pop() (*Task, error)
	Top() (*Task, error)
	// Remove drops the queued task with the given id and reports whether it
	// was queued.
	Remove(id uuid.UUID) bool
	Len() int
}

type taskQueue struct {
	mu      sync.RWMutex
	heap    taskHeap
	byID    map[uuid.UUID]*queued
	counter uint64
}

func NewTaskPriorityQueue() TaskPriorityQueue {
	return &taskQueue{byID: make(map[uuid.UUID]*queued)}
}

func (q *taskQueue) Push(task *Task, priority TaskPriority) error {
	if task == nil {
		return errors.New("cannot push nil task")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.counter++
	if e, ok := q.byID[task.ID]; ok {
		e.task = task
		e.priority = priority
		e.seq = q.counter
		heap.Fix(&q.heap, e.index)
		return nil
	}

	e := &queued{task: task, priority: priority, seq: q.counter}
	heap.Push(&q.heap, e)
	q.byID[task.ID] = e
	return nil
}

func (q *taskQueue) Pop() (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil, ErrQueueEmpty
	}
	e := heap.Pop(&q.heap).(*queued)
	delete(q.byID, e.task.ID)
	return e.task, nil
}

func (q *taskQueue) Top() (*Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.heap) == 0 {
		return nil, ErrQueueEmpty
	}
	return q.heap[0].task, nil
}

func (q *taskQueue) Remove(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, e.index)
	delete(q.byID, id)
	return true
}

func (q *taskQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.heap)
}

type queued struct {
	task     *Task
	priority TaskPriority
	seq      uint64
	index    int
}

// taskHeap orders by priority, then by push order.
type taskHeap []*queued

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	e := x.(*queued)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
