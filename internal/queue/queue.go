package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrQueueClosed = errors.New("queue is closed")
	errQueueEmpty  = errors.New("queue is empty")
)

// Task is a unit of media work for one catalog row.
type Task struct {
	ID        string
	ProductID string
	URLs      []string
	Hint      string
	Priority  int
	CreatedAt time.Time
}

// InMemoryQueue hands out tasks by descending priority, FIFO within a priority.
type InMemoryQueue struct {
	tasks  []*Task
	mu     sync.Mutex
	notify chan struct{}
	closed bool
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		notify: make(chan struct{}, 1),
	}
}

func (q *InMemoryQueue) Push(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	q.tasks = append(q.tasks, task)
	sort.SliceStable(q.tasks, func(i, j int) bool {
		return q.tasks[i].Priority > q.tasks[j].Priority
	})

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop blocks until a task is available. After Close it drains the remaining
// tasks and then returns ErrQueueClosed.
func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	for {
		task, err := q.tryPop()
		if err == nil {
			return task, nil
		}
		if !errors.Is(err, errQueueEmpty) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *InMemoryQueue) tryPop() (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		if q.closed {
			return nil, ErrQueueClosed
		}
		return nil, errQueueEmpty
	}

	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return task, nil
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.notify)
	return nil
}
