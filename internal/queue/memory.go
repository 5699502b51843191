package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Broker for single-instance deployments
// without Redis. Jobs are lost on restart.
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string]chan *Job
	size   int
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{queues: make(map[string]chan *Job), size: size}
}

func (q *MemoryQueue) ch(name string) chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.queues[name]
	if !ok {
		c = make(chan *Job, q.size)
		q.queues[name] = c
	}
	return c
}

func (q *MemoryQueue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()
	select {
	case q.ch(queueName) <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue returns nil, nil when nothing arrives within timeout.
func (q *MemoryQueue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	select {
	case job := <-q.ch(queueName):
		return job, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return int64(len(q.ch(queueName))), nil
}
