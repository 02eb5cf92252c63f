package urlsession

import "sync"

// OperationQueue runs operations one at a time, in submission order, on a
// dedicated goroutine.
type OperationQueue struct {
	mu     sync.Mutex
	ops    []func()
	closed bool
	signal chan struct{}
	done   chan struct{}
}

// NewOperationQueue starts a serial queue.
func NewOperationQueue() *OperationQueue {
	q := &OperationQueue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.loop()
	return q
}

// AddOperation enqueues op. It returns false once the queue is closed.
func (q *OperationQueue) AddOperation(op func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.ops = append(q.ops, op)
	q.mu.Unlock()

	q.wake()
	return true
}

// Close stops accepting operations. Operations already queued still run.
func (q *OperationQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Done is closed once the queue has been closed and drained.
func (q *OperationQueue) Done() <-chan struct{} {
	return q.done
}

func (q *OperationQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *OperationQueue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.ops) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.signal
			q.mu.Lock()
		}
		op := q.ops[0]
		q.ops[0] = nil
		q.ops = q.ops[1:]
		q.mu.Unlock()

		op()
	}
}
