// Package worker runs side-effect jobs off the hub's event loop.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/mossy-p/meeting-signaling/internal/logging"
)

var log = logging.Logger("worker")

// Job is one unit of work. It receives a context bounded by the queue's
// per-job timeout.
type Job func(ctx context.Context) error

// Queue executes jobs in submission order on a single goroutine. Submit never
// blocks: when the buffer is full the job is dropped and logged.
type Queue struct {
	name    string
	jobs    chan Job
	timeout time.Duration

	once sync.Once
	done chan struct{}
}

func NewQueue(name string, size int, timeout time.Duration) *Queue {
	return &Queue{
		name:    name,
		jobs:    make(chan Job, size),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Submit enqueues a job. Returns false if it was dropped.
func (q *Queue) Submit(job Job) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.jobs <- job:
		return true
	default:
		log.Warnf("%s queue full, dropping job", q.name)
		return false
	}
}

// Run processes jobs until ctx is cancelled, then drains what is already
// queued so the last membership changes are not lost.
func (q *Queue) Run(ctx context.Context) {
	defer q.once.Do(func() { close(q.done) })
	for {
		select {
		case job := <-q.jobs:
			q.exec(job)
		case <-ctx.Done():
			for {
				select {
				case job := <-q.jobs:
					q.exec(job)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) exec(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if err := job(ctx); err != nil {
		log.Warnf("%s job failed: %v", q.name, err)
	}
}
