package persist

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Queue runs persistence jobs on a small worker pool with a bounded buffer.
// Submissions that find the buffer full are dropped and logged; the game
// flow never waits on the database.
type Queue struct {
	jobs   chan job
	wg     sync.WaitGroup
	once   sync.Once
	logger zerolog.Logger
}

type job struct {
	name string
	fn   func(context.Context) error
}

// NewQueue starts workers goroutines draining a buffer of depth jobs.
func NewQueue(workers, depth int, logger zerolog.Logger) *Queue {
	q := &Queue{
		jobs:   make(chan job, depth),
		logger: logger.With().Str("component", "persist").Logger(),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		if err := j.fn(context.Background()); err != nil {
			q.logger.Error().Err(err).Str("job", j.name).Msg("persistence job failed")
		}
	}
}

// Submit enqueues a job. Returns false when the buffer is full and the job
// was dropped.
func (q *Queue) Submit(name string, fn func(context.Context) error) bool {
	select {
	case q.jobs <- job{name: name, fn: fn}:
		return true
	default:
		q.logger.Warn().Str("job", name).Msg("persistence queue full, dropping job")
		return false
	}
}

// Close drains the remaining jobs and stops the workers.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.jobs) })
	q.wg.Wait()
}
