package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRecorderBuffer is the number of writes the recorder queues before
// it starts dropping them.
const DefaultRecorderBuffer = 1024

type recordJob struct {
	name string
	fn   func(ctx context.Context) error
	done chan struct{}
}

// recorder moves history writes off the sequencer's goroutine. Writes run
// in submission order on one worker.
type recorder struct {
	logger  zerolog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	jobs   chan recordJob
	wg     sync.WaitGroup
}

func newRecorder(logger zerolog.Logger, buffer int) *recorder {
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}
	r := &recorder{
		logger:  logger,
		timeout: 5 * time.Second,
		jobs:    make(chan recordJob, buffer),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *recorder) loop() {
	defer r.wg.Done()
	for job := range r.jobs {
		if job.fn != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := job.fn(ctx); err != nil {
				r.logger.Warn().Err(err).Str("record", job.name).Msg("failed to record")
			}
			cancel()
		}
		if job.done != nil {
			close(job.done)
		}
	}
}

// submit queues fn. It never blocks; a full queue drops the write.
func (r *recorder) submit(name string, fn func(ctx context.Context) error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.jobs <- recordJob{name: name, fn: fn}:
	default:
		r.logger.Warn().Str("record", name).Msg("record queue full, dropping")
	}
}

// flush waits until every write queued before the call has run.
func (r *recorder) flush() {
	done := make(chan struct{})
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	r.jobs <- recordJob{name: "flush", done: done}
	r.mu.RUnlock()
	<-done
}

// close drains queued writes and stops the worker.
func (r *recorder) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()
	r.wg.Wait()
}
