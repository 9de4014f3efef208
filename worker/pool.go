// Package worker runs fire-and-forget jobs on a fixed set of goroutines fed
// by a bounded queue.
package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/fxassist/internal/id"
	"github.com/rustyeddy/fxassist/metrics"
)

// Job is one unit of work. Its error is logged, never returned to the
// submitter.
type Job struct {
	ID   string
	Name string
	Run  func(ctx context.Context) error
}

type Pool struct {
	size int
	jobs chan Job
	log  zerolog.Logger
}

func New(size, queue int, log zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queue <= 0 {
		queue = size
	}
	return &Pool{
		size: size,
		jobs: make(chan Job, queue),
		log:  log.With().Str("component", "worker").Logger(),
	}
}

// Submit queues fn without blocking. When the queue is full the job is
// dropped and ok is false.
func (p *Pool) Submit(name string, fn func(ctx context.Context) error) (jobID string, ok bool) {
	j := Job{ID: id.New(), Name: name, Run: fn}
	select {
	case p.jobs <- j:
		return j.ID, true
	default:
		metrics.JobsDroppedTotal.Inc()
		p.log.Warn().Str("job", name).Str("job_id", j.ID).Msg("queue full, job dropped")
		return "", false
	}
}

// Pending is the number of queued jobs not yet picked up.
func (p *Pool) Pending() int { return len(p.jobs) }

// Run starts the workers and blocks until ctx is done and every running job
// has returned. Jobs still queued at that point are discarded. Running jobs
// are not cancelled with ctx so an order in flight is allowed to complete.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	jobCtx := context.WithoutCancel(gctx)

	for w := 0; w < p.size; w++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case j := <-p.jobs:
					p.run(jobCtx, j)
				}
			}
		})
	}
	return g.Wait()
}

func (p *Pool) run(ctx context.Context, j Job) {
	log := p.log.With().Str("job", j.Name).Str("job_id", j.ID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Err(fmt.Errorf("panic: %v", r)).Msg("job panicked")
		}
	}()
	if err := j.Run(ctx); err != nil {
		log.Error().Err(err).Msg("job failed")
		return
	}
	log.Debug().Msg("job done")
}
