// Package worker provides background processing for feature recomputation.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
)

// Recomputer is the slice of the orchestrator the pool needs.
type Recomputer interface {
	Recompute(ctx context.Context, trackID string) (domain.FeatureRecord, error)
}

// Job is one background recompute request.
type Job struct {
	TrackID string
}

// Pool manages background workers that refresh cached feature records.
type Pool struct {
	svc  Recomputer
	jobs chan Job
	wg   sync.WaitGroup
	log  *log.Logger

	jobTimeout time.Duration
}

// NewPool creates a worker pool with the given queue size.
func NewPool(svc Recomputer, queueSize int, logger *log.Logger) *Pool {
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{
		svc:        svc,
		jobs:       make(chan Job, queueSize),
		log:        logger,
		jobTimeout: 3 * time.Minute,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.processJob(job)
			}
		}()
	}
}

// Stop waits for workers to finish after closing the queue.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
}

// Submit queues a job without blocking. Jobs are dropped with a warning when
// the queue is full; a stale record will simply be retried on a later sweep.
func (p *Pool) Submit(job Job) {
	select {
	case p.jobs <- job:
	default:
		p.log.Warn("recompute queue full, dropping job", "track", job.TrackID)
	}
}

func (p *Pool) processJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.jobTimeout)
	defer cancel()

	rec, err := p.svc.Recompute(ctx, job.TrackID)
	if err != nil {
		p.log.Warn("background recompute failed", "track", job.TrackID, "err", err)
		return
	}
	p.log.Debug("recomputed track", "track", job.TrackID, "provider", rec.Provider)
}
