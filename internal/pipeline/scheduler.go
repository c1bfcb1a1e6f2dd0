package pipeline

import (
	"context"
	"runtime"

	"github.com/sirupsen/logrus"
)

// Scheduler runs Pipeline.Process across many documents through a
// bounded worker pool: documents are processed concurrently up to a
// fixed worker count, and enqueuing beyond capacity blocks rather
// than drops. Each path is handled by exactly one worker at a time
// only if EnqueueFunc callers do not resubmit a path already in
// flight: the Scheduler does not deduplicate, and internal/watch's
// inflight set covers a path only until Enqueue accepts it.
type Scheduler struct {
	p       *Pipeline
	queue   chan string
	log     *logrus.Entry
	done    chan struct{}
	workers int
}

// NewScheduler starts a Scheduler with the pipeline's configured
// worker count (default min(NumCPU, 4)).
func NewScheduler(p *Pipeline, log *logrus.Entry) *Scheduler {
	workers := p.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers > 4 {
			workers = 4
		}
		if workers < 1 {
			workers = 1
		}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Scheduler{p: p, queue: make(chan string, workers*4), log: log, done: make(chan struct{}), workers: workers}
	return s
}

// Run starts the worker pool and blocks until ctx is cancelled and
// every in-flight document has returned.
func (s *Scheduler) Run(ctx context.Context) {
	workerDone := make(chan struct{}, s.workers)
	for i := 0; i < s.workers; i++ {
		go func() {
			defer func() { workerDone <- struct{}{} }()
			for {
				select {
				case <-ctx.Done():
					return
				case path, ok := <-s.queue:
					if !ok {
						return
					}
					s.process(ctx, path)
				}
			}
		}()
	}
	// The queue channel is deliberately never closed: Enqueue may race
	// with shutdown, and workers already exit via ctx.Done.
	<-ctx.Done()
	for i := 0; i < s.workers; i++ {
		<-workerDone
	}
	close(s.done)
}

func (s *Scheduler) process(ctx context.Context, path string) {
	res, err := s.p.Process(ctx, path)
	if err != nil {
		s.log.WithError(err).WithField("path", path).Error("pipeline: document processing failed")
		return
	}
	s.log.WithField("paper_id", res.Paper.ID).WithField("version", res.Version).Info("pipeline: document activated")
}

// Enqueue blocks until path is accepted onto the queue or ctx is
// cancelled, satisfying watch.EnqueueFunc's backpressure contract.
func (s *Scheduler) Enqueue(ctx context.Context, path string) {
	select {
	case s.queue <- path:
	case <-ctx.Done():
	}
}
