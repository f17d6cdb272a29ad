package worker

import (
	"context"
	"sync"

	"github.com/watchgrid/proximity.report/internal/monitoring"
)

// Job pairs a worker with its frame source.
type Job struct {
	Worker *Worker
	Source FrameSource
}

// Pool runs source workers with at most maxParallel active at a time.
// Additional sources wait for a slot; each source keeps its frames strictly
// in order regardless of pool scheduling.
type Pool struct {
	maxParallel int
}

// NewPool creates a pool. maxParallel values below 1 are treated as 1.
func NewPool(maxParallel int) *Pool {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Pool{maxParallel: maxParallel}
}

// Run executes all jobs and blocks until every one has finished or ctx is
// cancelled. Individual worker errors are logged, not propagated; one bad
// camera must not take down the rest.
func (p *Pool) Run(ctx context.Context, jobs []Job) {
	sem := make(chan struct{}, p.maxParallel)
	var wg sync.WaitGroup

	for _, job := range jobs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}

		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := j.Worker.Run(ctx, j.Source); err != nil && ctx.Err() == nil {
				monitoring.Logf("worker %s: %v", j.Worker.config.SourceID, err)
			}
		}(job)
	}
	wg.Wait()
}
