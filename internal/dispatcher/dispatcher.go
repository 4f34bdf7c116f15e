// Package dispatcher manages worker fan-out over a shared job source.
package dispatcher

import (
	"context"
	"sync"
)

// Runner is one worker loop. Run blocks until the context finishes.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out to a pool of workers.
type Dispatcher struct {
	workers []Runner
}

// New creates a Dispatcher.
func New(workers ...Runner) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}
