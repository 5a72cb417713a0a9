package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/fixwise/fixwise/internal/log"
)

// Spawner runs detached background tasks with panic recovery. Each
// task gets its own context so it survives the request that spawned
// it. Wait drains all tasks, which shutdown and tests rely on.
type Spawner struct {
	wg      sync.WaitGroup
	logger  log.Logger
	timeout time.Duration
}

// NewSpawner creates a Spawner whose tasks are bounded by timeout.
func NewSpawner(logger log.Logger, timeout time.Duration) *Spawner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Spawner{logger: logger.With("component", "spawner"), timeout: timeout}
}

// Go starts fn in a supervised goroutine.
func (s *Spawner) Go(name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background task panicked", "task", name, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until all spawned tasks finish.
func (s *Spawner) Wait() {
	s.wg.Wait()
}
