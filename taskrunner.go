package lakemark

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// TaskRunner fans tasks out to a bounded number of goroutines. Marker listing
// and deletion use it to honor the caller's parallelism hint; the hint only
// affects throughput, never results.
type TaskRunner struct {
	maxThreadCount int
	eg             *errgroup.Group
	limiterChan    chan bool
	context        context.Context
}

// NewTaskRunner creates a TaskRunner allowing up to maxThreadCount concurrent
// tasks. A hint below one is clamped to one.
func NewTaskRunner(ctx context.Context, maxThreadCount int) *TaskRunner {
	if maxThreadCount < 1 {
		maxThreadCount = 1
	}
	eg, ctx2 := errgroup.WithContext(ctx)
	return &TaskRunner{
		maxThreadCount: maxThreadCount,
		limiterChan:    make(chan bool, maxThreadCount),
		eg:             eg,
		context:        ctx2,
	}
}

func (tr *TaskRunner) GetContext() context.Context {
	return tr.context
}

func (tr *TaskRunner) Go(task func() error) {
	// Occupy a thread slot.
	tr.limiterChan <- true
	tr.eg.Go(func() error {
		// Free up this thread slot whether or not the task failed; a leaked
		// slot would block every later Go call once parallelism tasks errored.
		defer func() {
			<-tr.limiterChan
		}()
		return task()
	})
}

// Wrapper to errgroup.Wait.
func (tr *TaskRunner) Wait() error {
	defer close(tr.limiterChan)
	return tr.eg.Wait()
}
