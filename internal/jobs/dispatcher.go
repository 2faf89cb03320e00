package jobs

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagecapture/internal/orchestrator"
	"github.com/JakeFAU/pagecapture/internal/progress"
)

// Runner executes one job. orchestrator.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, job orchestrator.Job) (orchestrator.Result, error)
}

// Dispatcher fans queued jobs out to a fixed pool of runners.
type Dispatcher struct {
	queue       Queue
	runner      Runner
	broadcast   progress.Emitter
	hooks       []Hook
	concurrency int
	logger      *zap.Logger
}

// NewDispatcher creates a Dispatcher. broadcast receives every job's events
// in addition to the job's own journal; hooks run after each job.
func NewDispatcher(
	queue Queue,
	runner Runner,
	broadcast progress.Emitter,
	concurrency int,
	logger *zap.Logger,
	hooks ...Hook,
) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:       queue,
		runner:      runner,
		broadcast:   broadcast,
		hooks:       hooks,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run starts the runners and blocks until ctx ends and all of them return.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			d.loop(ctx, d.logger.With(zap.Int("runner", slot)))
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, logger *zap.Logger) {
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("queue dequeue failed", zap.Error(err))
			return
		}
		logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		d.Process(ctx, item)
	}
}

// Process runs a single item and its hooks and returns what the hooks saw.
func (d *Dispatcher) Process(ctx context.Context, item Item) *Completion {
	res, err := d.runner.Run(ctx, orchestrator.Job{
		ID:    item.JobID,
		Pairs: item.Pairs,
		Sink:  progress.Tee{item.Journal, d.broadcast},
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Warn("job aborted", zap.String("job_id", item.JobID), zap.Error(err))
	}
	c := &Completion{Result: res, Source: item.Source, Err: err}
	for _, h := range d.hooks {
		if herr := h.AfterJob(ctx, c); herr != nil {
			d.logger.Warn("post-job hook failed",
				zap.String("job_id", item.JobID),
				zap.String("hook", h.Name()),
				zap.Error(herr),
			)
		}
	}
	return c
}
