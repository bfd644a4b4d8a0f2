package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/pbaity/hubscript/internal/logger"
	"github.com/pbaity/hubscript/internal/queue"
	"github.com/pbaity/hubscript/pkg/models"
)

// Processor handles a dequeued event. The dispatcher implements it.
type Processor interface {
	Process(ctx context.Context, event models.Event) error
}

// Pool runs MaxConcurrency workers that feed queued events to a Processor.
type Pool struct {
	config     models.ApplicationSettings
	eventQueue *queue.EventQueue
	processor  Processor
	wg         sync.WaitGroup
	cancelCtx  context.CancelFunc
}

// NewPool creates a new worker pool.
func NewPool(cfg models.ApplicationSettings, eq *queue.EventQueue, proc Processor) *Pool {
	return &Pool{
		config:     cfg,
		eventQueue: eq,
		processor:  proc,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	concurrency := p.config.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
		logger.L().Warn("MaxConcurrency not set or invalid, defaulting to 1", "configured_value", p.config.MaxConcurrency)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancelCtx = cancel

	logger.L().Info("Starting worker pool", "concurrency", concurrency)
	p.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go p.worker(ctx, i)
	}
}

// Stop cancels in-flight processing and waits for every worker to exit.
func (p *Pool) Stop() {
	logger.L().Info("Stopping worker pool...")
	if p.cancelCtx != nil {
		p.cancelCtx()
	}
	p.wg.Wait()
	logger.L().Info("Worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger.L().Debug("Worker started", "worker_id", id)

	for {
		event, err := p.eventQueue.Dequeue(ctx)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				logger.L().Debug("Worker stopping: context done", "worker_id", id)
			case errors.Is(err, queue.ErrQueueStopped):
				logger.L().Debug("Worker stopping: event queue stopped", "worker_id", id)
			default:
				logger.L().Error("Worker failed to dequeue event", "worker_id", id, "error", err)
			}
			return
		}

		l := logger.L().With("worker_id", id, "event_id", event.ID, "kind", event.Kind)
		l.Debug("Worker processing event")
		if processErr := p.processor.Process(ctx, event); processErr != nil {
			if errors.Is(processErr, context.Canceled) {
				l.Warn("Event processing interrupted by shutdown", "error", processErr)
			} else {
				l.Error("Worker failed to process event", "error", processErr)
			}
		} else {
			l.Debug("Worker finished processing event")
		}

		if ctx.Err() != nil {
			return
		}
	}
}
