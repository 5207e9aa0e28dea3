package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"slack2chat/internal/export"
)

// Processor handles one channel task. Implemented by the channel processor.
type Processor interface {
	Process(ctx context.Context, ch export.Channel) error
}

// Pool manages a pool of workers draining channel tasks.
type Pool struct {
	size      int
	processor Processor
	logger    *zap.Logger
}

// NewPool creates a new worker pool.
func NewPool(size int, processor Processor, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size, processor: processor, logger: logger}
}

// Start starts the worker pool.
func (p *Pool) Start(ctx context.Context, tasks <-chan Task, wg *sync.WaitGroup) {
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, i, tasks, wg)
	}
}

func (p *Pool) worker(ctx context.Context, id int, tasks <-chan Task, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Info("Worker started")

	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				logger.Info("Worker finished - no more tasks")
				return
			}
			if err := p.processor.Process(ctx, task.Channel); err != nil {
				logger.Error("Channel migration failed",
					zap.String("channel", task.Channel.Name),
					zap.Error(err))
			}

		case <-ctx.Done():
			logger.Info("Worker stopped - context cancelled")
			return
		}
	}
}
