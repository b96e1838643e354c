package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/service"
)

// ErrQueueFull is returned when the in-process buffer has no room
var ErrQueueFull = errors.New("enrichment queue full")

// Enricher runs enrichment for one sample
type Enricher interface {
	EnrichSample(ctx context.Context, sampleID int64) error
}

// LocalQueue is an in-process enrichment queue for deployments without Redis.
// Jobs are lost on restart.
type LocalQueue struct {
	jobs     chan int64
	enricher Enricher
	logger   *zap.Logger
	wg       sync.WaitGroup
}

var _ service.EnrichmentQueue = (*LocalQueue)(nil)

func NewLocalQueue(size int, enricher Enricher, logger *zap.Logger) *LocalQueue {
	if size <= 0 {
		size = 256
	}
	return &LocalQueue{jobs: make(chan int64, size), enricher: enricher, logger: logger}
}

func (q *LocalQueue) EnqueueEnrichment(_ context.Context, sampleID int64) error {
	select {
	case q.jobs <- sampleID:
		return nil
	default:
		return ErrQueueFull
	}
}

// SetEnricher binds the worker target; call before Start
func (q *LocalQueue) SetEnricher(e Enricher) { q.enricher = e }

// Start runs workers until ctx is cancelled
func (q *LocalQueue) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-q.jobs:
					if err := q.enricher.EnrichSample(ctx, id); err != nil {
						q.logger.Warn("Local enrichment failed", zap.Int64("sample_id", id), zap.Error(err))
					}
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited
func (q *LocalQueue) Wait() { q.wg.Wait() }
