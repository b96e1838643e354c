package consumer

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "github.com/phlaster/biokeeper-backend/common/redis"
	"github.com/phlaster/biokeeper-backend/internal/events"
	"github.com/phlaster/biokeeper-backend/internal/metrics"
	"github.com/phlaster/biokeeper-backend/internal/service"
)

// Enricher runs enrichment for one sample
type Enricher interface {
	EnrichSample(ctx context.Context, sampleID int64) error
}

// EnrichmentConsumer drains samples.enrich
type EnrichmentConsumer struct {
	loop     *streamLoop
	enricher Enricher
}

func NewEnrichmentConsumer(client *redis.Client, enricher Enricher, cfg StreamConfig, m *metrics.Metrics, logger *zap.Logger) *EnrichmentConsumer {
	cfg.defaults(events.StreamEnrichSamples)
	c := &EnrichmentConsumer{enricher: enricher}
	c.loop = &streamLoop{
		client:    client,
		cfg:       cfg,
		handle:    c.handle,
		permanent: service.IsPermanent,
		metrics:   m,
		logger:    logger,
	}
	return c
}

func (c *EnrichmentConsumer) Start(ctx context.Context) error {
	return c.loop.run(ctx)
}

func (c *EnrichmentConsumer) handle(ctx context.Context, msg rediscommon.StreamMessage) error {
	var job events.EnrichmentJob
	found, err := decodeData(msg, &job)
	if err != nil {
		return err
	}
	if !found || job.SampleID <= 0 {
		return fmt.Errorf("%w: no sample id", errMalformed)
	}
	return c.enricher.EnrichSample(ctx, job.SampleID)
}
