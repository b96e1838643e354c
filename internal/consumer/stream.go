package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	rediscommon "github.com/phlaster/biokeeper-backend/common/redis"
	"github.com/phlaster/biokeeper-backend/internal/metrics"
)

// errMalformed marks entries that can never be processed
var errMalformed = errors.New("malformed stream entry")

// StreamConfig identifies one consumer within a group
type StreamConfig struct {
	Stream    string        `yaml:"stream"`
	Group     string        `yaml:"group"`
	Consumer  string        `yaml:"consumer"`
	BatchSize int64         `yaml:"batch_size"`
	Block     time.Duration `yaml:"block"`
	// ClaimIdle > 0 re-delivers entries left pending by failed runs after this idle time
	ClaimIdle time.Duration `yaml:"claim_idle"`
}

func (c *StreamConfig) defaults(stream string) {
	if c.Stream == "" {
		c.Stream = stream
	}
	if c.Group == "" {
		c.Group = "biokeeper-core"
	}
	if c.Consumer == "" {
		c.Consumer = "core-" + uuid.NewString()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
}

// streamLoop reads a stream through a consumer group and ACKs entries that were
// handled or that permanent() says can never succeed.
type streamLoop struct {
	client    *redis.Client
	cfg       StreamConfig
	handle    func(ctx context.Context, msg rediscommon.StreamMessage) error
	permanent func(err error) bool
	metrics   *metrics.Metrics
	logger    *zap.Logger

	// next XAUTOCLAIM start id; empty or "0-0" scans from the beginning
	claimCursor string
}

func (l *streamLoop) run(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, l.client, l.cfg.Stream, l.cfg.Group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	l.logger.Info("Stream consumer started",
		zap.String("stream", l.cfg.Stream),
		zap.String("consumer_group", l.cfg.Group),
		zap.String("consumer_name", l.cfg.Consumer),
	)

	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := l.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Error("Failed to consume stream",
				zap.String("stream", l.cfg.Stream),
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = time.Second
	}
}

func (l *streamLoop) consume(ctx context.Context) error {
	if l.cfg.ClaimIdle > 0 {
		claimed, err := l.claim(ctx)
		if err != nil {
			return err
		}
		l.process(ctx, claimed)
	}

	messages, err := rediscommon.ReadFromStream(ctx, l.client, l.cfg.Stream, l.cfg.Group, l.cfg.Consumer, l.cfg.BatchSize, l.cfg.Block)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}
	l.metrics.ConsumerBatch(l.cfg.Stream, len(messages))
	l.process(ctx, messages)
	return nil
}

func (l *streamLoop) claim(ctx context.Context) ([]rediscommon.StreamMessage, error) {
	msgs, next, err := rediscommon.AutoClaim(ctx, l.client, l.cfg.Stream, l.cfg.Group, l.cfg.Consumer,
		l.cfg.ClaimIdle, l.claimCursor, l.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending entries: %w", err)
	}
	// resume after this batch so a run of failing entries cannot starve the rest
	l.claimCursor = next
	return msgs, nil
}

func (l *streamLoop) process(ctx context.Context, messages []rediscommon.StreamMessage) {
	for _, msg := range messages {
		err := l.handle(ctx, msg)
		if err != nil && !errors.Is(err, errMalformed) && !l.permanent(err) {
			// left pending for a later claim
			l.logger.Error("Failed to process stream entry",
				zap.String("stream", l.cfg.Stream),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			continue
		}
		if err != nil {
			l.logger.Warn("Dropping stream entry",
				zap.String("stream", l.cfg.Stream),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
		if err := rediscommon.Ack(ctx, l.client, l.cfg.Stream, l.cfg.Group, msg.ID); err != nil {
			l.logger.Warn("Failed to ack message", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
}

// decodeData unmarshals the JSON "data" field written by PublishJSONToStream
func decodeData(msg rediscommon.StreamMessage, v any) (bool, error) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return true, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return true, nil
}
