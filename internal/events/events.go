package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "github.com/phlaster/biokeeper-backend/common/redis"
	"github.com/phlaster/biokeeper-backend/internal/service"
)

// Default stream names
const (
	StreamNewUser       = "core.new_user"
	StreamEnrichSamples = "samples.enrich"
)

// EnrichmentJob is the payload of one samples.enrich entry
type EnrichmentJob struct {
	SampleID int64 `json:"sample_id"`
}

// StreamQueue puts enrichment jobs on a Redis stream
type StreamQueue struct {
	client *redis.Client
	stream string
}

var _ service.EnrichmentQueue = (*StreamQueue)(nil)

func NewStreamQueue(client *redis.Client, stream string) *StreamQueue {
	if stream == "" {
		stream = StreamEnrichSamples
	}
	return &StreamQueue{client: client, stream: stream}
}

func (q *StreamQueue) EnqueueEnrichment(ctx context.Context, sampleID int64) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, q.client, q.stream, EnrichmentJob{SampleID: sampleID}); err != nil {
		return fmt.Errorf("failed to enqueue sample %d: %w", sampleID, err)
	}
	return nil
}

// Publisher is the part of the MQTT client the notifier needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	QoS() byte
}

// MQTTNotifier publishes sample events to biokeeper/samples/{id}/{event}
type MQTTNotifier struct {
	client Publisher
	prefix string
	logger *zap.Logger
}

var _ service.SampleNotifier = (*MQTTNotifier)(nil)

func NewMQTTNotifier(client Publisher, prefix string, logger *zap.Logger) *MQTTNotifier {
	if prefix == "" {
		prefix = "biokeeper"
	}
	return &MQTTNotifier{client: client, prefix: prefix, logger: logger}
}

func (n *MQTTNotifier) Topic(sampleID int64, event string) string {
	return fmt.Sprintf("%s/samples/%d/%s", n.prefix, sampleID, event)
}

func (n *MQTTNotifier) PublishSampleEvent(_ context.Context, event service.SampleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal sample event: %w", err)
	}
	topic := n.Topic(event.SampleID, event.Event)
	if err := n.client.Publish(topic, n.client.QoS(), false, payload); err != nil {
		return err
	}
	n.logger.Debug("Sample event published", zap.String("topic", topic))
	return nil
}

// Nop drops everything. Used when Redis or MQTT is disabled.
type Nop struct{}

var (
	_ service.EnrichmentQueue = Nop{}
	_ service.SampleNotifier  = Nop{}
)

func (Nop) EnqueueEnrichment(context.Context, int64) error                { return nil }
func (Nop) PublishSampleEvent(context.Context, service.SampleEvent) error { return nil }
