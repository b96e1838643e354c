package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/service"
)

func TestStreamQueue_Enqueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	q := NewStreamQueue(client, "")
	require.NoError(t, q.EnqueueEnrichment(ctx, 42))

	entries, err := client.XRange(ctx, StreamEnrichSamples, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var job EnrichmentJob
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &job))
	assert.Equal(t, int64(42), job.SampleID)
}

func TestStreamQueue_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err := NewStreamQueue(client, "").EnqueueEnrichment(context.Background(), 1)
	assert.Error(t, err)
}

type publishCall struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	calls []publishCall
	err   error
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, publishCall{topic, qos, payload})
	return nil
}

func (p *fakePublisher) QoS() byte { return 1 }

func TestMQTTNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := NewMQTTNotifier(pub, "", zap.NewNop())
	at := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	err := n.PublishSampleEvent(context.Background(), service.SampleEvent{
		SampleID: 7, Event: service.EventCommitted, Status: "collected", OwnerID: 2, ResearchID: 1, At: at,
	})
	require.NoError(t, err)
	require.Len(t, pub.calls, 1)
	assert.Equal(t, "biokeeper/samples/7/committed", pub.calls[0].topic)
	assert.Equal(t, byte(1), pub.calls[0].qos)
	assert.JSONEq(t, `{"sample_id":7,"event":"committed","status":"collected","owner_id":2,"research_id":1,"at":"2024-06-15T12:00:00Z"}`,
		string(pub.calls[0].payload))

	pub.err = errors.New("broker gone")
	assert.Error(t, n.PublishSampleEvent(context.Background(), service.SampleEvent{SampleID: 7, Event: "x"}))
}
