package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamMessage is one entry read from a stream
type StreamMessage struct {
	Stream string
	ID     string
	Values map[string]interface{}
}

// PublishToStream XADDs values, stringifying scalars and JSON-encoding everything else
func PublishToStream(ctx context.Context, client *redis.Client, stream string, values map[string]interface{}) (string, error) {
	streamValues := make(map[string]interface{}, len(values))
	for k, v := range values {
		var strValue string
		switch val := v.(type) {
		case string:
			strValue = val
		case []byte:
			strValue = string(val)
		case int:
			strValue = strconv.Itoa(val)
		case int32:
			strValue = strconv.FormatInt(int64(val), 10)
		case int64:
			strValue = strconv.FormatInt(val, 10)
		case float32:
			strValue = strconv.FormatFloat(float64(val), 'f', -1, 32)
		case float64:
			strValue = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			strValue = strconv.FormatBool(val)
		default:
			jsonBytes, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			strValue = string(jsonBytes)
		}
		streamValues[k] = strValue
	}

	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: streamValues,
	}).Result()
}

// PublishJSONToStream publishes data as {"data": <json>, "timestamp": <unix>}
func PublishJSONToStream(ctx context.Context, client *redis.Client, stream string, data interface{}) (string, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return PublishToStream(ctx, client, stream, map[string]interface{}{
		"data":      string(jsonBytes),
		"timestamp": time.Now().Unix(),
	})
}

// ReadFromStream reads new entries for consumer within consumerGroup.
// block <= 0 falls back to 5s.
func ReadFromStream(ctx context.Context, client *redis.Client, stream string, consumerGroup string, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	if block <= 0 {
		block = 5 * time.Second
	}
	streams, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []StreamMessage{}, nil
		}
		return nil, err
	}

	var messages []StreamMessage
	for _, s := range streams {
		for _, msg := range s.Messages {
			messages = append(messages, StreamMessage{
				Stream: s.Stream,
				ID:     msg.ID,
				Values: msg.Values,
			})
		}
	}

	return messages, nil
}

// CreateConsumerGroup creates the group (and the stream) if missing; an existing group is fine
func CreateConsumerGroup(ctx context.Context, client *redis.Client, stream string, groupName string) error {
	err := client.XGroupCreateMkStream(ctx, stream, groupName, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", groupName, stream, err)
	}
	return nil
}

// Ack acknowledges processed entries
func Ack(ctx context.Context, client *redis.Client, stream string, groupName string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return client.XAck(ctx, stream, groupName, ids...).Err()
}

// AutoClaim transfers entries idle for at least minIdle to consumer, scanning the
// pending list from start. It returns the cursor for the next call ("0-0" once the
// scan wrapped). The reply is parsed by hand so both the Redis 6.2 (2 elements) and
// Redis 7 (3 elements, deleted ids last) shapes are accepted.
func AutoClaim(ctx context.Context, client *redis.Client, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]StreamMessage, string, error) {
	if start == "" {
		start = "0-0"
	}
	reply, err := client.Do(ctx, "XAUTOCLAIM", stream, group, consumer,
		minIdle.Milliseconds(), start, "COUNT", count).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "0-0", nil
		}
		return nil, "", err
	}
	if len(reply) < 2 {
		return nil, "", fmt.Errorf("unexpected XAUTOCLAIM reply of %d elements", len(reply))
	}
	next, ok := reply[0].(string)
	if !ok {
		return nil, "", fmt.Errorf("unexpected XAUTOCLAIM cursor %T", reply[0])
	}
	entries, _ := reply[1].([]interface{})

	messages := make([]StreamMessage, 0, len(entries))
	for _, e := range entries {
		pair, ok := e.([]interface{})
		if !ok || len(pair) != 2 {
			// Redis 6.2 reports entries deleted from the stream as nil
			continue
		}
		id, _ := pair[0].(string)
		fields, _ := pair[1].([]interface{})
		values := make(map[string]interface{}, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			k, _ := fields[i].(string)
			values[k] = fields[i+1]
		}
		messages = append(messages, StreamMessage{Stream: stream, ID: id, Values: values})
	}
	return messages, next, nil
}
