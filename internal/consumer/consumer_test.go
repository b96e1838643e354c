package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	rediscommon "github.com/phlaster/biokeeper-backend/common/redis"
	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/events"
	"github.com/phlaster/biokeeper-backend/internal/service"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func run(t *testing.T, start func(ctx context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("consumer did not stop")
		}
	})
}

func pending(t *testing.T, client *redis.Client, stream, group string) int64 {
	t.Helper()
	p, err := client.XPending(context.Background(), stream, group).Result()
	if err != nil {
		return -1
	}
	return p.Count
}

type fakeRegistrar struct {
	mu    sync.Mutex
	users map[int64]service.RegisterUserRequest
	calls int
	err   error
}

func (f *fakeRegistrar) RegisterUser(_ context.Context, req service.RegisterUserRequest) (*domain.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	if req.Name == "" {
		return nil, false, domain.InvalidInput("user name is required")
	}
	_, seen := f.users[req.ID]
	f.users[req.ID] = req
	return &domain.User{ID: req.ID, Name: req.Name, Role: req.Role}, !seen, nil
}

func (f *fakeRegistrar) snapshot() (map[int64]service.RegisterUserRequest, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]service.RegisterUserRequest, len(f.users))
	for k, v := range f.users {
		out[k] = v
	}
	return out, f.calls
}

var testStream = StreamConfig{Group: "test", Consumer: "c1", Block: 20 * time.Millisecond}

func TestUserEventsConsumer(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()
	reg := &fakeRegistrar{users: map[int64]service.RegisterUserRequest{}}

	c := NewUserEventsConsumer(client, reg, testStream, nil, zap.NewNop())
	run(t, c.Start)

	_, err := rediscommon.PublishJSONToStream(ctx, client, events.StreamNewUser, service.RegisterUserRequest{ID: 10, Name: "anna", Role: "volunteer"})
	require.NoError(t, err)
	// redelivery of the same event
	_, err = rediscommon.PublishJSONToStream(ctx, client, events.StreamNewUser, service.RegisterUserRequest{ID: 10, Name: "anna", Role: "volunteer"})
	require.NoError(t, err)
	_, err = rediscommon.PublishToStream(ctx, client, events.StreamNewUser, map[string]interface{}{"id": int64(11), "name": "boris"})
	require.NoError(t, err)
	_, err = rediscommon.PublishToStream(ctx, client, events.StreamNewUser, map[string]interface{}{"data": "{not json"})
	require.NoError(t, err)
	_, err = rediscommon.PublishJSONToStream(ctx, client, events.StreamNewUser, service.RegisterUserRequest{ID: 12})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		users, calls := reg.snapshot()
		return len(users) == 2 && calls == 4 && pending(t, client, events.StreamNewUser, "test") == 0
	}, 2*time.Second, 10*time.Millisecond)

	users, _ := reg.snapshot()
	assert.Equal(t, "volunteer", users[10].Role)
	assert.Equal(t, "boris", users[11].Name)
}

func TestUserEventsConsumer_TransientFailureStaysPending(t *testing.T) {
	client := newRedis(t)
	reg := &fakeRegistrar{users: map[int64]service.RegisterUserRequest{}, err: errors.New("db down")}

	c := NewUserEventsConsumer(client, reg, testStream, nil, zap.NewNop())
	run(t, c.Start)

	_, err := rediscommon.PublishJSONToStream(context.Background(), client, events.StreamNewUser, service.RegisterUserRequest{ID: 10, Name: "anna"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, calls := reg.snapshot()
		return calls == 1 && pending(t, client, events.StreamNewUser, "test") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

type fakeEnricher struct {
	mu   sync.Mutex
	seen []int64
	errs map[int64]error
}

func (f *fakeEnricher) EnrichSample(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, id)
	return f.errs[id]
}

func (f *fakeEnricher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func TestEnrichmentConsumer(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()
	enricher := &fakeEnricher{errs: map[int64]error{
		2: domain.NotFound("sample 2 not found"),
		3: context.DeadlineExceeded,
	}}

	c := NewEnrichmentConsumer(client, enricher, testStream, nil, zap.NewNop())
	run(t, c.Start)

	q := events.NewStreamQueue(client, "")
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, q.EnqueueEnrichment(ctx, id))
	}

	// 1 succeeded, 2 is gone for good, 3 waits for a retry
	require.Eventually(t, func() bool {
		return enricher.count() == 3 && pending(t, client, events.StreamEnrichSamples, "test") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestParseUserEvent_BadID(t *testing.T) {
	_, err := parseUserEvent(rediscommon.StreamMessage{Values: map[string]interface{}{"id": "abc"}})
	assert.ErrorIs(t, err, errMalformed)
}

func TestStreamLoop_ClaimAdvancesCursor(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()
	require.NoError(t, rediscommon.CreateConsumerGroup(ctx, client, "jobs", "g"))

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := rediscommon.PublishToStream(ctx, client, "jobs", map[string]interface{}{"n": i})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	// a crashed consumer leaves all three pending
	read, err := rediscommon.ReadFromStream(ctx, client, "jobs", "g", "crashed", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, read, 3)
	time.Sleep(20 * time.Millisecond)

	l := &streamLoop{
		client: client,
		cfg:    StreamConfig{Stream: "jobs", Group: "g", Consumer: "c1", BatchSize: 1, ClaimIdle: time.Millisecond},
		logger: zap.NewNop(),
	}
	var claimed []string
	for i := 0; i < 3; i++ {
		msgs, err := l.claim(ctx)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		claimed = append(claimed, msgs[0].ID)
	}
	assert.Equal(t, ids, claimed)
	assert.Equal(t, "0-0", l.claimCursor)
}

type flakyEnricher struct {
	mu       sync.Mutex
	attempts map[int64]int
}

func (f *flakyEnricher) EnrichSample(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[id]++
	if f.attempts[id] == 1 {
		return errors.New("provider unavailable")
	}
	return nil
}

func (f *flakyEnricher) tries(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[id]
}

func TestEnrichmentConsumer_RetriesPendingEntry(t *testing.T) {
	client := newRedis(t)
	enricher := &flakyEnricher{attempts: map[int64]int{}}

	cfg := testStream
	cfg.ClaimIdle = 30 * time.Millisecond
	c := NewEnrichmentConsumer(client, enricher, cfg, nil, zap.NewNop())
	run(t, c.Start)

	require.NoError(t, events.NewStreamQueue(client, "").EnqueueEnrichment(context.Background(), 7))

	require.Eventually(t, func() bool {
		return enricher.tries(7) == 2 && pending(t, client, events.StreamEnrichSamples, "test") == 0
	}, 3*time.Second, 10*time.Millisecond)
}
