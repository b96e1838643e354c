package consumer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "github.com/phlaster/biokeeper-backend/common/redis"
	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/events"
	"github.com/phlaster/biokeeper-backend/internal/metrics"
	"github.com/phlaster/biokeeper-backend/internal/service"
)

// UserRegistrar stores users announced by the identity service
type UserRegistrar interface {
	RegisterUser(ctx context.Context, req service.RegisterUserRequest) (*domain.User, bool, error)
}

// UserEventsConsumer projects core.new_user events into the local users table.
// Delivery is at least once; RegisterUser is idempotent.
type UserEventsConsumer struct {
	loop  *streamLoop
	users UserRegistrar
}

func NewUserEventsConsumer(client *redis.Client, users UserRegistrar, cfg StreamConfig, m *metrics.Metrics, logger *zap.Logger) *UserEventsConsumer {
	cfg.defaults(events.StreamNewUser)
	c := &UserEventsConsumer{users: users}
	c.loop = &streamLoop{
		client:    client,
		cfg:       cfg,
		handle:    c.handle,
		permanent: isPermanentUserError,
		metrics:   m,
		logger:    logger,
	}
	return c
}

// Start blocks until ctx is cancelled
func (c *UserEventsConsumer) Start(ctx context.Context) error {
	return c.loop.run(ctx)
}

func (c *UserEventsConsumer) handle(ctx context.Context, msg rediscommon.StreamMessage) error {
	req, err := parseUserEvent(msg)
	if err != nil {
		return err
	}
	user, created, err := c.users.RegisterUser(ctx, req)
	if err != nil {
		return err
	}
	c.loop.logger.Debug("New-user event applied",
		zap.String("message_id", msg.ID),
		zap.Int64("user_id", user.ID),
		zap.Bool("created", created),
	)
	return nil
}

// parseUserEvent accepts {"data": "{...}"} or flat id/name/role fields
func parseUserEvent(msg rediscommon.StreamMessage) (service.RegisterUserRequest, error) {
	var req service.RegisterUserRequest
	found, err := decodeData(msg, &req)
	if err != nil {
		return req, err
	}
	if !found {
		idStr, _ := msg.Values["id"].(string)
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return req, fmt.Errorf("%w: bad id %q", errMalformed, idStr)
		}
		req.ID = id
		req.Name, _ = msg.Values["name"].(string)
		req.Role, _ = msg.Values["role"].(string)
	}
	return req, nil
}

// Invalid payloads and name clashes will fail the same way on every redelivery
func isPermanentUserError(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindInvalidInput, domain.KindConflict:
		return true
	}
	return false
}
