package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel used when none is configured.
const DefaultRedisChannel = "tollgate:notifications"

// RedisSender publishes notifications as JSON on a Redis pub/sub channel.
// Downstream relays (chat, email) subscribe to the channel.
type RedisSender struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisSender wraps a client. An empty channel selects DefaultRedisChannel.
func NewRedisSender(client redis.UniversalClient, channel string) *RedisSender {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSender{client: client, channel: channel}
}

// Channel returns the channel notifications are published on.
func (s *RedisSender) Channel() string {
	return s.channel
}

// Send publishes a single notification.
func (s *RedisSender) Send(ctx context.Context, params Params) error {
	if err := validateParams(params); err != nil {
		return fmt.Errorf("notification params invalid: %w", err)
	}
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, body).Err(); err != nil {
		return fmt.Errorf("publish notification to %s: %w", s.channel, err)
	}
	return nil
}

// SendToMany publishes one message per recipient.
func (s *RedisSender) SendToMany(ctx context.Context, recipientIDs []string, params Params) error {
	return sendEach(ctx, s, recipientIDs, params)
}

// Ping checks broker connectivity.
func (s *RedisSender) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisSender) Close() error {
	return s.client.Close()
}

var _ Sender = (*RedisSender)(nil)
