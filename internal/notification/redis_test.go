package notification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	redisC, err := testcontainers.Run(
		ctx, "redis:7",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
	testcontainers.CleanupContainer(t, redisC)
	require.NoError(t, err)

	endpoint, err := redisC.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}

func TestRedisSender_PublishesJSON(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: addr})
	sender := NewRedisSender(client, "")
	t.Cleanup(func() { _ = sender.Close() })
	require.NoError(t, sender.Ping(ctx))

	sub := redis.NewClient(&redis.Options{Addr: addr}).Subscribe(ctx, sender.Channel())
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, sender.Send(ctx, Params{
		RecipientID:  "alice",
		Type:         TypeApprovalPending,
		Title:        "Approval requested",
		Message:      "run-1 needs approval",
		ResourceType: "approval_request",
		ResourceID:   "req-1",
	}))

	select {
	case msg := <-sub.Channel():
		var got Params
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "alice", got.RecipientID)
		assert.Equal(t, "req-1", got.ResourceID)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
