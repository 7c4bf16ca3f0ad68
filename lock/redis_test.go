package lock_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cash-router/lock"
	"github.com/warp/cash-router/routing"
)

// Nothing listens on port 1; connections are refused immediately.
const unreachable = "127.0.0.1:1"

func TestKey(t *testing.T) {
	assert.Equal(t, "routing:rule:rule-1", lock.Key("rule-1"))
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := lock.NewRedisClient(ctx, unreachable)
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestRedisSequencer_UnreachableFailsWithoutRelease(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: unreachable, MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	var seq routing.Sequencer = lock.NewRedisSequencer(client, time.Second, logger)

	release, err := seq.Acquire(context.Background(), "rule-1")

	require.Error(t, err)
	assert.Nil(t, release)
}
