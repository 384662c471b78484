package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientOptions(t *testing.T) {
	ro := clientOptions(Options{Addr: "localhost:6379", DB: 2, ClientName: "haptic-worker"})
	assert.Equal(t, "localhost:6379", ro.Addr)
	assert.Equal(t, 2, ro.DB)
	assert.Equal(t, DefaultPoolSize, ro.PoolSize)
	assert.Equal(t, "haptic-worker", ro.ClientName)
	assert.Equal(t, dialTimeout, ro.DialTimeout)

	assert.Equal(t, 16, clientOptions(Options{PoolSize: 16}).PoolSize)
}

func TestNewClientUnreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(ctx, Options{Addr: "127.0.0.1:1"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
}
