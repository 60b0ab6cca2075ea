package helpers

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/conduit/pkg/trace"
)

// TestRedis bundles an in-memory Redis server with a connected client
type TestRedis struct {
	Server *miniredis.Miniredis
	Client *redis.Client
}

// NewTestRedis starts an in-memory Redis server that is shut down when the
// test completes
func NewTestRedis(t *testing.T) *TestRedis {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr:            server.Addr(),
		Protocol:        2,
		DisableIdentity: true,
	})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return &TestRedis{Server: server, Client: client}
}

// NewTestTracer creates a tracer backed by a fresh in-memory Redis server
func NewTestTracer(t *testing.T) (*trace.Tracer, *TestRedis) {
	t.Helper()
	r := NewTestRedis(t)
	return trace.NewTracer(r.Client), r
}
