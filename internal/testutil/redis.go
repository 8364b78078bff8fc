package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/presence"
)

// NewRedisStore starts a Redis test container and returns a connected
// presence store.
//
// Precondition: Docker must be available.
// Postcondition: Returns a connected store backed by a running container,
// or fails the test.
func NewRedisStore(t *testing.T) *presence.RedisStore {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v [%s]", err, time.Since(start))
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	cfg := config.RedisConfig{
		Host:     host,
		Port:     mappedPort.Int(),
		DB:       0,
		PoolSize: 5,
	}

	rs, err := presence.NewRedisStore(ctx, cfg)
	if err != nil {
		t.Fatalf("connecting to test redis: %v [%s]", err, time.Since(start))
	}

	t.Logf("redis container started [%s]", time.Since(start))

	t.Cleanup(func() {
		_ = rs.Close()
		_ = container.Terminate(ctx)
	})

	return rs
}
