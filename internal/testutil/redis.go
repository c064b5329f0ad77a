package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisContainer wraps a testcontainers Redis instance.
type RedisContainer struct {
	container testcontainers.Container
	Client    *goredis.Client
	Addr      string
}

// NewRedisContainer starts a Redis test container and returns a connected
// client.
//
// Precondition: Docker must be available.
// Postcondition: Returns a running container with a pinged client, or fails
// the test.
func NewRedisContainer(t *testing.T) *RedisContainer {
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
	addr := fmt.Sprintf("%s:%d", host, mappedPort.Int())

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("pinging test redis: %v [%s]", err, time.Since(start))
	}
	t.Logf("redis container started [%s]", time.Since(start))

	t.Cleanup(func() {
		_ = client.Close()
		_ = container.Terminate(ctx)
	})
	return &RedisContainer{container: container, Client: client, Addr: addr}
}
