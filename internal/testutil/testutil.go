//go:build integration

// Package testutil provides test helpers for integration tests against a
// real Redis instance.
package testutil

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis database numbers used by SONiC.
const (
	ApplDB = 0
	AsicDB = 1
)

// RedisAddr returns the address of the test Redis container (IP:port).
// It first checks SRV6ORCH_TEST_REDIS_ADDR, then discovers the Docker container IP.
func RedisAddr() string {
	if addr := os.Getenv("SRV6ORCH_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}

	ip := redisContainerIP()
	if ip == "" {
		return ""
	}
	return ip + ":6379"
}

func redisContainerIP() string {
	out, err := exec.Command("docker", "inspect",
		"--format", "{{range .NetworkSettings.Networks}}{{.IPAddress}}{{end}}",
		"srv6orch-test-redis").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// SkipIfNoRedis skips the test if the test Redis container is not reachable.
func SkipIfNoRedis(t *testing.T) {
	t.Helper()

	addr := RedisAddr()
	if addr == "" {
		t.Skip("test Redis not available: set SRV6ORCH_TEST_REDIS_ADDR or start srv6orch-test-redis")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("test Redis not reachable at %s: %v", addr, err)
	}
}

// Context returns a context with a reasonable timeout for tests.
// The cancel function is registered via t.Cleanup.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// RedisClient returns a redis client for the specified DB. The client is
// closed on test cleanup.
func RedisClient(t *testing.T, db int) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: RedisAddr(), DB: db})
	t.Cleanup(func() { client.Close() })
	return client
}

// KeyCount returns the number of keys in a Redis database.
func KeyCount(t *testing.T, db int) int {
	t.Helper()

	n, err := RedisClient(t, db).DBSize(context.Background()).Result()
	if err != nil {
		t.Fatalf("failed to get key count for DB %d: %v", db, err)
	}
	return int(n)
}
