// Package testutil holds helpers shared by repo tests that need real backing
// services. Tests using them skip when the service is not configured.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/ovaphlow/englishbuds/pkg/database"
)

// OpenDB connects to TEST_DATABASE_URL or skips the test.
func OpenDB(t testing.TB) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.ConnectX(database.Config{DSN: dsn, MaxConns: 2, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("connect test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// OpenRedis connects to TEST_REDIS_ADDR or skips the test.
func OpenRedis(t testing.TB) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping test redis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}
