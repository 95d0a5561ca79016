// Package dbtest starts a throwaway Postgres for integration tests.
package dbtest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/resistance-prophet-server/internal/domain"
)

// Postgres starts postgres:15-alpine and returns a config pointing at it. The
// container is terminated when the test ends. Skipped under -short.
func Postgres(t *testing.T) domain.DatabaseConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres container in short mode")
	}

	ctx := context.Background()
	password := randomPassword()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("prophet_test"),
		postgres.WithUsername("prophet"),
		postgres.WithPassword(password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminating postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	return domain.DatabaseConfig{
		Enabled:         true,
		Host:            host,
		Port:            port.Int(),
		Database:        "prophet_test",
		Username:        "prophet",
		Password:        password,
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	}
}

func randomPassword() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "prophet_test_pw"
	}
	return "pw_" + hex.EncodeToString(b)
}
