// Package common provides shared test infrastructure.
package common

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	startOnce sync.Once
	rpcAddr   string
	startErr  error
)

// SurrealDBAddress returns the WebSocket RPC address of a SurrealDB
// instance for integration tests. TALLY_TEST_DB_ADDR short-circuits the
// container for environments running their own instance; otherwise one
// shared container is started per test process and reaped with it.
func SurrealDBAddress(t *testing.T) string {
	t.Helper()

	if addr := os.Getenv("TALLY_TEST_DB_ADDR"); addr != "" {
		return addr
	}

	startOnce.Do(func() {
		ctx := context.Background()

		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "surrealdb/surrealdb:v3.0.0",
				ExposedPorts: []string{"8000/tcp"},
				Cmd:          []string{"start", "--user", "root", "--pass", "root"},
				WaitingFor: wait.ForAll(
					wait.ForListeningPort("8000/tcp"),
					wait.ForLog("Started web server"),
				).WithDeadline(60 * time.Second),
			},
			Started: true,
		})
		if err != nil {
			startErr = fmt.Errorf("start SurrealDB container: %w", err)
			return
		}

		host, err := container.Host(ctx)
		if err != nil {
			startErr = fmt.Errorf("resolve SurrealDB host: %w", err)
			return
		}
		port, err := container.MappedPort(ctx, "8000/tcp")
		if err != nil {
			startErr = fmt.Errorf("resolve SurrealDB port: %w", err)
			return
		}

		rpcAddr = fmt.Sprintf("ws://%s:%s/rpc", host, port.Port())
	})

	if startErr != nil {
		t.Fatalf("SurrealDB unavailable: %v", startErr)
	}
	return rpcAddr
}
