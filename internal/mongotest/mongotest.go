// Package mongotest starts a disposable MongoDB container for integration
// tests. Tests are skipped when Docker is not available.
package mongotest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	once      sync.Once
	client    *mongo.Client
	skipCause error
)

func setup() {
	ctx := context.Background()

	var container testcontainers.Container
	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		container, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		skipCause = containerErr
		return
	}

	host, err := container.Host(ctx)
	if err != nil {
		skipCause = fmt.Errorf("container host: %w", err)
		return
	}
	port, err := container.MappedPort(ctx, "27017")
	if err != nil {
		skipCause = fmt.Errorf("container port: %w", err)
		return
	}
	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	c, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		skipCause = fmt.Errorf("connect: %w", err)
		return
	}
	if err := c.Ping(ctx, nil); err != nil {
		skipCause = fmt.Errorf("ping: %w", err)
		return
	}
	client = c
}

// Client returns a client connected to the shared test container, skipping
// t when Docker is unavailable.
func Client(t *testing.T) *mongo.Client {
	t.Helper()
	once.Do(setup)
	if skipCause != nil {
		t.Skipf("MongoDB tests skipped: %v", skipCause)
	}
	return client
}

// Database returns a fresh database named after the test. The database is
// dropped when the test ends.
func Database(t *testing.T) (*mongo.Client, string) {
	t.Helper()
	c := Client(t)
	name := strings.NewReplacer("/", "_", " ", "_", ".", "_").Replace(t.Name())
	if len(name) > 60 {
		name = name[:60]
	}
	t.Cleanup(func() { _ = c.Database(name).Drop(context.Background()) })
	return c, name
}
