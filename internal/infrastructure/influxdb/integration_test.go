//go:build integration

package influxdb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/linklight/internal/infrastructure/config"
	"github.com/nerrad567/linklight/internal/lifecycle"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "linklight-dev-token",
		Org:           "linklight",
		Bucket:        "lifecycle",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	client, err := New(testConfig(), "integration")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Skipf("InfluxDB not available: %v", err)
	}
	return client
}

func TestIntegration_HealthCheck(t *testing.T) {
	client := connectOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestIntegration_WriteTransition(t *testing.T) {
	client := connectOrSkip(t)

	var (
		mu       sync.Mutex
		writeErr error
	)
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	err := client.WriteTransition(context.Background(), lifecycle.Transition{
		From: lifecycle.StateIdle, To: lifecycle.StateAssociating,
		Cause: lifecycle.CauseStart, At: time.Now(),
	})
	if err != nil {
		t.Fatalf("WriteTransition() error = %v", err)
	}
	client.Flush()

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("async write error = %v", writeErr)
	}
}

func TestIntegration_WriteAfterClose(t *testing.T) {
	client := connectOrSkip(t)
	client.Close() //nolint:errcheck // Testing post-close behaviour

	if err := client.WriteTransition(context.Background(), lifecycle.Transition{}); err == nil {
		t.Error("WriteTransition() after Close should fail")
	}
}
