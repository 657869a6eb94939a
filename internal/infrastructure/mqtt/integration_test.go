//go:build integration

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Integration tests require a running Mosquitto broker at 127.0.0.1:1883.
// Run with: go test -tags integration ./internal/infrastructure/mqtt/

func integrationOptions(id string) Options {
	opts := testOptions()
	opts.ClientID = "linklight-it-" + id
	opts.Topics = Topics{DeviceID: "it-" + id}
	return opts
}

// watch subscribes a plain paho client to topic and forwards payloads.
func watch(t *testing.T, topic string) <-chan []byte {
	t.Helper()

	out := make(chan []byte, 8)
	popts := pahomqtt.NewClientOptions().
		AddBroker("tcp://127.0.0.1:1883").
		SetClientID("linklight-it-watcher-" + topic)
	watcher := pahomqtt.NewClient(popts)
	if token := watcher.Connect(); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("watcher connect: %v", token.Error())
	}
	t.Cleanup(func() { watcher.Disconnect(100) })

	token := watcher.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		out <- msg.Payload()
	})
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("watcher subscribe: %v", token.Error())
	}
	return out
}

func TestIntegration_ConnectAnnouncesOnline(t *testing.T) {
	opts := integrationOptions("online")
	status := watch(t, opts.Topics.Status())

	client, err := Connect(context.Background(), opts)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Fatal("IsConnected() = false after Connect")
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case payload := <-status:
			var msg StatusMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				t.Fatalf("unmarshal status: %v", err)
			}
			if msg.Status == statusOnline {
				if msg.URL != opts.URL {
					t.Errorf("URL = %q, want %q", msg.URL, opts.URL)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for online status")
		}
	}
}

func TestIntegration_CloseAnnouncesOffline(t *testing.T) {
	opts := integrationOptions("offline")

	client, err := Connect(context.Background(), opts)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	status := watch(t, opts.Topics.Status())
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case payload := <-status:
			var msg StatusMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				t.Fatalf("unmarshal status: %v", err)
			}
			if msg.Status == statusOffline && msg.Reason == reasonGraceful {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for offline status")
		}
	}
}

func TestIntegration_PublishRetained(t *testing.T) {
	opts := integrationOptions("publish")

	client, err := Connect(context.Background(), opts)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.PublishRetained(opts.Topics.Indicator(), []byte(`{"color":"green"}`)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	indicator := watch(t, opts.Topics.Indicator())
	select {
	case payload := <-indicator:
		if string(payload) != `{"color":"green"}` {
			t.Errorf("retained payload = %s", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained indicator message not delivered")
	}
}

func TestIntegration_LoggerSet(t *testing.T) {
	client, err := Connect(context.Background(), integrationOptions("logger"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	logger := &mockLogger{}
	client.SetLogger(logger)

	if client.getLogger() != logger {
		t.Error("SetLogger() did not store logger")
	}
	if err := client.Publish("", nil, 0, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(\"\") error = %v, want ErrInvalidTopic", err)
	}
}

// mockLogger captures log calls for testing.
type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}
