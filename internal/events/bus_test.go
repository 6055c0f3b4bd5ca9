package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus, err := NewBus(Config{}, nil)
	if err != nil {
		t.Fatalf("NewBus failed: %v", err)
	}
	defer bus.Stop()

	if err := bus.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}

	received := make(chan map[string]interface{}, 1)
	cancel, err := bus.Subscribe(SubjectAll, func(subject string, data []byte) {
		if subject != SubjectActionCompleted {
			t.Errorf("Unexpected subject %s", subject)
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(data, &payload); err != nil {
			t.Errorf("Invalid payload: %v", err)
		}
		received <- payload
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	if err := bus.Publish(SubjectActionCompleted, map[string]string{"action": "activate_github_plugin"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	_ = bus.Flush()

	select {
	case payload := <-received:
		if payload["action"] != "activate_github_plugin" {
			t.Errorf("Unexpected payload: %v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus, err := NewBus(Config{}, nil)
	if err != nil {
		t.Fatalf("NewBus failed: %v", err)
	}
	defer bus.Stop()

	cancel, err := bus.Subscribe(SubjectAll, func(string, []byte) {})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	cancel()

	bus.subsMu.Lock()
	n := len(bus.subs)
	bus.subsMu.Unlock()
	if n != 0 {
		t.Errorf("Expected no tracked subscriptions, got %d", n)
	}
}

func TestDiscard(t *testing.T) {
	var p Publisher = Discard{}
	if err := p.Publish(SubjectActionCompleted, nil); err != nil {
		t.Errorf("Discard should never fail: %v", err)
	}
}
