package mqttbroker

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRequiresAuthConfig(t *testing.T) {
	if _, err := New(zap.NewNop(), Config{}); err == nil {
		t.Fatalf("expected error")
	}
	b, err := New(zap.NewNop(), Config{Username: "fuo", Password: "secret"})
	if err != nil || b == nil {
		t.Fatalf("expected broker with ledger auth, got %v", err)
	}
}

func TestInlineBus(t *testing.T) {
	b, err := New(zap.NewNop(), Config{AllowAnonymous: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	received := make(chan string, 1)
	if err := b.Subscribe("fuo/#", 0, func(topic string, payload []byte) {
		received <- topic + " " + string(payload)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := b.Publish("fuo/player/song_changed", 0, false, []byte("fuo://x/songs/7")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-received:
		if got != "fuo/player/song_changed fuo://x/songs/7" {
			t.Fatalf("unexpected message %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for message")
	}
	if err := b.Unsubscribe("fuo/#"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
}

func TestBrokerURL(t *testing.T) {
	if BrokerURL("127.0.0.1:1883", false) != "mqtt://127.0.0.1:1883" {
		t.Fatalf("expected mqtt scheme")
	}
	if BrokerURL("127.0.0.1:8883", true) != "mqtts://127.0.0.1:8883" {
		t.Fatalf("expected mqtts scheme")
	}
}

func TestSlogBridge(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := NewSlogLogger(zap.New(core))
	log.Info("client connected", "client", "c1")
	log.Debug("hidden")
	log.Warn("read failed", "error", "EOF")

	entries := logs.All()
	if len(entries) != 1 || entries[0].Message != "client connected" {
		t.Fatalf("unexpected entries %#v", entries)
	}
	if entries[0].ContextMap()["client"] != "c1" {
		t.Fatalf("expected client field, got %v", entries[0].ContextMap())
	}
}
