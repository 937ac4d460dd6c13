package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/ports"
)

type published struct {
	topic   string
	retain  bool
	payload string
}

type fakeBus struct {
	mu       sync.Mutex
	messages []published
	handlers map[string]ports.MessageHandler
	notify   chan struct{}
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: map[string]ports.MessageHandler{}, notify: make(chan struct{}, 16)}
}

func (f *fakeBus) Publish(topic string, _ byte, retained bool, payload []byte) error {
	f.mu.Lock()
	f.messages = append(f.messages, published{topic: topic, retain: retained, payload: string(payload)})
	f.mu.Unlock()
	f.notify <- struct{}{}
	return nil
}

func (f *fakeBus) Subscribe(topic string, _ byte, handler ports.MessageHandler) error {
	f.mu.Lock()
	f.handlers[topic] = handler
	f.mu.Unlock()
	f.notify <- struct{}{}
	return nil
}

func (f *fakeBus) Unsubscribe(topic string) error {
	f.mu.Lock()
	delete(f.handlers, topic)
	f.mu.Unlock()
	return nil
}

func (f *fakeBus) handler(topic string) ports.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[topic]
}

func (f *fakeBus) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.notify:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for bus activity")
	}
}

func TestBridgeMirrorsTopics(t *testing.T) {
	broker := New(0)
	bus := newFakeBus()
	bridge := NewBridge(zap.NewNop(), broker, bus, BridgeConfig{TopicBase: "home/fuo/", Retain: true}, func(_ context.Context, line string) []byte {
		return []byte("ok 0\nOK\n")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()
	bus.wait(t) // cmd subscription

	// The bridge subscriber is registered before the command subscription.
	broker.Publish(TopicSongChanged, []byte("fuo://x/songs/7"))
	bus.wait(t)
	broker.Publish(TopicPosition, []byte("1000/2000"))
	bus.wait(t)

	bus.handler("home/fuo/cmd")("home/fuo/cmd", []byte("status\n"))
	bus.wait(t)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	want := []published{
		{topic: "home/fuo/player/song_changed", retain: true, payload: "fuo://x/songs/7"},
		{topic: "home/fuo/player/position", retain: false, payload: "1000/2000"},
		{topic: "home/fuo/reply", retain: false, payload: "ok 0\nOK\n"},
	}
	if len(bus.messages) != len(want) {
		t.Fatalf("expected %d messages, got %#v", len(want), bus.messages)
	}
	for i := range want {
		if bus.messages[i] != want[i] {
			t.Fatalf("message %d: expected %#v, got %#v", i, want[i], bus.messages[i])
		}
	}
	if broker.Subscribers() != 0 {
		t.Fatalf("bridge subscriber not removed")
	}
}
