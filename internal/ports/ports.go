package ports

import (
	"context"

	"github.com/feeluown/fuocore/pkg/fuo"
)

// Clock returns the current unix time in seconds.
type Clock interface {
	NowUnix() int64
}

// IDGen returns unique IDs for connections and subscribers.
type IDGen interface {
	NewID() string
}

// Publisher publishes payloads onto an external message bus.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MessageHandler receives messages from an external bus subscription.
type MessageHandler func(topic string, payload []byte)

// Subscriber subscribes to topics on an external message bus.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topic string) error
}

// Transport carries request lines to a fuo daemon.
type Transport interface {
	// Do sends line and returns the first response frame, skipping events.
	Do(ctx context.Context, line string) (fuo.Frame, error)
	// Stream sends line and passes every following frame to fn until fn
	// returns an error, ctx ends or the connection closes.
	Stream(ctx context.Context, line string, fn func(fuo.Frame) error) error
	Close() error
}
