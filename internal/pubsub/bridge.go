package pubsub

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/ports"
)

// DefaultTopicBase prefixes every mirrored MQTT topic.
const DefaultTopicBase = "fuo"

// Bus is an external message bus such as an MQTT connection.
type Bus interface {
	ports.Publisher
	ports.Subscriber
}

// CommandFunc executes one request line and returns the framed response.
type CommandFunc func(ctx context.Context, line string) []byte

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	TopicBase string
	QoS       byte
	Retain    bool
}

// Bridge mirrors broker topics onto a Bus and answers request lines sent to
// <base>/cmd on <base>/reply.
type Bridge struct {
	log    *zap.Logger
	broker *Broker
	bus    Bus
	exec   CommandFunc
	cfg    BridgeConfig
}

// NewBridge creates a bridge. exec may be nil to disable remote commands.
func NewBridge(log *zap.Logger, broker *Broker, bus Bus, cfg BridgeConfig, exec CommandFunc) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.TopicBase = strings.TrimRight(strings.TrimSpace(cfg.TopicBase), "/")
	if cfg.TopicBase == "" {
		cfg.TopicBase = DefaultTopicBase
	}
	return &Bridge{log: log, broker: broker, bus: bus, exec: exec, cfg: cfg}
}

// BusTopic maps a broker topic onto the bus namespace.
func (b *Bridge) BusTopic(topic string) string {
	return b.cfg.TopicBase + "/" + strings.ReplaceAll(topic, ".", "/")
}

// CommandTopic is where request lines are accepted.
func (b *Bridge) CommandTopic() string { return b.cfg.TopicBase + "/cmd" }

// ReplyTopic is where framed responses are published.
func (b *Bridge) ReplyTopic() string { return b.cfg.TopicBase + "/reply" }

// Run mirrors messages until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.broker.NewSubscriber("mqtt-bridge")
	defer b.broker.Remove(sub)
	for _, topic := range Topics {
		if err := sub.Subscribe(topic); err != nil {
			return err
		}
	}

	if b.exec != nil {
		handler := func(_ string, payload []byte) {
			line := strings.TrimRight(string(payload), "\r\n")
			reply := b.exec(ctx, line)
			if err := b.bus.Publish(b.ReplyTopic(), b.cfg.QoS, false, reply); err != nil {
				b.log.Warn("mqtt reply failed", zap.Error(err))
			}
		}
		if err := b.bus.Subscribe(b.CommandTopic(), b.cfg.QoS, handler); err != nil {
			return err
		}
		defer func() {
			if err := b.bus.Unsubscribe(b.CommandTopic()); err != nil {
				b.log.Debug("mqtt unsubscribe", zap.Error(err))
			}
		}()
	}

	b.log.Info("mqtt bridge started", zap.String("topic_base", b.cfg.TopicBase))
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		// Position updates are frequent and never retained.
		retain := b.cfg.Retain && msg.Topic != TopicPosition
		if err := b.bus.Publish(b.BusTopic(msg.Topic), b.cfg.QoS, retain, msg.Payload); err != nil {
			b.log.Warn("mqtt publish failed", zap.String("topic", msg.Topic), zap.Error(err))
		}
	}
}
