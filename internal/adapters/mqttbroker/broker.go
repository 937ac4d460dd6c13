// Package mqttbroker runs an in-process MQTT broker. Its inline client also
// serves as a bus for the pubsub bridge when no external broker is set.
package mqttbroker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/adapters/tlsconf"
	"github.com/feeluown/fuocore/internal/ports"
)

// DefaultListen is the broker address when none is configured.
const DefaultListen = "127.0.0.1:1883"

// Config configures the embedded broker.
type Config struct {
	Listen         string
	AllowAnonymous bool
	Username       string
	Password       string
	TLSCA          string
	TLSCert        string
	TLSKey         string
}

// Broker is an embedded MQTT broker.
type Broker struct {
	log    *zap.Logger
	server *mqtt.Server
	config Config

	mu     sync.Mutex
	subIDs map[string]int
	nextID int
}

var (
	_ ports.Publisher  = (*Broker)(nil)
	_ ports.Subscriber = (*Broker)(nil)
)

// New creates a broker. It does not listen until Run.
func New(log *zap.Logger, cfg Config) (*Broker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = DefaultListen
	}
	server, err := newServer(log, cfg)
	if err != nil {
		return nil, err
	}
	return &Broker{log: log, server: server, config: cfg, subIDs: map[string]int{}}, nil
}

// Run serves MQTT clients until ctx is done.
func (b *Broker) Run(ctx context.Context) error {
	listenerConfig := listeners.Config{ID: "tcp-embedded", Address: b.config.Listen}
	tlsConfig, err := tlsconf.Load(b.config.TLSCA, b.config.TLSCert, b.config.TLSKey)
	if err != nil {
		return err
	}
	listenerConfig.TLSConfig = tlsConfig
	if err := b.server.AddListener(listeners.NewTCP(listenerConfig)); err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		errc <- b.server.Serve()
	}()
	b.log.Info("embedded mqtt listening", zap.String("addr", b.config.Listen))

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("embedded mqtt: %w", err)
		}
		<-ctx.Done()
	}
	return b.server.Close()
}

// URL returns the URL clients use to reach the broker.
func (b *Broker) URL() string {
	return BrokerURL(b.config.Listen, b.config.TLSCert != "")
}

// Publish publishes through the inline client.
func (b *Broker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return b.server.Publish(topic, payload, retained, qos)
}

// Subscribe subscribes the inline client to topic.
func (b *Broker) Subscribe(topic string, qos byte, handler ports.MessageHandler) error {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subIDs[topic] = id
	b.mu.Unlock()
	return b.server.Subscribe(topic, id, func(_ *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
		handler(pk.TopicName, pk.Payload)
	})
}

// Unsubscribe removes the inline subscription for topic.
func (b *Broker) Unsubscribe(topic string) error {
	b.mu.Lock()
	id, ok := b.subIDs[topic]
	delete(b.subIDs, topic)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return b.server.Unsubscribe(topic, id)
}

func newServer(log *zap.Logger, cfg Config) (*mqtt.Server, error) {
	server := mqtt.New(&mqtt.Options{InlineClient: true, Logger: NewSlogLogger(log)})

	switch {
	case cfg.AllowAnonymous:
		if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
			return nil, err
		}
	case cfg.Username != "":
		ledger := &auth.Ledger{
			Auth: auth.AuthRules{{Username: auth.RString(cfg.Username), Password: auth.RString(cfg.Password), Allow: true}},
			ACL:  auth.ACLRules{{Username: auth.RString(cfg.Username), Filters: auth.Filters{auth.RString("#"): auth.ReadWrite}}},
		}
		if err := server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger}); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("embedded mqtt requires allow_anonymous or username")
	}
	return server, nil
}

// BrokerURL returns the broker URL for a listen address.
func BrokerURL(listen string, tlsEnabled bool) string {
	scheme := "mqtt"
	if tlsEnabled {
		scheme = "mqtts"
	}
	return fmt.Sprintf("%s://%s", scheme, listen)
}
