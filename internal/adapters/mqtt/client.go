// Package mqtt connects the daemon to an MQTT broker.
package mqtt

import (
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/adapters/tlsconf"
	"github.com/feeluown/fuocore/internal/ports"
)

// Options configures the MQTT client.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLSCA     string
	TLSCert   string
	TLSKey    string
	Timeout   time.Duration
	Logger    *zap.Logger
	Debug     bool
}

// Client wraps a paho connection and implements the ports bus interfaces.
type Client struct {
	client paho.Client
	log    *zap.Logger
	debug  bool
}

var (
	_ ports.Publisher  = (*Client)(nil)
	_ ports.Subscriber = (*Client)(nil)
)

// NewClient connects to the broker.
func NewClient(opts Options) (*Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	clientOpts := paho.NewClientOptions().AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetConnectTimeout(opts.Timeout)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		opts.Logger.Warn("mqtt connection lost", zap.Error(err))
	})
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	tlsConfig, err := tlsconf.Load(opts.TLSCA, opts.TLSCert, opts.TLSKey)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		clientOpts.SetTLSConfig(tlsConfig)
	}

	client := paho.NewClient(clientOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Client{client: client, log: opts.Logger, debug: opts.Debug}, nil
}

// Publish publishes a message and waits for the broker to accept it.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if c.debug {
		c.log.Debug("mqtt publish", zap.String("topic", topic), zap.Int("bytes", len(payload)), zap.String("payload", truncatePayload(payload)))
	}
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

// Subscribe subscribes to topic.
func (c *Client) Subscribe(topic string, qos byte, handler ports.MessageHandler) error {
	if c.debug {
		c.log.Debug("mqtt subscribe", zap.String("topic", topic))
	}
	token := c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		if c.debug {
			c.log.Debug("mqtt message", zap.String("topic", msg.Topic()), zap.Int("bytes", len(msg.Payload())))
		}
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

// Unsubscribe unsubscribes from topic.
func (c *Client) Unsubscribe(topic string) error {
	token := c.client.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

// Close disconnects, waiting up to 250ms for in-flight work.
func (c *Client) Close() error {
	c.client.Disconnect(250)
	return nil
}

func truncatePayload(payload []byte) string {
	const limit = 2048
	if len(payload) <= limit {
		return string(payload)
	}
	return string(payload[:limit]) + "..."
}
