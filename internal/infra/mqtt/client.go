// Package mqtt provides a wrapper around the paho MQTT client with
// reconnection, a bounded offline queue and subscription replay.
package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// MessageHandler is invoked for each message delivered on a subscribed
// topic. Handlers run on their own goroutine; a slow handler cannot stall
// the delivery loop.
type MessageHandler func(topic string, payload []byte)

// Options configures the broker session.
type Options struct {
	Host      string
	Port      int
	Username  string
	Password  string
	ClientID  string
	Prefix    string
	QueueSize int
}

// Client maintains a persistent session with the message broker. Publishes
// while disconnected are queued (retained messages only, bounded, oldest
// dropped) and flushed on reconnect.
type Client struct {
	mu     sync.Mutex
	client paho.Client
	prefix string
	queue  *publishQueue

	subs  map[string]MessageHandler
	hooks []func()
}

// NewClient creates a broker client. Connect must be called before use.
func NewClient(opts Options) *Client {
	c := &Client{
		prefix: opts.Prefix,
		queue:  newPublishQueue(opts.QueueSize),
		subs:   make(map[string]MessageHandler),
	}

	po := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", opts.Host, opts.Port)).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetKeepAlive(30 * time.Second).
		SetWill(c.AvailabilityTopic(), "offline", 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost, reconnecting...")
		})
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	c.client = paho.NewClient(po)
	return c
}

// Connect starts the session. With connect-retry enabled the broker being
// down at startup is not an error; the client keeps trying with backoff.
func (c *Client) Connect() {
	log.Info().Str("availability", c.AvailabilityTopic()).Msg("Connecting to MQTT broker")
	c.client.Connect()
}

// onConnect runs on every (re)connect: availability first, then
// subscription replay, queued retained publishes, and registered hooks.
func (c *Client) onConnect(pc paho.Client) {
	log.Info().Msg("Connected to MQTT broker")

	pc.Publish(c.AvailabilityTopic(), 1, true, "online")

	c.mu.Lock()
	subs := make(map[string]MessageHandler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	pending := c.queue.drain()
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()

	for topic, h := range subs {
		c.subscribe(topic, h)
	}
	for _, m := range pending {
		pc.Publish(m.topic, 1, true, m.payload)
	}
	if len(pending) > 0 {
		log.Info().Int("count", len(pending)).Msg("Flushed queued retained publishes")
	}
	for _, hook := range hooks {
		go hook()
	}
}

// Topic joins parts under the configured topic prefix.
func (c *Client) Topic(parts ...string) string {
	topic := c.prefix
	for _, p := range parts {
		topic += "/" + p
	}
	return topic
}

// AvailabilityTopic is where the retained online/offline marker lives. The
// broker publishes "offline" here via last-will if the process dies
// uncleanly.
func (c *Client) AvailabilityTopic() string {
	return c.prefix + "/status/available"
}

// Publish sends a message, fire-and-forget. While disconnected, retained
// messages are queued for the next reconnect; non-retained telemetry is
// dropped (the next sample supersedes it).
func (c *Client) Publish(topic string, payload []byte, retained bool) {
	if c.client.IsConnectionOpen() {
		c.client.Publish(topic, 1, retained, payload)
		return
	}
	if retained {
		if dropped := c.queue.push(topic, payload); dropped {
			log.Warn().Str("topic", topic).Msg("Publish queue full, dropped oldest message")
		}
		return
	}
	log.Debug().Str("topic", topic).Msg("Dropped non-retained publish while disconnected")
}

// Subscribe registers a handler for a topic. The subscription is replayed
// on every reconnect.
func (c *Client) Subscribe(topic string, handler MessageHandler) {
	c.mu.Lock()
	c.subs[topic] = handler
	connected := c.client.IsConnectionOpen()
	c.mu.Unlock()

	if connected {
		c.subscribe(topic, handler)
	}
}

func (c *Client) subscribe(topic string, handler MessageHandler) {
	token := c.client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		go handler(msg.Topic(), msg.Payload())
	})
	go func() {
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", topic).Msg("Subscribe failed")
		}
	}()
}

// OnConnect registers a hook invoked (on its own goroutine) after each
// successful connect. Used for discovery publication.
func (c *Client) OnConnect(hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Close publishes the offline marker and disconnects with a bounded flush.
func (c *Client) Close(timeout time.Duration) {
	if c.client.IsConnectionOpen() {
		token := c.client.Publish(c.AvailabilityTopic(), 1, true, "offline")
		token.WaitTimeout(timeout)
	}
	c.client.Disconnect(uint(timeout / time.Millisecond))
}
