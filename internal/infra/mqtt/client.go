package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	_defaultQoS       = 0 // At most once
	_defaultRetained  = false
	_publishTimeout   = 5 * time.Second
	_subscribeTimeout = 5 * time.Second
	_connectTimeout   = 5 * time.Second
	_connectRetries   = 10
	_retryBackoff     = 5 * time.Second
)

// Client publishes msgpack encoded values and delivers raw messages of the
// subscribed topics.
type Client interface {
	Subscribe(topic string, qos byte, callback MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, msg any) error

	Disconnect()
}

type MessageHandler func(Client, Message)

type Message interface {
	Topic() string
	MessageID() uint16
	Payload() []byte
	Ack()
}

type SimpleClientOpts struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Subscription tracks a topic subscription for reconnection recovery
type subscription struct {
	topic    string
	qos      byte
	callback MessageHandler
}

var _ Client = (*SimpleClient)(nil)

type SimpleClient struct {
	client        paho.Client
	subscriptions map[string]subscription
	mu            sync.RWMutex
}

// NewSimpleClient connects to the broker, retrying a few times before
// giving up.
func NewSimpleClient(opts SimpleClientOpts) (*SimpleClient, error) {
	simpleClient := &SimpleClient{
		subscriptions: make(map[string]subscription),
	}

	onConnectHandler := func(client paho.Client) {
		slog.Info("connected to MQTT broker", slog.String("broker", opts.Broker))
		simpleClient.resubscribeAll(client)
	}

	onConnectionLostHandler := func(_ paho.Client, err error) {
		slog.Error("connection lost to MQTT broker", slog.Any("error", err))
	}

	pahoOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetOnConnectHandler(onConnectHandler).
		SetAutoReconnect(true).
		SetConnectionLostHandler(onConnectionLostHandler).
		SetKeepAlive(10 * time.Second).
		SetConnectTimeout(_connectTimeout)

	var lastErr error
	for try := 1; try <= _connectRetries; try++ {
		client := paho.NewClient(pahoOpts)
		token := client.Connect()
		if !token.WaitTimeout(_connectTimeout) {
			lastErr = fmt.Errorf("timed out connecting to %s", opts.Broker)
		} else {
			lastErr = token.Error()
		}

		if lastErr == nil {
			simpleClient.client = client
			return simpleClient, nil
		}

		slog.Warn("error connecting to MQTT broker, retrying",
			slog.Int("try", try),
			slog.Any("error", lastErr),
		)
		time.Sleep(_retryBackoff)
	}

	return nil, fmt.Errorf("connecting to MQTT broker after %d tries: %w", _connectRetries, lastErr)
}

// resubscribeAll re-establishes all subscriptions after reconnection
func (c *SimpleClient) resubscribeAll(client paho.Client) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.subscriptions) == 0 {
		slog.Debug("no subscriptions to restore")
		return
	}

	slog.Info("restoring MQTT subscriptions after reconnection", slog.Int("count", len(c.subscriptions)))

	for topic, sub := range c.subscriptions {
		token := client.Subscribe(sub.topic, sub.qos, c.route(sub.callback))
		token.WaitTimeout(_subscribeTimeout)
		if token.Error() != nil {
			slog.Error("failed to restore subscription after reconnection",
				slog.String("topic", topic), slog.Any("error", token.Error()))
		}
	}
}

func (c *SimpleClient) route(callback MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		callback(c, msg)
	}
}

func (c *SimpleClient) Subscribe(topic string, qos byte, callback MessageHandler) error {
	c.mu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, callback: callback}
	c.mu.Unlock()

	token := c.client.Subscribe(topic, qos, c.route(callback))
	token.WaitTimeout(_subscribeTimeout)
	if token.Error() != nil {
		c.mu.Lock()
		delete(c.subscriptions, topic)
		c.mu.Unlock()
		return fmt.Errorf("subscribing to topic %s: %w", topic, token.Error())
	}

	slog.Debug("subscribed to MQTT topic", slog.String("topic", topic), slog.Int("qos", int(qos)))
	return nil
}

func (c *SimpleClient) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.subscriptions, topic)
	c.mu.Unlock()

	token := c.client.Unsubscribe(topic)
	token.WaitTimeout(_subscribeTimeout)
	if token.Error() != nil {
		return fmt.Errorf("unsubscribing from topic %s: %w", topic, token.Error())
	}
	return nil
}

func (c *SimpleClient) Disconnect() {
	c.mu.Lock()
	c.subscriptions = make(map[string]subscription)
	c.mu.Unlock()

	waitForInMilliseconds := 5 * 1000
	c.client.Disconnect(uint(waitForInMilliseconds))
}

func (c *SimpleClient) Publish(topic string, msg any) error {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	token := c.client.Publish(topic, _defaultQoS, _defaultRetained, payload)
	token.WaitTimeout(_publishTimeout)
	if token.Error() != nil {
		return fmt.Errorf("publishing to topic %s: %w", topic, token.Error())
	}

	return nil
}
