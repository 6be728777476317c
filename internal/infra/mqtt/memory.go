package mqtt

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
)

// MemoryBroker routes messages between in process clients with the topic
// rules of a real broker. Each client gets its messages in publish order on
// a goroutine of its own, like the paho router does.
type MemoryBroker struct {
	mu      sync.RWMutex
	clients map[*MemoryClient]struct{}
	nextID  atomic.Uint32
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{clients: make(map[*MemoryClient]struct{})}
}

// Client connects a new client to the broker.
func (b *MemoryBroker) Client() *MemoryClient {
	c := &MemoryClient{
		broker:        b,
		subscriptions: make(map[string]MessageHandler),
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
	}
	go c.deliver()

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	return c
}

func (b *MemoryBroker) route(topic string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	id := uint16(b.nextID.Add(1))
	for c := range b.clients {
		c.offer(memoryMessage{topic: topic, id: id, payload: payload})
	}
}

func (b *MemoryBroker) remove(c *MemoryClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c)
}

var _ Client = (*MemoryClient)(nil)

type MemoryClient struct {
	broker *MemoryBroker

	mu            sync.Mutex
	subscriptions map[string]MessageHandler
	queue         []memoryMessage

	wake chan struct{}
	stop chan struct{}
	once sync.Once
}

func (c *MemoryClient) Subscribe(topic string, _ byte, callback MessageHandler) error {
	if !validFilter(topic) {
		return fmt.Errorf("subscribing to topic %s: invalid filter", topic)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[topic] = callback
	return nil
}

func (c *MemoryClient) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, topic)
	return nil
}

func (c *MemoryClient) Publish(topic string, msg any) error {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	c.broker.route(topic, payload)
	return nil
}

func (c *MemoryClient) Disconnect() {
	c.once.Do(func() {
		c.broker.remove(c)
		close(c.stop)
	})
}

// offer queues msg when any subscription matches it.
func (c *MemoryClient) offer(msg memoryMessage) {
	c.mu.Lock()
	matched := false
	for filter := range c.subscriptions {
		if Matches(filter, msg.topic) {
			matched = true
			break
		}
	}
	if matched {
		c.queue = append(c.queue, msg)
	}
	c.mu.Unlock()

	if matched {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

func (c *MemoryClient) deliver() {
	for {
		select {
		case <-c.stop:
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			msg := c.queue[0]
			c.queue = c.queue[1:]
			var handlers []MessageHandler
			for filter, handler := range c.subscriptions {
				if Matches(filter, msg.topic) {
					handlers = append(handlers, handler)
				}
			}
			c.mu.Unlock()

			for _, handler := range handlers {
				handler(c, msg)
			}
		}
	}
}

type memoryMessage struct {
	topic   string
	id      uint16
	payload []byte
}

func (m memoryMessage) Topic() string     { return m.topic }
func (m memoryMessage) MessageID() uint16 { return m.id }
func (m memoryMessage) Payload() []byte   { return m.payload }
func (m memoryMessage) Ack()              {}

func validFilter(filter string) bool {
	if filter == "" {
		return false
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return false
		}
		if strings.Contains(level, "+") && level != "+" {
			return false
		}
	}
	return true
}

// Matches reports whether topic is selected by filter, honouring the single
// level (+) and multi level (#) wildcards.
func Matches(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")

	for i, level := range f {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
