package async

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

type BrokerTopicName string

type BrokerMessage struct {
	Event string
	Value any
	Span  trace.Span
	Error error
}

type InternalBroker interface {
	Subscribe(topic BrokerTopicName) (Subscription, error)
	Unsubscribe(topic BrokerTopicName, subscription Subscription) error
	Publish(ctx context.Context, topic BrokerTopicName, msg BrokerMessage) error
	Stop()
}

var _ InternalBroker = (*LocalBroker)(nil)

var (
	ErrTopicNotFound       = errors.New("topic not found")
	ErrSubscriptorNotFound = errors.New("subscriptor not found")
)

// LocalBroker fans messages out to in process subscribers. Every
// subscription gets the messages of its topic in publish order and a slow
// reader never blocks the publisher.
type LocalBroker struct {
	mu     sync.Mutex
	topics map[BrokerTopicName][]*subscriptor
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{topics: make(map[BrokerTopicName][]*subscriptor)}
}

type Subscription struct {
	ID       string
	Receiver <-chan BrokerMessage
}

func (b *LocalBroker) Subscribe(topic BrokerTopicName) (Subscription, error) {
	s := newSubscriptor()
	go s.pump()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = append(b.topics[topic], s)
	return s.subscription, nil
}

// Unsubscribe closes the receiver of subscription. Doing it twice is fine.
func (b *LocalBroker) Unsubscribe(topic BrokerTopicName, subscription Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscriptors, ok := b.topics[topic]
	if !ok {
		return ErrTopicNotFound
	}

	index := slices.IndexFunc(subscriptors, func(s *subscriptor) bool { return s.subscription.ID == subscription.ID })
	if index < 0 {
		return ErrSubscriptorNotFound
	}

	subscriptors[index].close()
	return nil
}

func (b *LocalBroker) Publish(ctx context.Context, topic BrokerTopicName, msg BrokerMessage) error {
	msg.Span = trace.SpanFromContext(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	subscriptors, ok := b.topics[topic]
	if !ok {
		return ErrTopicNotFound
	}

	active := subscriptors[:0]
	for _, s := range subscriptors {
		if s.offer(msg) {
			active = append(active, s)
		}
	}
	b.topics[topic] = active
	return nil
}

func (b *LocalBroker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subscriptors := range b.topics {
		for _, s := range subscriptors {
			s.close()
		}
	}
}

type subscriptor struct {
	subscription Subscription
	receiver     chan BrokerMessage

	mu     sync.Mutex
	queue  []BrokerMessage
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newSubscriptor() *subscriptor {
	receiver := make(chan BrokerMessage)
	return &subscriptor{
		subscription: Subscription{ID: uuid.NewString(), Receiver: receiver},
		receiver:     receiver,
		wake:         make(chan struct{}, 1),
		closed:       make(chan struct{}),
	}
}

// offer queues msg and reports false once the subscriptor is closed.
func (s *subscriptor) offer(msg BrokerMessage) bool {
	select {
	case <-s.closed:
		return false
	default:
	}

	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// pump is the only writer of the receiver, so it is the one closing it.
func (s *subscriptor) pump() {
	defer close(s.receiver)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.closed:
				return
			}
		}
		msg := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.receiver <- msg:
		case <-s.closed:
			return
		}
	}
}

func (s *subscriptor) close() {
	s.once.Do(func() {
		close(s.closed)
	})
}
