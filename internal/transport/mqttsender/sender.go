package mqttsender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"lumen-gatherer/internal/infra/mqtt"
	"lumen-gatherer/internal/protocol"
	"lumen-gatherer/internal/transport"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	_ transport.Sender     = (*Sender)(nil)
	_ transport.Discoverer = (*Sender)(nil)
)

// call receives the replies to the requests of one Send or Discover.
type call struct {
	inbox chan envelope
	done  chan struct{}
}

func newCall(size int) *call {
	return &call{inbox: make(chan envelope, size), done: make(chan struct{})}
}

func (c *call) deliver(env envelope) {
	select {
	case c.inbox <- env:
	case <-c.done:
	}
}

// Sender implements transport.Sender and transport.Discoverer over MQTT.
type Sender struct {
	client mqtt.Client
	opts   Options

	mu      sync.Mutex
	pending map[string]*call
}

// New subscribes to the replies of every device.
func New(client mqtt.Client, opts Options) (*Sender, error) {
	s := &Sender{
		client:  client,
		opts:    opts.withDefaults(),
		pending: make(map[string]*call),
	}

	if err := client.Subscribe(s.replyFilter(), 0, s.onReply); err != nil {
		return nil, fmt.Errorf("subscribing to replies: %w", err)
	}
	return s, nil
}

func (s *Sender) replyFilter() string {
	return s.opts.TopicPrefix + "/+/reply"
}

func (s *Sender) Close() error {
	return s.client.Unsubscribe(s.replyFilter())
}

func (s *Sender) register(c *call, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.pending[id] = c
	}
}

func (s *Sender) unregister(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.pending, id)
	}
}

func (s *Sender) onReply(_ mqtt.Client, msg mqtt.Message) {
	var env envelope
	if err := msgpack.Unmarshal(msg.Payload(), &env); err != nil {
		slog.Warn("dropping undecodable reply", slog.String("topic", msg.Topic()), slog.Any("error", err))
		return
	}
	if env.Serial == "" {
		if serial, ok := s.opts.serialFromTopic(msg.Topic()); ok {
			env.Serial = serial.String()
		}
	}

	s.mu.Lock()
	c, ok := s.pending[env.RequestID]
	s.mu.Unlock()

	if !ok {
		slog.Debug("dropping reply to unknown request",
			slog.String("request_id", env.RequestID),
			slog.String("serial", env.Serial),
		)
		return
	}
	c.deliver(env)
}

// Send publishes every message to the device and streams the replies. Only
// a failure to publish makes the device unreachable: over a bridge, silence
// is reported per message once the timeout passes.
func (s *Sender) Send(ctx context.Context, serial protocol.Serial, msgs []protocol.Message, opts transport.SendOptions) (<-chan *protocol.Packet, error) {
	ids := make([]string, len(msgs))
	requests := make(map[string]protocol.Message, len(msgs))
	for i, msg := range msgs {
		ids[i] = uuid.NewString()
		requests[ids[i]] = msg
	}

	c := newCall(len(msgs) + 1)
	s.register(c, ids...)

	for _, id := range ids {
		env := requestEnvelope(id, s.opts.Source, serial, requests[id])
		if err := s.client.Publish(s.opts.requestTopic(serial), env); err != nil {
			close(c.done)
			s.unregister(ids...)
			return nil, &transport.UnreachableError{Serial: serial, Err: err}
		}
	}

	slog.Debug("published requests", slog.String("serial", serial.String()), slog.Int("messages", len(msgs)))

	out := make(chan *protocol.Packet)
	go s.collect(ctx, c, serial, ids, requests, opts, out)
	return out, nil
}

func (s *Sender) collect(ctx context.Context, c *call, serial protocol.Serial, ids []string, requests map[string]protocol.Message, opts transport.SendOptions, out chan<- *protocol.Packet) {
	defer close(out)
	defer s.unregister(ids...)
	defer close(c.done)

	remaining := make(map[string]bool, len(ids))
	for _, id := range ids {
		remaining[id] = true
	}

	timer := time.NewTimer(opts.Timeout())
	defer timer.Stop()

	for len(remaining) > 0 {
		select {
		case env := <-c.inbox:
			msg, ok := requests[env.RequestID]
			if !ok {
				continue
			}
			select {
			case out <- env.packet(msg.Key()):
			case <-ctx.Done():
				return
			}
			if env.Final {
				delete(remaining, env.RequestID)
			}

		case <-timer.C:
			for _, id := range ids {
				if remaining[id] {
					opts.Report(&transport.TimeoutError{Serial: serial, Type: requests[id].Type, Timeout: opts.Timeout()})
				}
			}
			return

		case <-ctx.Done():
			return
		}
	}
}

// Discover asks every device to announce itself and collects the answers
// for the discovery window.
func (s *Sender) Discover(ctx context.Context) ([]protocol.Serial, error) {
	id := uuid.NewString()
	c := newCall(64)
	s.register(c, id)
	defer s.unregister(id)
	defer close(c.done)

	env := requestEnvelope(id, s.opts.Source, "", protocol.NewMessage(protocol.GetService, nil))
	if err := s.client.Publish(s.opts.discoverTopic(), env); err != nil {
		return nil, fmt.Errorf("publishing discovery: %w", err)
	}

	timer := time.NewTimer(s.opts.DiscoveryWindow)
	defer timer.Stop()

	found := make(map[protocol.Serial]bool)
	for {
		select {
		case reply := <-c.inbox:
			if protocol.PacketType(reply.Type) != protocol.StateService {
				continue
			}
			if serial, err := protocol.ParseSerial(reply.Serial); err == nil {
				found[serial] = true
			}

		case <-timer.C:
			return sortedSerials(found), nil

		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && len(found) > 0 {
				return sortedSerials(found), nil
			}
			return nil, ctx.Err()
		}
	}
}

func sortedSerials(set map[protocol.Serial]bool) []protocol.Serial {
	serials := make([]protocol.Serial, 0, len(set))
	for serial := range set {
		serials = append(serials, serial)
	}
	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })
	return serials
}
