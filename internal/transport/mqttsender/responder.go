package mqttsender

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lumen-gatherer/internal/infra/async"
	"lumen-gatherer/internal/infra/mqtt"
	"lumen-gatherer/internal/protocol"
	"lumen-gatherer/internal/transport"

	"github.com/vmihailenco/msgpack/v5"
)

var _ async.Worker = (*Responder)(nil)

// Responder is the device side of the bridge: it answers the requests
// published for its devices using a local Sender, such as a fake fleet.
type Responder struct {
	client     mqtt.Client
	sender     transport.Sender
	discoverer transport.Discoverer
	opts       Options
	timeout    time.Duration

	mu       sync.Mutex
	inflight sync.WaitGroup
	cancel   context.CancelFunc
}

func NewResponder(client mqtt.Client, sender transport.Sender, discoverer transport.Discoverer, opts Options) *Responder {
	return &Responder{
		client:     client,
		sender:     sender,
		discoverer: discoverer,
		opts:       opts.withDefaults(),
		timeout:    transport.DefaultMessageTimeout,
	}
}

func (r *Responder) requestFilter() string {
	return r.opts.TopicPrefix + "/+/request"
}

// Listen subscribes to the requests and the discovery topic. Requests are
// served until ctx is done.
func (r *Responder) Listen(ctx context.Context) error {
	onRequest := func(_ mqtt.Client, msg mqtt.Message) { r.onRequest(ctx, msg) }
	onDiscover := func(_ mqtt.Client, msg mqtt.Message) { r.onDiscover(ctx, msg) }

	if err := r.client.Subscribe(r.requestFilter(), 0, onRequest); err != nil {
		return fmt.Errorf("subscribing to requests: %w", err)
	}
	if err := r.client.Subscribe(r.opts.discoverTopic(), 0, onDiscover); err != nil {
		_ = r.client.Unsubscribe(r.requestFilter())
		return fmt.Errorf("subscribing to discovery: %w", err)
	}

	slog.Debug("responder listening", slog.String("prefix", r.opts.TopicPrefix))
	return nil
}

func (r *Responder) Run(ctx context.Context, done func()) {
	defer done()

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	if err := r.Listen(ctx); err != nil {
		slog.Error("responder could not start", slog.Any("error", err))
		return
	}

	<-ctx.Done()

	_ = r.client.Unsubscribe(r.requestFilter())
	_ = r.client.Unsubscribe(r.opts.discoverTopic())
	r.inflight.Wait()
	slog.Info("responder stopped")
}

func (r *Responder) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Responder) onRequest(ctx context.Context, msg mqtt.Message) {
	var env envelope
	if err := msgpack.Unmarshal(msg.Payload(), &env); err != nil {
		slog.Warn("dropping undecodable request", slog.String("topic", msg.Topic()), slog.Any("error", err))
		return
	}
	serial, ok := r.opts.serialFromTopic(msg.Topic())
	if !ok {
		return
	}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		r.answer(ctx, serial, env)
	}()
}

// answer relays the replies of one request. The final flag needs the next
// reply to be known, so one reply is held back at a time.
func (r *Responder) answer(ctx context.Context, serial protocol.Serial, env envelope) {
	replies, err := r.sender.Send(ctx, serial, []protocol.Message{env.message()}, transport.SendOptions{
		MessageTimeout: r.timeout,
		Errors: transport.ErrorCatcherFunc(func(err error) {
			slog.Debug("device did not answer", slog.String("serial", serial.String()), slog.Any("error", err))
		}),
	})
	if err != nil {
		slog.Debug("device unreachable", slog.String("serial", serial.String()), slog.Any("error", err))
		return
	}

	var held *protocol.Packet
	for pkt := range replies {
		if held != nil {
			r.publish(serial, replyEnvelope(env.RequestID, held, false))
		}
		held = pkt
	}
	if held != nil && ctx.Err() == nil {
		r.publish(serial, replyEnvelope(env.RequestID, held, true))
	}
}

func (r *Responder) onDiscover(ctx context.Context, msg mqtt.Message) {
	var env envelope
	if err := msgpack.Unmarshal(msg.Payload(), &env); err != nil {
		slog.Warn("dropping undecodable discovery", slog.Any("error", err))
		return
	}
	if r.discoverer == nil {
		return
	}

	serials, err := r.discoverer.Discover(ctx)
	if err != nil {
		slog.Warn("responder discovery failed", slog.Any("error", err))
		return
	}

	for _, serial := range serials {
		r.publish(serial, envelope{
			RequestID: env.RequestID,
			Serial:    serial.String(),
			Protocol:  protocol.DefaultProtocol,
			Type:      uint16(protocol.StateService),
			Payload:   map[string]any{"service": 1, "port": 56700},
			Final:     true,
		})
	}
}

func (r *Responder) publish(serial protocol.Serial, env envelope) {
	if err := r.client.Publish(r.opts.replyTopic(serial), env); err != nil {
		slog.Warn("failed to publish reply", slog.String("serial", serial.String()), slog.Any("error", err))
	}
}
