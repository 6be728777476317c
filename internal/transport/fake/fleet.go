// Package fake is an in-memory fleet of virtual devices. It implements the
// transport contracts so the gatherer can run without a network.
package fake

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"lumen-gatherer/internal/protocol"
	"lumen-gatherer/internal/transport"
)

type virtualDevice struct {
	state   Device
	offline bool
	ignored map[protocol.PacketType]bool
	delay   time.Duration
	sent    []protocol.Message
}

// Fleet is safe for concurrent use.
type Fleet struct {
	mu      sync.Mutex
	devices map[protocol.Serial]*virtualDevice
}

func NewFleet(devices ...Device) *Fleet {
	f := &Fleet{devices: make(map[protocol.Serial]*virtualDevice)}
	for _, d := range devices {
		f.Add(d)
	}
	return f
}

// Add registers a device, replacing any device with the same serial.
func (f *Fleet) Add(d Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[d.Serial] = &virtualDevice{state: d, ignored: make(map[protocol.PacketType]bool)}
}

func (f *Fleet) Remove(serial protocol.Serial) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.devices, serial)
}

// SetOffline makes the device refuse every Send and drop out of discovery.
func (f *Fleet) SetOffline(serial protocol.Serial, offline bool) {
	f.with(serial, func(v *virtualDevice) { v.offline = offline })
}

// Ignore makes the device stay silent for the given request types.
func (f *Fleet) Ignore(serial protocol.Serial, types ...protocol.PacketType) {
	f.with(serial, func(v *virtualDevice) {
		for _, t := range types {
			v.ignored[t] = true
		}
	})
}

// Unignore clears every Ignore for the device.
func (f *Fleet) Unignore(serial protocol.Serial) {
	f.with(serial, func(v *virtualDevice) { v.ignored = make(map[protocol.PacketType]bool) })
}

// SetDelay postpones every reply of the device.
func (f *Fleet) SetDelay(serial protocol.Serial, delay time.Duration) {
	f.with(serial, func(v *virtualDevice) { v.delay = delay })
}

// Update mutates the state of a device.
func (f *Fleet) Update(serial protocol.Serial, fn func(*Device)) {
	f.with(serial, func(v *virtualDevice) { fn(&v.state) })
}

// Sent returns the messages the device received, in order.
func (f *Fleet) Sent(serial protocol.Serial) []protocol.Message {
	var out []protocol.Message
	f.with(serial, func(v *virtualDevice) {
		out = append(out, v.sent...)
	})
	return out
}

// SentTypes is Sent reduced to the packet types.
func (f *Fleet) SentTypes(serial protocol.Serial) []protocol.PacketType {
	msgs := f.Sent(serial)
	types := make([]protocol.PacketType, 0, len(msgs))
	for _, m := range msgs {
		types = append(types, m.Type)
	}
	return types
}

// ResetSent forgets the sent log of every device.
func (f *Fleet) ResetSent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.devices {
		v.sent = nil
	}
}

func (f *Fleet) with(serial protocol.Serial, fn func(*virtualDevice)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.devices[serial]; ok {
		fn(v)
	}
}

// Discover lists every online device sorted by serial.
func (f *Fleet) Discover(ctx context.Context) ([]protocol.Serial, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	serials := make([]protocol.Serial, 0, len(f.devices))
	for serial, v := range f.devices {
		if !v.offline {
			serials = append(serials, serial)
		}
	}
	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })
	return serials, nil
}

// Send answers every message from the current device state. Ignored
// messages are reported as timeouts once the message timeout elapses.
func (f *Fleet) Send(ctx context.Context, serial protocol.Serial, msgs []protocol.Message, opts transport.SendOptions) (<-chan *protocol.Packet, error) {
	f.mu.Lock()
	v, ok := f.devices[serial]
	if !ok || v.offline {
		f.mu.Unlock()
		return nil, &transport.UnreachableError{Serial: serial}
	}

	var (
		replies []*protocol.Packet
		silent  []protocol.Message
	)
	for _, msg := range msgs {
		v.sent = append(v.sent, msg)
		if v.ignored[msg.Type] {
			silent = append(silent, msg)
			continue
		}
		key := msg.Key()
		for _, pkt := range v.state.respond(msg) {
			pkt.Request = key
			replies = append(replies, pkt)
		}
	}
	delay := v.delay
	f.mu.Unlock()

	slog.Debug("fake device answering",
		slog.String("serial", serial.String()),
		slog.Int("messages", len(msgs)),
		slog.Int("replies", len(replies)),
		slog.Int("silent", len(silent)),
	)

	out := make(chan *protocol.Packet)
	go func() {
		defer close(out)

		if delay > 0 && !wait(ctx, delay) {
			return
		}

		for _, pkt := range replies {
			select {
			case out <- pkt:
			case <-ctx.Done():
				return
			}
		}

		if len(silent) == 0 {
			return
		}
		if !wait(ctx, opts.Timeout()) {
			return
		}
		for _, msg := range silent {
			opts.Report(&transport.TimeoutError{Serial: serial, Type: msg.Type, Timeout: opts.Timeout()})
		}
	}()

	return out, nil
}

func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
