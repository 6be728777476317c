// Package mqttsender talks to devices through an MQTT bridge. Requests and
// replies travel as msgpack envelopes on per device topics.
package mqttsender

import (
	"fmt"
	"strings"
	"time"

	"lumen-gatherer/internal/protocol"
)

const (
	DefaultTopicPrefix     = "lumen"
	DefaultDiscoveryWindow = time.Second
)

type Options struct {
	// TopicPrefix is the first level of every topic.
	TopicPrefix string
	// Source identifies this node in the requests it publishes.
	Source string
	// DiscoveryWindow is how long Discover collects answers.
	DiscoveryWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.TopicPrefix == "" {
		o.TopicPrefix = DefaultTopicPrefix
	}
	if o.DiscoveryWindow <= 0 {
		o.DiscoveryWindow = DefaultDiscoveryWindow
	}
	return o
}

func (o Options) requestTopic(serial protocol.Serial) string {
	return fmt.Sprintf("%s/%s/request", o.TopicPrefix, serial)
}

func (o Options) replyTopic(serial protocol.Serial) string {
	return fmt.Sprintf("%s/%s/reply", o.TopicPrefix, serial)
}

func (o Options) discoverTopic() string {
	return o.TopicPrefix + "/discover"
}

// serialFromTopic reads the device level of <prefix>/<serial>/<kind>.
func (o Options) serialFromTopic(topic string) (protocol.Serial, bool) {
	rest, ok := strings.CutPrefix(topic, o.TopicPrefix+"/")
	if !ok {
		return "", false
	}
	level, _, ok := strings.Cut(rest, "/")
	if !ok {
		return "", false
	}
	serial, err := protocol.ParseSerial(level)
	return serial, err == nil
}

// envelope is the wire form of both requests and replies. A reply carries
// the request id it answers and Final on the last reply to that request.
type envelope struct {
	RequestID  string         `msgpack:"request_id"`
	Source     string         `msgpack:"source,omitempty"`
	Serial     string         `msgpack:"serial"`
	Protocol   uint16         `msgpack:"protocol"`
	Type       uint16         `msgpack:"type"`
	Payload    map[string]any `msgpack:"payload"`
	Final      bool           `msgpack:"final,omitempty"`
	RemoteAddr string         `msgpack:"remote_addr,omitempty"`
}

func requestEnvelope(id, source string, serial protocol.Serial, msg protocol.Message) envelope {
	return envelope{
		RequestID: id,
		Source:    source,
		Serial:    serial.String(),
		Protocol:  msg.Protocol,
		Type:      uint16(msg.Type),
		Payload:   msg.Payload,
	}
}

func (e envelope) message() protocol.Message {
	return protocol.Message{
		Protocol: e.Protocol,
		Type:     protocol.PacketType(e.Type),
		Payload:  protocol.Fields(e.Payload),
		Target:   protocol.Serial(e.Serial),
	}
}

func replyEnvelope(id string, pkt *protocol.Packet, final bool) envelope {
	return envelope{
		RequestID:  id,
		Serial:     pkt.Serial.String(),
		Protocol:   protocol.DefaultProtocol,
		Type:       uint16(pkt.Type),
		Payload:    pkt.Payload,
		Final:      final,
		RemoteAddr: pkt.RemoteAddr,
	}
}

func (e envelope) packet(request protocol.Key) *protocol.Packet {
	return &protocol.Packet{
		Serial:     protocol.Serial(e.Serial),
		Type:       protocol.PacketType(e.Type),
		Payload:    protocol.Fields(e.Payload),
		Request:    request,
		RemoteAddr: e.RemoteAddr,
	}
}
