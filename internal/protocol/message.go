package protocol

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// identityMode encodes with Core Deterministic Encoding (RFC 8949 §4.2) so the
// same logical request always hashes to the same Key regardless of map
// ordering or the integer widths used to build the payload.
var identityMode cbor.EncMode

func init() {
	var err error
	identityMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR identity encoder initialization failed: " + err.Error())
	}
}

// Key is the identity of a request: protocol, packet type and payload. Two
// requests with the same Key are interchangeable, so their replies share a
// cache slot.
type Key [32]byte

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

func (k Key) IsZero() bool {
	return k == Key{}
}

// Message is a request to send to a device.
type Message struct {
	Protocol uint16
	Type     PacketType
	Payload  Fields
	Target   Serial
}

// NewMessage builds a request using the default protocol.
func NewMessage(t PacketType, payload Fields) Message {
	return Message{
		Protocol: DefaultProtocol,
		Type:     t,
		Payload:  payload,
	}
}

type identity struct {
	_        struct{} `cbor:",toarray"`
	Protocol uint16
	Type     uint16
	Payload  Fields
}

// Key derives the identity of this message. The target does not participate.
func (m Message) Key() Key {
	payload := m.Payload
	if payload == nil {
		payload = Fields{}
	}

	encoded, err := identityMode.Marshal(identity{Protocol: m.Protocol, Type: uint16(m.Type), Payload: payload})
	if err != nil {
		// fmt sorts map keys, which keeps this fallback deterministic
		encoded = []byte(fmt.Sprintf("%d|%d|%v", m.Protocol, m.Type, payload))
	}
	return Key(blake3.Sum256(encoded))
}

// WithTarget returns a copy of the message addressed to serial.
func (m Message) WithTarget(serial Serial) Message {
	clone := m
	clone.Payload = m.Payload.Clone()
	clone.Target = serial
	return clone
}

func (m Message) String() string {
	if m.Target != "" {
		return fmt.Sprintf("%s(%s)", m.Type, m.Target)
	}
	return m.Type.String()
}

// Packet is a reply received from a device.
type Packet struct {
	Serial     Serial
	Type       PacketType
	Payload    Fields
	Request    Key
	RemoteAddr string
}

// Is reports whether the packet is of the given type.
func (p *Packet) Is(t PacketType) bool {
	return p != nil && p.Type == t
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s from %s", p.Type, p.Serial)
}
