package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Serial identifies a device on the network. It is the device MAC address
// rendered as 12 lower case hex characters.
type Serial string

func (s Serial) String() string {
	return string(s)
}

// ParseSerial normalises and validates a serial.
func ParseSerial(value string) (Serial, error) {
	normalised := strings.ToLower(strings.TrimSpace(value))
	if len(normalised) != 12 {
		return "", fmt.Errorf("invalid serial %q: expected 12 hex characters", value)
	}
	if _, err := hex.DecodeString(normalised); err != nil {
		return "", fmt.Errorf("invalid serial %q: %w", value, err)
	}
	return Serial(normalised), nil
}

// DefaultProtocol is the protocol number every lighting message uses.
const DefaultProtocol uint16 = 1024

type PacketType uint16

const (
	GetService                 PacketType = 2
	StateService               PacketType = 3
	GetHostFirmware            PacketType = 14
	StateHostFirmware          PacketType = 15
	GetPower                   PacketType = 20
	StatePower                 PacketType = 22
	GetLabel                   PacketType = 23
	StateLabel                 PacketType = 25
	GetVersion                 PacketType = 32
	StateVersion               PacketType = 33
	EchoRequest                PacketType = 58
	EchoResponse               PacketType = 59
	LightGet                   PacketType = 101
	LightState                 PacketType = 107
	GetInfrared                PacketType = 120
	StateInfrared              PacketType = 121
	GetHevCycle                PacketType = 142
	StateHevCycle              PacketType = 144
	GetHevCycleConfiguration   PacketType = 145
	StateHevCycleConfiguration PacketType = 147
	GetLastHevCycleResult      PacketType = 148
	StateLastHevCycleResult    PacketType = 149
	GetColorZones              PacketType = 502
	StateZone                  PacketType = 503
	StateMultiZone             PacketType = 506
	GetMultiZoneEffect         PacketType = 507
	StateMultiZoneEffect       PacketType = 509
	GetExtendedColorZones      PacketType = 511
	StateExtendedColorZones    PacketType = 512
	GetDeviceChain             PacketType = 701
	StateDeviceChain           PacketType = 702
	Get64                      PacketType = 707
	State64                    PacketType = 711
	GetTileEffect              PacketType = 718
	StateTileEffect            PacketType = 720
)

var packetTypeNames = map[PacketType]string{
	GetService:                 "GetService",
	StateService:               "StateService",
	GetHostFirmware:            "GetHostFirmware",
	StateHostFirmware:          "StateHostFirmware",
	GetPower:                   "GetPower",
	StatePower:                 "StatePower",
	GetLabel:                   "GetLabel",
	StateLabel:                 "StateLabel",
	GetVersion:                 "GetVersion",
	StateVersion:               "StateVersion",
	EchoRequest:                "EchoRequest",
	EchoResponse:               "EchoResponse",
	LightGet:                   "LightGet",
	LightState:                 "LightState",
	GetInfrared:                "GetInfrared",
	StateInfrared:              "StateInfrared",
	GetHevCycle:                "GetHevCycle",
	StateHevCycle:              "StateHevCycle",
	GetHevCycleConfiguration:   "GetHevCycleConfiguration",
	StateHevCycleConfiguration: "StateHevCycleConfiguration",
	GetLastHevCycleResult:      "GetLastHevCycleResult",
	StateLastHevCycleResult:    "StateLastHevCycleResult",
	GetColorZones:              "GetColorZones",
	StateZone:                  "StateZone",
	StateMultiZone:             "StateMultiZone",
	GetMultiZoneEffect:         "GetMultiZoneEffect",
	StateMultiZoneEffect:       "StateMultiZoneEffect",
	GetExtendedColorZones:      "GetExtendedColorZones",
	StateExtendedColorZones:    "StateExtendedColorZones",
	GetDeviceChain:             "GetDeviceChain",
	StateDeviceChain:           "StateDeviceChain",
	Get64:                      "Get64",
	State64:                    "State64",
	GetTileEffect:              "GetTileEffect",
	StateTileEffect:            "StateTileEffect",
}

// ParsePacketType looks a packet type up by its name, e.g. "GetPower".
func ParsePacketType(name string) (PacketType, error) {
	for t, n := range packetTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown packet type %q", name)
}

func (t PacketType) String() string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PacketType(%d)", uint16(t))
}

// HSBK is a single color as the devices report it.
type HSBK struct {
	Hue        uint16 `msgpack:"hue" json:"hue"`
	Saturation uint16 `msgpack:"saturation" json:"saturation"`
	Brightness uint16 `msgpack:"brightness" json:"brightness"`
	Kelvin     uint16 `msgpack:"kelvin" json:"kelvin"`
}

// Tile is one item of a device chain.
type Tile struct {
	AccelMeasX           int16   `msgpack:"accel_meas_x" json:"accel_meas_x"`
	AccelMeasY           int16   `msgpack:"accel_meas_y" json:"accel_meas_y"`
	AccelMeasZ           int16   `msgpack:"accel_meas_z" json:"accel_meas_z"`
	UserX                float32 `msgpack:"user_x" json:"user_x"`
	UserY                float32 `msgpack:"user_y" json:"user_y"`
	Width                uint8   `msgpack:"width" json:"width"`
	Height               uint8   `msgpack:"height" json:"height"`
	DeviceVersionVendor  uint32  `msgpack:"device_version_vendor" json:"device_version_vendor"`
	DeviceVersionProduct uint32  `msgpack:"device_version_product" json:"device_version_product"`
	FirmwareBuild        uint64  `msgpack:"firmware_build" json:"firmware_build"`
	FirmwareVersionMinor uint16  `msgpack:"firmware_version_minor" json:"firmware_version_minor"`
	FirmwareVersionMajor uint16  `msgpack:"firmware_version_major" json:"firmware_version_major"`
}
