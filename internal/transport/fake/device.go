package fake

import (
	"fmt"

	"lumen-gatherer/internal/products"
	"lumen-gatherer/internal/protocol"
)

// HEV holds the germicidal cycle state of a Clean device.
type HEV struct {
	DurationS        uint32
	RemainingS       uint32
	LastPower        bool
	Indication       bool
	DefaultDurationS uint32
	LastResult       uint8
}

// Effect is a firmware effect currently running on a strip or matrix device.
type Effect struct {
	Type       uint8
	Speed      uint32
	Duration   uint64
	Parameters map[string]any
	Palette    []protocol.HSBK
}

// Device is the state of a virtual device.
type Device struct {
	Serial        protocol.Serial
	Label         string
	Power         uint16
	Color         protocol.HSBK
	Vendor        uint32
	Product       uint32
	Firmware      products.FirmwareVersion
	FirmwareBuild uint64
	Infrared      uint16
	Zones         []protocol.HSBK
	Chain         []protocol.Tile
	TileColors    [][]protocol.HSBK
	HEV           HEV
	Effect        Effect
	RemoteAddr    string
}

func (d Device) capability() products.Capability {
	product, _ := products.Default.Lookup(d.Vendor, d.Product)
	return product.Capability(d.Firmware.Major, d.Firmware.Minor)
}

var defaultColor = protocol.HSBK{Hue: 0, Saturation: 0, Brightness: 65535, Kelvin: 3500}

// Bulb is a single zone color light.
func Bulb(serial protocol.Serial, label string) Device {
	return Device{
		Serial:        serial,
		Label:         label,
		Power:         65535,
		Color:         defaultColor,
		Vendor:        products.VendorLIFX,
		Product:       27,
		Firmware:      products.FirmwareVersion{Major: 3, Minor: 70},
		FirmwareBuild: 1548977726000000000,
	}
}

// Strip is a linear multizone light with the given number of zones.
func Strip(serial protocol.Serial, label string, zones int, firmware products.FirmwareVersion) Device {
	d := Bulb(serial, label)
	d.Product = 32
	d.Firmware = firmware
	d.Zones = make([]protocol.HSBK, zones)
	for i := range d.Zones {
		d.Zones[i] = protocol.HSBK{Hue: uint16(i * 1000), Saturation: 65535, Brightness: 65535, Kelvin: 3500}
	}
	d.Effect = Effect{Type: 1, Speed: 5000, Parameters: map[string]any{"speed_direction": 0}}
	return d
}

// TileChain is a matrix device with tiles of 8x8 zones.
func TileChain(serial protocol.Serial, label string, tiles int) Device {
	d := Bulb(serial, label)
	d.Product = 55
	d.Firmware = products.FirmwareVersion{Major: 3, Minor: 50}
	d.Chain = make([]protocol.Tile, tiles)
	d.TileColors = make([][]protocol.HSBK, tiles)
	for i := range d.Chain {
		d.Chain[i] = protocol.Tile{
			AccelMeasX:           0,
			AccelMeasY:           -100,
			AccelMeasZ:           0,
			UserX:                float32(i),
			UserY:                0,
			Width:                8,
			Height:               8,
			DeviceVersionVendor:  products.VendorLIFX,
			DeviceVersionProduct: 55,
			FirmwareVersionMajor: 3,
			FirmwareVersionMinor: 50,
		}
		colors := make([]protocol.HSBK, 64)
		for j := range colors {
			colors[j] = protocol.HSBK{Hue: uint16(i*100 + j), Saturation: 65535, Brightness: 65535, Kelvin: 3500}
		}
		d.TileColors[i] = colors
	}
	d.Effect = Effect{Type: 2, Speed: 3000, Palette: []protocol.HSBK{defaultColor, {Hue: 20000, Saturation: 65535, Brightness: 65535, Kelvin: 3500}}}
	return d
}

// Clean is a light with a HEV cycle.
func Clean(serial protocol.Serial, label string) Device {
	d := Bulb(serial, label)
	d.Product = 90
	d.Firmware = products.FirmwareVersion{Major: 3, Minor: 90}
	d.HEV = HEV{DefaultDurationS: 7200, Indication: true}
	return d
}

// Switch is a relay device that is not a light.
func Switch(serial protocol.Serial, label string) Device {
	d := Bulb(serial, label)
	d.Product = 70
	d.Firmware = products.FirmwareVersion{Major: 3, Minor: 90}
	d.Color = protocol.HSBK{}
	return d
}

func (d Device) reply(t protocol.PacketType, payload protocol.Fields) *protocol.Packet {
	addr := d.RemoteAddr
	if addr == "" {
		addr = fmt.Sprintf("192.168.0.%d:56700", int(d.Serial[len(d.Serial)-1])%250+2)
	}
	return &protocol.Packet{
		Serial:     d.Serial,
		Type:       t,
		Payload:    payload,
		RemoteAddr: addr,
	}
}

// respond builds the replies this device gives to msg. A nil result means the
// device does not answer that message.
func (d Device) respond(msg protocol.Message) []*protocol.Packet {
	capability := d.capability()

	switch msg.Type {
	case protocol.GetService:
		return d.one(protocol.StateService, protocol.Fields{"service": 1, "port": 56700})
	case protocol.GetHostFirmware:
		return d.one(protocol.StateHostFirmware, protocol.Fields{
			"build":         d.FirmwareBuild,
			"version_major": d.Firmware.Major,
			"version_minor": d.Firmware.Minor,
		})
	case protocol.GetVersion:
		return d.one(protocol.StateVersion, protocol.Fields{"vendor": d.Vendor, "product": d.Product, "version": 0})
	case protocol.GetPower:
		return d.one(protocol.StatePower, protocol.Fields{"level": d.Power})
	case protocol.GetLabel:
		return d.one(protocol.StateLabel, protocol.Fields{"label": d.Label})
	case protocol.EchoRequest:
		return d.one(protocol.EchoResponse, protocol.Fields{"echoing": msg.Payload.String("echoing")})
	}

	if !capability.IsLight {
		return nil
	}

	switch msg.Type {
	case protocol.LightGet:
		return d.one(protocol.LightState, protocol.Fields{
			"hue":        d.Color.Hue,
			"saturation": d.Color.Saturation,
			"brightness": d.Color.Brightness,
			"kelvin":     d.Color.Kelvin,
			"power":      d.Power,
			"label":      d.Label,
		})
	case protocol.GetInfrared:
		if capability.HasInfrared {
			return d.one(protocol.StateInfrared, protocol.Fields{"brightness": d.Infrared})
		}
	case protocol.GetHevCycle:
		if capability.HasHEV {
			return d.one(protocol.StateHevCycle, protocol.Fields{
				"duration_s":  d.HEV.DurationS,
				"remaining_s": d.HEV.RemainingS,
				"last_power":  d.HEV.LastPower,
			})
		}
	case protocol.GetHevCycleConfiguration:
		if capability.HasHEV {
			return d.one(protocol.StateHevCycleConfiguration, protocol.Fields{
				"indication": d.HEV.Indication,
				"duration_s": d.HEV.DefaultDurationS,
			})
		}
	case protocol.GetLastHevCycleResult:
		if capability.HasHEV {
			return d.one(protocol.StateLastHevCycleResult, protocol.Fields{"result": d.HEV.LastResult})
		}
	case protocol.GetColorZones:
		if capability.HasMultizone {
			return d.colorZones(int(msg.Payload.Uint("start_index")), int(msg.Payload.Uint("end_index")))
		}
	case protocol.GetExtendedColorZones:
		if capability.HasExtendedMultizone {
			return d.extendedColorZones()
		}
	case protocol.GetMultiZoneEffect:
		if capability.HasMultizone {
			return d.one(protocol.StateMultiZoneEffect, d.effectFields(false))
		}
	case protocol.GetTileEffect:
		if capability.HasMatrix {
			return d.one(protocol.StateTileEffect, d.effectFields(true))
		}
	case protocol.GetDeviceChain:
		if capability.HasMatrix {
			return d.deviceChain()
		}
	case protocol.Get64:
		if capability.HasMatrix {
			return d.get64(int(msg.Payload.Uint("tile_index")), int(msg.Payload.Uint("length")), msg.Payload)
		}
	}

	return nil
}

func (d Device) one(t protocol.PacketType, payload protocol.Fields) []*protocol.Packet {
	return []*protocol.Packet{d.reply(t, payload)}
}

func (d Device) colorZones(start, end int) []*protocol.Packet {
	count := len(d.Zones)
	if start >= count {
		return nil
	}

	if start == end {
		c := d.Zones[start]
		return d.one(protocol.StateZone, protocol.Fields{
			"zones_count": count,
			"zone_index":  start,
			"hue":         c.Hue,
			"saturation":  c.Saturation,
			"brightness":  c.Brightness,
			"kelvin":      c.Kelvin,
		})
	}

	var replies []*protocol.Packet
	for index := start - start%8; index < count && index <= end; index += 8 {
		colors := make([]protocol.HSBK, 8)
		copy(colors, d.Zones[index:min(index+8, count)])
		replies = append(replies, d.reply(protocol.StateMultiZone, protocol.Fields{
			"zones_count": count,
			"zone_index":  index,
			"colors":      colors,
		}))
	}
	return replies
}

func (d Device) extendedColorZones() []*protocol.Packet {
	count := len(d.Zones)

	var replies []*protocol.Packet
	for index := 0; index < count; index += 82 {
		colors := make([]protocol.HSBK, 82)
		n := copy(colors, d.Zones[index:min(index+82, count)])
		replies = append(replies, d.reply(protocol.StateExtendedColorZones, protocol.Fields{
			"zones_count":  count,
			"zone_index":   index,
			"colors_count": n,
			"colors":       colors,
		}))
	}
	return replies
}

func (d Device) deviceChain() []*protocol.Packet {
	tiles := make([]protocol.Tile, 16)
	copy(tiles, d.Chain)
	return d.one(protocol.StateDeviceChain, protocol.Fields{
		"start_index":        0,
		"tile_devices":       tiles,
		"tile_devices_count": len(d.Chain),
	})
}

func (d Device) get64(tileIndex, length int, request protocol.Fields) []*protocol.Packet {
	var replies []*protocol.Packet
	for index := tileIndex; index < len(d.Chain) && index < tileIndex+length; index++ {
		colors := make([]protocol.HSBK, 64)
		copy(colors, d.TileColors[index])
		replies = append(replies, d.reply(protocol.State64, protocol.Fields{
			"tile_index": index,
			"x":          request.Uint("x"),
			"y":          request.Uint("y"),
			"width":      request.Uint("width"),
			"colors":     colors,
		}))
	}
	return replies
}

func (d Device) effectFields(matrix bool) protocol.Fields {
	parameters := map[string]any{}
	for k, v := range d.Effect.Parameters {
		parameters[k] = v
	}

	fields := protocol.Fields{
		"reserved6":  0,
		"type":       d.Effect.Type,
		"speed":      d.Effect.Speed,
		"duration":   d.Effect.Duration,
		"parameters": parameters,
	}
	if matrix {
		palette := make([]protocol.HSBK, 16)
		copy(palette, d.Effect.Palette)
		fields["palette_count"] = len(d.Effect.Palette)
		fields["palette"] = palette
	}
	return fields
}
