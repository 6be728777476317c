package fake

import (
	"fmt"

	"lumen-gatherer/internal/products"
	"lumen-gatherer/internal/protocol"
)

const (
	KindBulb   = "bulb"
	KindStrip  = "strip"
	KindTile   = "tile"
	KindClean  = "clean"
	KindSwitch = "switch"
)

const (
	defaultStripZones = 16
	defaultChainTiles = 5
)

// DeviceSpec describes a virtual device by kind, as found in configuration.
type DeviceSpec struct {
	Serial   string
	Label    string
	Kind     string
	Zones    int
	Tiles    int
	Firmware string
}

// NewDevice builds the virtual device described by spec. An empty kind is a
// bulb.
func NewDevice(spec DeviceSpec) (Device, error) {
	serial, err := protocol.ParseSerial(spec.Serial)
	if err != nil {
		return Device{}, err
	}

	var d Device
	switch spec.Kind {
	case KindBulb, "":
		d = Bulb(serial, spec.Label)
	case KindStrip:
		zones := spec.Zones
		if zones <= 0 {
			zones = defaultStripZones
		}
		d = Strip(serial, spec.Label, zones, products.FirmwareVersion{Major: 2, Minor: 80})
	case KindTile:
		tiles := spec.Tiles
		if tiles <= 0 {
			tiles = defaultChainTiles
		}
		d = TileChain(serial, spec.Label, tiles)
	case KindClean:
		d = Clean(serial, spec.Label)
	case KindSwitch:
		d = Switch(serial, spec.Label)
	default:
		return Device{}, fmt.Errorf("unknown device kind %q for %s", spec.Kind, serial)
	}

	if spec.Firmware != "" {
		firmware, err := products.ParseFirmwareVersion(spec.Firmware)
		if err != nil {
			return Device{}, err
		}
		d.Firmware = firmware
	}
	return d, nil
}

// NewFleetFromSpecs fails on the first invalid or repeated device.
func NewFleetFromSpecs(specs []DeviceSpec) (*Fleet, error) {
	seen := make(map[protocol.Serial]bool, len(specs))
	devices := make([]Device, 0, len(specs))
	for _, spec := range specs {
		d, err := NewDevice(spec)
		if err != nil {
			return nil, err
		}
		if seen[d.Serial] {
			return nil, fmt.Errorf("device %s listed twice", d.Serial)
		}
		seen[d.Serial] = true
		devices = append(devices, d)
	}
	return NewFleet(devices...), nil
}
