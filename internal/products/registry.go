package products

import (
	"fmt"
	"strconv"
	"strings"
)

const VendorLIFX uint32 = 1

// Zones describes how a device lays out its colors.
type Zones int

const (
	ZonesSingle Zones = iota
	ZonesLinear
	ZonesMatrix
)

func (z Zones) String() string {
	switch z {
	case ZonesSingle:
		return "single"
	case ZonesLinear:
		return "linear"
	case ZonesMatrix:
		return "matrix"
	default:
		return "unknown"
	}
}

// FirmwareVersion is a major.minor pair as reported by StateHostFirmware.
type FirmwareVersion struct {
	Major uint16
	Minor uint16
}

func (v FirmwareVersion) AtLeast(other FirmwareVersion) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	return v.Minor >= other.Minor
}

// ParseFirmwareVersion reads "major.minor", e.g. "2.80".
func ParseFirmwareVersion(value string) (FirmwareVersion, error) {
	majorPart, minorPart, ok := strings.Cut(strings.TrimSpace(value), ".")
	if !ok {
		return FirmwareVersion{}, fmt.Errorf("firmware version %q is not major.minor", value)
	}
	major, err := strconv.ParseUint(majorPart, 10, 16)
	if err != nil {
		return FirmwareVersion{}, fmt.Errorf("firmware major %q: %w", majorPart, err)
	}
	minor, err := strconv.ParseUint(minorPart, 10, 16)
	if err != nil {
		return FirmwareVersion{}, fmt.Errorf("firmware minor %q: %w", minorPart, err)
	}
	return FirmwareVersion{Major: uint16(major), Minor: uint16(minor)}, nil
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Product is a static entry of the registry.
type Product struct {
	Vendor       uint32
	PID          uint32
	Name         string
	Family       string
	IsLight      bool
	HasColor     bool
	HasInfrared  bool
	HasMultizone bool
	HasMatrix    bool
	HasHEV       bool
	HasRelays    bool
	// ExtendedMultizoneFrom is the first firmware able to answer extended zone
	// queries. Nil when the product never supports them.
	ExtendedMultizoneFrom *FirmwareVersion
}

// Capability is a product combined with the firmware a device is running.
type Capability struct {
	Product              Product
	Firmware             FirmwareVersion
	Zones                Zones
	IsLight              bool
	HasColor             bool
	HasInfrared          bool
	HasMultizone         bool
	HasExtendedMultizone bool
	HasMatrix            bool
	HasHEV               bool
	HasRelays            bool
}

func (p Product) Capability(major, minor uint16) Capability {
	firmware := FirmwareVersion{Major: major, Minor: minor}

	zones := ZonesSingle
	switch {
	case p.HasMatrix:
		zones = ZonesMatrix
	case p.HasMultizone:
		zones = ZonesLinear
	}

	return Capability{
		Product:              p,
		Firmware:             firmware,
		Zones:                zones,
		IsLight:              p.IsLight,
		HasColor:             p.HasColor,
		HasInfrared:          p.HasInfrared,
		HasMultizone:         p.HasMultizone,
		HasExtendedMultizone: p.HasMultizone && p.ExtendedMultizoneFrom != nil && firmware.AtLeast(*p.ExtendedMultizoneFrom),
		HasMatrix:            p.HasMatrix,
		HasHEV:               p.HasHEV,
		HasRelays:            p.HasRelays,
	}
}

type key struct {
	vendor uint32
	pid    uint32
}

// Registry maps (vendor, product) ids to products. It is read only once built.
type Registry struct {
	products map[key]Product
}

func NewRegistry(items ...Product) *Registry {
	r := &Registry{products: make(map[key]Product, len(items))}
	for _, p := range items {
		r.products[key{p.Vendor, p.PID}] = p
	}
	return r
}

// Lookup finds a product. Unknown ids produce a plain single zone light so
// callers can still make progress with devices newer than the table.
func (r *Registry) Lookup(vendor, pid uint32) (Product, bool) {
	if p, ok := r.products[key{vendor, pid}]; ok {
		return p, true
	}
	return Product{
		Vendor:  vendor,
		PID:     pid,
		Name:    fmt.Sprintf("Unknown product %d.%d", vendor, pid),
		Family:  "unknown",
		IsLight: true,
	}, false
}

var extendedMultizone = &FirmwareVersion{Major: 2, Minor: 77}

// Default is the table of known products.
var Default = NewRegistry(
	Product{Vendor: VendorLIFX, PID: 1, Name: "LIFX Original 1000", Family: "lifx", IsLight: true, HasColor: true},
	Product{Vendor: VendorLIFX, PID: 10, Name: "LIFX White 800 (Low Voltage)", Family: "lifx", IsLight: true},
	Product{Vendor: VendorLIFX, PID: 22, Name: "LIFX Color 1000", Family: "lifx", IsLight: true, HasColor: true},
	Product{Vendor: VendorLIFX, PID: 27, Name: "LIFX A19", Family: "lifx", IsLight: true, HasColor: true},
	Product{Vendor: VendorLIFX, PID: 29, Name: "LIFX A19 Night Vision", Family: "lifx", IsLight: true, HasColor: true, HasInfrared: true},
	Product{Vendor: VendorLIFX, PID: 31, Name: "LIFX Z", Family: "lifx", IsLight: true, HasColor: true, HasMultizone: true, ExtendedMultizoneFrom: extendedMultizone},
	Product{Vendor: VendorLIFX, PID: 32, Name: "LIFX Z", Family: "lifx", IsLight: true, HasColor: true, HasMultizone: true, ExtendedMultizoneFrom: extendedMultizone},
	Product{Vendor: VendorLIFX, PID: 38, Name: "LIFX Beam", Family: "lifx", IsLight: true, HasColor: true, HasMultizone: true, ExtendedMultizoneFrom: extendedMultizone},
	Product{Vendor: VendorLIFX, PID: 50, Name: "LIFX Mini White to Warm", Family: "lifx", IsLight: true},
	Product{Vendor: VendorLIFX, PID: 55, Name: "LIFX Tile", Family: "lifx", IsLight: true, HasColor: true, HasMatrix: true},
	Product{Vendor: VendorLIFX, PID: 57, Name: "LIFX Candle", Family: "lifx", IsLight: true, HasColor: true, HasMatrix: true},
	Product{Vendor: VendorLIFX, PID: 70, Name: "LIFX Switch", Family: "lifx", HasRelays: true},
	Product{Vendor: VendorLIFX, PID: 90, Name: "LIFX Clean", Family: "lifx", IsLight: true, HasColor: true, HasHEV: true},
)
