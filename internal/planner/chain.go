package planner

import (
	"context"
	"fmt"
	"time"

	"lumen-gatherer/internal/products"
	"lumen-gatherer/internal/protocol"
)

// Orientation is how a tile is mounted, derived from its accelerometer.
type Orientation int

const (
	RightSideUp Orientation = iota
	UpsideDown
	RotatedLeft
	RotatedRight
	FaceUp
	FaceDown
)

var orientationNames = [...]string{"RightSideUp", "UpsideDown", "RotatedLeft", "RotatedRight", "FaceUp", "FaceDown"}

func (o Orientation) String() string {
	if o < 0 || int(o) >= len(orientationNames) {
		return fmt.Sprintf("Orientation(%d)", int(o))
	}
	return orientationNames[o]
}

func (o Orientation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Reverse is the orientation that undoes o.
func (o Orientation) Reverse() Orientation {
	switch o {
	case RotatedLeft:
		return RotatedRight
	case RotatedRight:
		return RotatedLeft
	default:
		return o
	}
}

func abs16(v int16) int {
	if v < 0 {
		return -int(v)
	}
	return int(v)
}

// NearestOrientation picks the orientation closest to the gravity vector.
// (-1, -1, -1) is what tiles report when they have no reading.
func NearestOrientation(x, y, z int16) Orientation {
	if x == -1 && y == -1 && z == -1 {
		return RightSideUp
	}

	ax, ay, az := abs16(x), abs16(y), abs16(z)
	switch {
	case ax > ay && ax > az:
		if x > 0 {
			return RotatedRight
		}
		return RotatedLeft
	case az > ax && az > ay:
		if z > 0 {
			return FaceDown
		}
		return FaceUp
	case ay > ax && ay > az:
		if y > 0 {
			return UpsideDown
		}
		return RightSideUp
	}
	return RightSideUp
}

// rotatedIndex maps a position of a square grid of side width through o.
func rotatedIndex(i, width int, o Orientation) int {
	row, col := i/width, i%width
	last := width - 1

	switch o {
	case UpsideDown:
		return width*width - 1 - i
	case RotatedLeft:
		return col*width + (last - row)
	case RotatedRight:
		return (last-col)*width + row
	default:
		return i
	}
}

// Reorient rotates the colors of a square tile of side width. Non square
// grids are returned untouched.
func Reorient(colors []protocol.HSBK, width int, o Orientation) []protocol.HSBK {
	out := make([]protocol.HSBK, len(colors))
	if width <= 0 || width*width != len(colors) {
		copy(out, colors)
		return out
	}
	for i, color := range colors {
		out[rotatedIndex(i, width, o)] = color
	}
	return out
}

type Placement struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  uint8   `json:"width"`
	Height uint8   `json:"height"`
}

// Chain is the result of the chain plan.
type Chain struct {
	Tiles        []protocol.Tile `json:"chain"`
	Width        int             `json:"width"`
	Orientations []Orientation   `json:"orientations"`
	Placements   []Placement     `json:"coords_and_sizes"`
}

func (c Chain) orientation(index int) Orientation {
	if index < 0 || index >= len(c.Orientations) {
		return RightSideUp
	}
	return c.Orientations[index]
}

func (c Chain) tileWidth(index int) int {
	if index < 0 || index >= len(c.Tiles) {
		return c.Width
	}
	return int(c.Tiles[index].Width)
}

// Reorient turns upright colors into what tile index must be sent.
func (c Chain) Reorient(index int, colors []protocol.HSBK) []protocol.HSBK {
	return Reorient(colors, c.tileWidth(index), c.orientation(index))
}

// ReverseOrient turns colors read from tile index into upright colors.
func (c Chain) ReverseOrient(index int, colors []protocol.HSBK) []protocol.HSBK {
	return Reorient(colors, c.tileWidth(index), c.orientation(index).Reverse())
}

// ChainPlan yields the chain of a device. Bulbs and strips get a single
// upright item; a strip item is as wide as its zones.
type ChainPlan struct{ PlanBase }

func NewChainPlan(opts ...Option) *ChainPlan {
	return &ChainPlan{NewPlanBase("chain", Send(), prepend(opts,
		WithRefresh(RefreshAfter(time.Second)),
		WithDependencies(Plans{capabilityDep: NewCapabilityPlan(), "zones": NewZonesPlan()}),
	)...)}
}

func (p *ChainPlan) NewInstance(serial protocol.Serial, deps Deps) Instance {
	return &chainInstance{Base: p.Base(serial, deps)}
}

type chainInstance struct {
	Base
	tiles []protocol.Tile
	err   error
}

func (i *chainInstance) Messages() Messages {
	c, ok := capabilityOf(i.Deps)
	if !ok {
		return Skip
	}
	if c.Cap.Zones == products.ZonesMatrix {
		return Send(protocol.NewMessage(protocol.GetDeviceChain, nil))
	}
	return NoMessages
}

func (i *chainInstance) Process(pkt *protocol.Packet) bool {
	if !pkt.Is(protocol.StateDeviceChain) {
		return false
	}

	var tiles []protocol.Tile
	if err := pkt.Payload.Decode("tile_devices", &tiles); err != nil {
		i.err = fmt.Errorf("decoding chain from %s: %w", pkt, err)
		return true
	}
	amount := int(pkt.Payload.Uint("tile_devices_count")) - int(pkt.Payload.Uint("start_index"))
	i.tiles = tiles[:max(0, min(amount, len(tiles)))]
	return true
}

func (i *chainInstance) single() protocol.Tile {
	c, _ := capabilityOf(i.Deps)

	width := 1
	if zones, ok := i.Deps.Value("zones").([]Zone); ok {
		width = len(zones)
	}

	return protocol.Tile{
		Width:                uint8(min(width, 255)),
		Height:               1,
		DeviceVersionVendor:  c.Product.Vendor,
		DeviceVersionProduct: c.Product.PID,
		FirmwareBuild:        c.Firmware.Build,
		FirmwareVersionMajor: c.Firmware.VersionMajor,
		FirmwareVersionMinor: c.Firmware.VersionMinor,
	}
}

func (i *chainInstance) Info(context.Context) (any, error) {
	if i.err != nil {
		return nil, i.err
	}

	tiles := i.tiles
	orientations := make([]Orientation, 0, len(tiles))
	if tiles == nil {
		tiles = []protocol.Tile{i.single()}
		orientations = append(orientations, RightSideUp)
	} else {
		for _, tile := range tiles {
			orientations = append(orientations, NearestOrientation(tile.AccelMeasX, tile.AccelMeasY, tile.AccelMeasZ))
		}
	}

	chain := Chain{Tiles: tiles, Orientations: orientations}
	for _, tile := range tiles {
		chain.Placements = append(chain.Placements, Placement{X: tile.UserX, Y: tile.UserY, Width: tile.Width, Height: tile.Height})
		chain.Width = max(chain.Width, int(tile.Width))
	}
	return chain, nil
}
