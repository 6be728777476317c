// Package discovery turns device references into the serials of devices that
// are reachable right now.
package discovery

import (
	"fmt"
	"strings"

	"lumen-gatherer/internal/protocol"
)

// Reference selects devices: either every device found on the network or
// an explicit list of serials.
type Reference struct {
	all     bool
	serials []protocol.Serial
}

// All references every discovered device.
func All() Reference {
	return Reference{all: true}
}

// Serials references the given devices, in order, without duplicates.
func Serials(serials ...protocol.Serial) Reference {
	seen := make(map[protocol.Serial]bool, len(serials))
	ref := Reference{}
	for _, s := range serials {
		if !seen[s] {
			seen[s] = true
			ref.serials = append(ref.serials, s)
		}
	}
	return ref
}

// ParseReference reads "" or "_" as every device and anything else as a
// comma separated list of serials.
func ParseReference(value string) (Reference, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "_" {
		return All(), nil
	}

	var serials []protocol.Serial
	for _, part := range strings.Split(value, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		serial, err := protocol.ParseSerial(part)
		if err != nil {
			return Reference{}, fmt.Errorf("parsing reference: %w", err)
		}
		serials = append(serials, serial)
	}
	if len(serials) == 0 {
		return All(), nil
	}
	return Serials(serials...), nil
}

func (r Reference) IsAll() bool {
	return r.all
}

func (r Reference) Serials() []protocol.Serial {
	return append([]protocol.Serial(nil), r.serials...)
}

func (r Reference) String() string {
	if r.all {
		return "_"
	}
	parts := make([]string, len(r.serials))
	for i, s := range r.serials {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}
