package planner

import (
	"slices"
	"sync"
	"time"

	"lumen-gatherer/internal/protocol"
)

type receivedEntry struct {
	at  time.Time
	pkt *protocol.Packet
}

type filledEntry struct {
	at     time.Time
	result Result
}

// deviceReplies is the received cache of one device. Slots are only ever
// appended to; expiry drops whole entries and removes empty slots.
type deviceReplies struct {
	mu    sync.Mutex
	slots map[protocol.Key][]receivedEntry
	order []protocol.Key
}

// Session caches raw replies per (device, request identity) and final plan
// results per (plan key, device). It is shared by every device follow of a
// Gatherer and across gathering calls.
type Session struct {
	clock Clock

	mu      sync.Mutex
	devices map[protocol.Serial]*deviceReplies

	filledMu sync.Mutex
	filled   map[PlanKey]map[protocol.Serial]filledEntry
}

func NewSession(clock Clock) *Session {
	if clock == nil {
		clock = SystemClock
	}
	return &Session{
		clock:   clock,
		devices: make(map[protocol.Serial]*deviceReplies),
		filled:  make(map[PlanKey]map[protocol.Serial]filledEntry),
	}
}

// device returns the replies of serial, creating them. Callers hold s.mu.
func (s *Session) device(serial protocol.Serial) *deviceReplies {
	d, ok := s.devices[serial]
	if !ok {
		d = &deviceReplies{slots: make(map[protocol.Key][]receivedEntry)}
		s.devices[serial] = d
	}
	return d
}

// lookup returns the replies of serial without creating them.
func (s *Session) lookup(serial protocol.Serial) (*deviceReplies, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[serial]
	return d, ok
}

// Receive caches a reply under the identity of the request it answers.
func (s *Session) Receive(pkt *protocol.Packet) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.device(pkt.Serial)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.slots[pkt.Request]; !ok {
		d.order = append(d.order, pkt.Request)
	}
	d.slots[pkt.Request] = append(d.slots[pkt.Request], receivedEntry{at: now, pkt: pkt})
}

// Fill records the final result of a plan for a device.
func (s *Session) Fill(key PlanKey, serial protocol.Serial, result Result) {
	now := s.clock.Now()

	s.filledMu.Lock()
	defer s.filledMu.Unlock()

	byDevice, ok := s.filled[key]
	if !ok {
		byDevice = make(map[protocol.Serial]filledEntry)
		s.filled[key] = byDevice
	}
	byDevice[serial] = filledEntry{at: now, result: result}
}

// Completed returns the cached result of a plan for a device.
func (s *Session) Completed(key PlanKey, serial protocol.Serial) (Result, bool) {
	s.filledMu.Lock()
	defer s.filledMu.Unlock()

	entry, ok := s.filled[key][serial]
	return entry.result, ok
}

// HasReceived reports whether any reply is cached for the request identity.
func (s *Session) HasReceived(key protocol.Key, serial protocol.Serial) bool {
	d, ok := s.lookup(serial)
	if !ok {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.slots[key]) > 0
}

// KnownPackets returns every cached reply of a device grouped by request
// identity, in arrival order within a group.
func (s *Session) KnownPackets(serial protocol.Serial) []*protocol.Packet {
	d, ok := s.lookup(serial)
	if !ok {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var pkts []*protocol.Packet
	for _, key := range d.order {
		for _, entry := range d.slots[key] {
			pkts = append(pkts, entry.pkt)
		}
	}
	return pkts
}

// Devices returns the serials that have cached replies, sorted.
func (s *Session) Devices() []protocol.Serial {
	s.mu.Lock()
	defer s.mu.Unlock()

	serials := make([]protocol.Serial, 0, len(s.devices))
	for serial := range s.devices {
		serials = append(serials, serial)
	}
	slices.Sort(serials)
	return serials
}

// RefreshReceived drops the cached replies to a request that refresh
// considers stale. A device left without replies is forgotten.
func (s *Session) RefreshReceived(key protocol.Key, serial protocol.Serial, refresh Refresh) {
	if refresh == RefreshNever {
		return
	}

	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[serial]
	if !ok {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entries, ok := d.slots[key]
	if !ok {
		return
	}

	kept := entries[:0:0]
	for _, entry := range entries {
		if !refresh.Expired(entry.at, now) {
			kept = append(kept, entry)
		}
	}

	if len(kept) > 0 {
		d.slots[key] = kept
		return
	}

	delete(d.slots, key)
	d.order = slices.DeleteFunc(d.order, func(k protocol.Key) bool { return k == key })
	if len(d.slots) == 0 {
		delete(s.devices, serial)
	}
}

// RefreshFilled drops the cached result of a plan when refresh considers it
// stale.
func (s *Session) RefreshFilled(key PlanKey, serial protocol.Serial, refresh Refresh) {
	if refresh == RefreshNever {
		return
	}

	now := s.clock.Now()

	s.filledMu.Lock()
	defer s.filledMu.Unlock()

	byDevice, ok := s.filled[key]
	if !ok {
		return
	}
	if entry, ok := byDevice[serial]; ok && refresh.Expired(entry.at, now) {
		delete(byDevice, serial)
	}
	if len(byDevice) == 0 {
		delete(s.filled, key)
	}
}
