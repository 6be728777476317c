package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"lumen-gatherer/internal/protocol"
)

// PlanKey namespaces the cached results of a plan.
type PlanKey string

type messagesKind int

const (
	messagesList messagesKind = iota
	messagesNone
	messagesSkip
)

// Messages is what an instance wants sent: a list of requests, nothing at
// all (NoMessages) or a refusal to run for the device (Skip).
type Messages struct {
	kind messagesKind
	list []protocol.Message
}

var (
	// NoMessages finishes the instance without a wire round trip.
	NoMessages = Messages{kind: messagesNone}
	// Skip marks a plan that does not apply to the device.
	Skip = Messages{kind: messagesSkip}
)

// Send lists the requests an instance needs answered. An empty list means
// the instance only watches the replies other plans bring in.
func Send(msgs ...protocol.Message) Messages {
	return Messages{kind: messagesList, list: msgs}
}

func (m Messages) IsSkip() bool {
	return m.kind == messagesSkip
}

func (m Messages) IsNoMessages() bool {
	return m.kind == messagesNone
}

// List returns the requests, nil for NoMessages and Skip.
func (m Messages) List() []protocol.Message {
	if m.kind != messagesList {
		return nil
	}
	return m.list
}

func (m Messages) String() string {
	switch m.kind {
	case messagesNone:
		return "NoMessages"
	case messagesSkip:
		return "Skip"
	default:
		return fmt.Sprintf("%v", m.list)
	}
}

// Result is the outcome of one plan for one device.
type Result struct {
	skipped bool
	Value   any
}

// Skipped is the result of a plan that does not apply to a device.
var Skipped = Result{skipped: true}

func ResultOf(value any) Result {
	return Result{Value: value}
}

func (r Result) IsSkip() bool {
	return r.skipped
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.skipped {
		return json.Marshal("skip")
	}
	return json.Marshal(r.Value)
}

func (r Result) String() string {
	if r.skipped {
		return "Skip"
	}
	return fmt.Sprintf("%v", r.Value)
}

// Deps holds the results of the dependencies of a plan, by dependency label.
type Deps map[string]Result

// Value returns the result value of label, nil when absent or skipped.
func (d Deps) Value(label string) any {
	r, ok := d[label]
	if !ok || r.skipped {
		return nil
	}
	return r.Value
}

// Plans maps caller chosen labels to plans.
type Plans map[string]Plan

// Labels returns the labels in sorted order.
func (p Plans) Labels() []string {
	labels := make([]string, 0, len(p))
	for label := range p {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Plan is a stateless template. It produces one Instance per device per
// gathering call.
type Plan interface {
	Key() PlanKey
	Refresh() Refresh
	// Dependencies are gathered for the device before the plan is
	// instantiated. Nil when there are none.
	Dependencies() Plans
	NewInstance(serial protocol.Serial, deps Deps) Instance
}

// Instance is the per device state of a plan.
type Instance interface {
	// Key is the cache key of the result. False disables result caching.
	Key() (PlanKey, bool)
	Refresh() Refresh
	Messages() Messages
	// Process consumes one reply from the device and reports whether the
	// instance has enough to produce its result.
	Process(pkt *protocol.Packet) bool
	// Info is called exactly once, after Process returned true or straight
	// away for NoMessages.
	Info(ctx context.Context) (any, error)
	// FinishedAfterNoMoreMessages finalizes the instance once the device has
	// nothing left to answer, even if Process never returned true.
	FinishedAfterNoMoreMessages() bool
}

type Option func(*PlanBase)

// WithRefresh overrides the default refresh of a plan.
func WithRefresh(r Refresh) Option {
	return func(p *PlanBase) {
		p.refresh = r
	}
}

func WithKey(key PlanKey) Option {
	return func(p *PlanBase) {
		p.key = key
	}
}

func WithDependencies(deps Plans) Option {
	return func(p *PlanBase) {
		p.dependencies = deps
	}
}

// PlanBase carries what every plan has in common. Embed it in a plan and
// build instances from Base.
type PlanBase struct {
	key          PlanKey
	refresh      Refresh
	messages     Messages
	dependencies Plans
}

func NewPlanBase(key PlanKey, messages Messages, opts ...Option) PlanBase {
	p := PlanBase{key: key, messages: messages}
	for _, opt := range opts {
		opt(&p)
	}
	p.refresh = p.refresh.Or(DefaultRefresh)
	return p
}

func (p PlanBase) Key() PlanKey {
	return p.key
}

func (p PlanBase) Refresh() Refresh {
	return p.refresh
}

func (p PlanBase) Dependencies() Plans {
	return p.dependencies
}

func (p PlanBase) Messages() Messages {
	return p.messages
}

// Base returns the instance defaults for serial.
func (p PlanBase) Base(serial protocol.Serial, deps Deps) Base {
	return Base{Serial: serial, Deps: deps, plan: p}
}

// Base implements every Instance method but Info.
type Base struct {
	Serial protocol.Serial
	Deps   Deps
	plan   PlanBase
}

func (b Base) Key() (PlanKey, bool) {
	return b.plan.key, b.plan.key != ""
}

func (b Base) Refresh() Refresh {
	return b.plan.refresh
}

func (b Base) Messages() Messages {
	return b.plan.messages
}

func (b Base) Process(*protocol.Packet) bool {
	return false
}

func (b Base) FinishedAfterNoMoreMessages() bool {
	return false
}

// prepend puts defaults ahead of caller options so the caller wins.
func prepend(opts []Option, defaults ...Option) []Option {
	return append(defaults, opts...)
}
