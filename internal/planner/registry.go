package planner

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownPlan        = errors.New("no plan registered for label")
	ErrPlanSpecifiedTwice = errors.New("plan specified both by label and by value")
	ErrDuplicateLabel     = errors.New("plan label specified more than once")
	ErrAlreadyRegistered  = errors.New("plan label already registered")
)

// Factory builds a fresh plan for a registered label.
type Factory func(opts ...Option) Plan

// Registry maps labels to plan factories. Register everything at startup;
// lookups afterwards need no locking.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(label string, factory Factory) error {
	if _, ok := r.factories[label]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, label)
	}
	r.factories[label] = factory
	return nil
}

// Labels returns every registered label, sorted.
func (r *Registry) Labels() []string {
	labels := make([]string, 0, len(r.factories))
	for label := range r.factories {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// New builds the plan registered under label.
func (r *Registry) New(label string, opts ...Option) (Plan, error) {
	factory, ok := r.factories[label]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownPlan, label, r.Labels())
	}
	return factory(opts...), nil
}

// MakePlans resolves labels through the registry and merges custom plans.
func MakePlans(r *Registry, labels []string, custom Plans) (Plans, error) {
	plans := make(Plans, len(labels)+len(custom))
	for label, plan := range custom {
		plans[label] = plan
	}

	seen := make(map[string]bool, len(labels))
	for _, label := range labels {
		if _, ok := custom[label]; ok {
			return nil, fmt.Errorf("%w: %s", ErrPlanSpecifiedTwice, label)
		}
		if seen[label] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLabel, label)
		}
		seen[label] = true
	}

	for _, label := range labels {
		plan, err := r.New(label)
		if err != nil {
			return nil, err
		}
		plans[label] = plan
	}

	return plans, nil
}

// DefaultRegistry holds the built in plans.
var DefaultRegistry = NewDefaultRegistry()

func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for label, factory := range map[string]Factory{
		"presence":         func(opts ...Option) Plan { return NewPresencePlan(opts...) },
		"address":          func(opts ...Option) Plan { return NewAddressPlan(opts...) },
		"label":            func(opts ...Option) Plan { return NewLabelPlan(opts...) },
		"state":            func(opts ...Option) Plan { return NewStatePlan(opts...) },
		"power":            func(opts ...Option) Plan { return NewPowerPlan(opts...) },
		"capability":       func(opts ...Option) Plan { return NewCapabilityPlan(opts...) },
		"firmware":         func(opts ...Option) Plan { return NewFirmwarePlan(opts...) },
		"version":          func(opts ...Option) Plan { return NewVersionPlan(opts...) },
		"zones":            func(opts ...Option) Plan { return NewZonesPlan(opts...) },
		"colors":           func(opts ...Option) Plan { return NewColorsPlan(opts...) },
		"chain":            func(opts ...Option) Plan { return NewChainPlan(opts...) },
		"hev_status":       func(opts ...Option) Plan { return NewHevStatusPlan(opts...) },
		"hev_config":       func(opts ...Option) Plan { return NewHevConfigPlan(opts...) },
		"firmware_effects": func(opts ...Option) Plan { return NewFirmwareEffectsPlan(opts...) },
	} {
		if err := r.Register(label, factory); err != nil {
			panic(err)
		}
	}
	return r
}
