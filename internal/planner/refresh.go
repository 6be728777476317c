package planner

import (
	"fmt"
	"strings"
	"time"
)

type refreshKind int

const (
	refreshUnset refreshKind = iota
	refreshNever
	refreshAlways
	refreshAfter
)

// Refresh is the validity rule of a cached reply or result.
//
// The zero value means "not specified" and resolves to the plan default.
type Refresh struct {
	kind refreshKind
	ttl  time.Duration
}

var (
	// RefreshNever keeps cached entries forever.
	RefreshNever = Refresh{kind: refreshNever}
	// RefreshAlways treats every cached entry as stale.
	RefreshAlways = Refresh{kind: refreshAlways}
)

// DefaultRefresh applies to plans that do not declare their own.
var DefaultRefresh = RefreshAfter(10 * time.Second)

// RefreshAfter keeps entries for d. A non positive d is RefreshAlways.
func RefreshAfter(d time.Duration) Refresh {
	if d <= 0 {
		return RefreshAlways
	}
	return Refresh{kind: refreshAfter, ttl: d}
}

// ParseRefresh reads "never", "always" or a duration such as "5s".
func ParseRefresh(value string) (Refresh, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "never", "false":
		return RefreshNever, nil
	case "always", "true":
		return RefreshAlways, nil
	}

	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return Refresh{}, fmt.Errorf("invalid refresh %q: %w", value, err)
	}
	return RefreshAfter(d), nil
}

func (r Refresh) IsSet() bool {
	return r.kind != refreshUnset
}

// Or returns r, or fallback when r is not set.
func (r Refresh) Or(fallback Refresh) Refresh {
	if r.IsSet() {
		return r
	}
	return fallback
}

// Expired reports whether an entry recorded at recorded is stale at now.
func (r Refresh) Expired(recorded, now time.Time) bool {
	switch r.kind {
	case refreshNever:
		return false
	case refreshAlways:
		return true
	case refreshAfter:
		return now.Sub(recorded) >= r.ttl
	default:
		return DefaultRefresh.Expired(recorded, now)
	}
}

func (r Refresh) String() string {
	switch r.kind {
	case refreshNever:
		return "never"
	case refreshAlways:
		return "always"
	case refreshAfter:
		return r.ttl.String()
	default:
		return "default"
	}
}
