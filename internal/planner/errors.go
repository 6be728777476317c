package planner

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"lumen-gatherer/internal/protocol"
	"lumen-gatherer/internal/transport"
)

var ErrDeviceNotFound = errors.New("failed to find device")

type DeviceNotFoundError struct {
	Serial protocol.Serial
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDeviceNotFound, e.Serial)
}

func (e *DeviceNotFoundError) Unwrap() error {
	return ErrDeviceNotFound
}

// PlanFailedError is reported when an instance could not produce its result.
type PlanFailedError struct {
	Serial protocol.Serial
	Label  string
	Err    error
}

func (e *PlanFailedError) Error() string {
	return fmt.Sprintf("plan %q failed for %s: %v", e.Label, e.Serial, e.Err)
}

func (e *PlanFailedError) Unwrap() error {
	return e.Err
}

// RunErrors carries every error collected during a gathering call.
type RunErrors struct {
	Errors []error
}

func joinErrors(errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}

func (e *RunErrors) Error() string {
	return fmt.Sprintf("gathering failed with %d error(s): %s", len(e.Errors), joinErrors(e.Errors))
}

func (e *RunErrors) Unwrap() []error {
	return e.Errors
}

// BadRunWithResults is returned by GatherAll when errors happened. Results
// holds everything that was gathered regardless.
type BadRunWithResults struct {
	Results map[protocol.Serial]DeviceResult
	Errors  []error
}

func (e *BadRunWithResults) Error() string {
	return fmt.Sprintf("gathering finished with %d error(s) for %d device(s): %s", len(e.Errors), len(e.Results), joinErrors(e.Errors))
}

func (e *BadRunWithResults) Unwrap() []error {
	return e.Errors
}

// lockedCatcher serializes the calls to a caller supplied catcher, which
// every device of a call reports to.
type lockedCatcher struct {
	mu      sync.Mutex
	catcher transport.ErrorCatcher
}

func (c *lockedCatcher) Add(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catcher.Add(err)
}

// ErrorCollector is an error sink safe for concurrent use.
type ErrorCollector struct {
	mu   sync.Mutex
	errs []error
}

func (c *ErrorCollector) Add(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

// Errors returns a snapshot of the collected errors.
func (c *ErrorCollector) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

// Err is nil without errors, a *RunErrors otherwise.
func (c *ErrorCollector) Err() error {
	errs := c.Errors()
	if len(errs) == 0 {
		return nil
	}
	return &RunErrors{Errors: errs}
}
