// Package watch gathers information about the fleet on a schedule and
// publishes every device result on the internal broker.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"lumen-gatherer/internal/discovery"
	"lumen-gatherer/internal/infra/async"
	"lumen-gatherer/internal/planner"
	"lumen-gatherer/internal/protocol"

	"github.com/robfig/cron/v3"
)

const (
	DeviceResultsTopic async.BrokerTopicName = "device_results"

	EventDeviceGathered = "device_gathered"
	EventRoundFailed    = "round_failed"
)

var _parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts standard cron expressions, an optional leading
// seconds field and descriptors such as "@every 30s".
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := _parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", expr, err)
	}
	return schedule, nil
}

type Gatherer interface {
	GatherPerSerial(ctx context.Context, plans planner.Plans, ref discovery.Reference, opts ...planner.CallOption) *planner.Stream[planner.DeviceResult]
}

// Snapshot is the latest result known for every device.
type Snapshot struct {
	Round   int                    `json:"round"`
	Updated time.Time              `json:"updated"`
	Devices []planner.DeviceResult `json:"devices"`
}

var _ async.Worker = (*Watcher)(nil)

// Watcher runs one gathering round each time its schedule fires. A round
// that is still running when the next one is due makes the watcher skip
// that tick.
type Watcher struct {
	gatherer Gatherer
	broker   async.InternalBroker
	plans    planner.Plans
	ref      discovery.Reference
	schedule cron.Schedule
	opts     []planner.CallOption

	mu      sync.RWMutex
	latest  map[protocol.Serial]planner.DeviceResult
	round   int
	updated time.Time
	cancel  context.CancelFunc
	running bool
}

func NewWatcher(
	gatherer Gatherer,
	broker async.InternalBroker,
	plans planner.Plans,
	ref discovery.Reference,
	schedule cron.Schedule,
	opts ...planner.CallOption,
) *Watcher {
	return &Watcher{
		gatherer: gatherer,
		broker:   broker,
		plans:    plans,
		ref:      ref,
		schedule: schedule,
		opts:     opts,
		latest:   make(map[protocol.Serial]planner.DeviceResult),
	}
}

func (w *Watcher) Run(ctx context.Context, done func()) {
	defer done()

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	defer cancel()

	slog.Info("watcher started",
		slog.String("reference", w.ref.String()),
		slog.Any("plans", w.plans.Labels()),
	)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		next := w.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("watcher cancelled")
			return
		case <-timer.C:
			if !w.begin() {
				slog.Warn("previous gathering round still running, skipping tick")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer w.end()
				w.Gather(ctx)
			}()
		}
	}
}

func (w *Watcher) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Watcher) begin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return false
	}
	w.running = true
	return true
}

func (w *Watcher) end() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

// Gather runs a single round: each device result is stored and published
// as it arrives. Errors of the round are logged and published once it is
// over.
func (w *Watcher) Gather(ctx context.Context) error {
	w.mu.Lock()
	w.round++
	round := w.round
	w.mu.Unlock()

	slog.Debug("gathering round started", slog.Int("round", round))

	stream := w.gatherer.GatherPerSerial(ctx, w.plans, w.ref, w.opts...)
	devices := 0
	for res := range stream.C() {
		devices++
		w.store(res)
		w.publish(ctx, async.BrokerMessage{Event: EventDeviceGathered, Value: res})
	}

	err := stream.Err()
	if err != nil {
		slog.Warn("gathering round finished with errors",
			slog.Int("round", round),
			slog.Int("devices", devices),
			slog.Any("error", err),
		)
		w.publish(ctx, async.BrokerMessage{Event: EventRoundFailed, Error: err})
		return err
	}

	slog.Info("gathering round finished", slog.Int("round", round), slog.Int("devices", devices))
	return nil
}

// store keeps the labels of earlier rounds that this round did not produce.
func (w *Watcher) store(res planner.DeviceResult) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info := make(map[string]planner.Result, len(res.Info))
	if previous, ok := w.latest[res.Serial]; ok {
		for label, result := range previous.Info {
			info[label] = result
		}
	}
	for label, result := range res.Info {
		info[label] = result
	}

	w.latest[res.Serial] = planner.DeviceResult{
		Serial:   res.Serial,
		Complete: len(info) == len(w.plans),
		Info:     info,
	}
	w.updated = time.Now()
}

func (w *Watcher) publish(ctx context.Context, msg async.BrokerMessage) {
	if w.broker == nil {
		return
	}
	if err := w.broker.Publish(ctx, DeviceResultsTopic, msg); err != nil && !errors.Is(err, async.ErrTopicNotFound) {
		slog.Warn("failed to publish device result", slog.Any("error", err))
	}
}

// Latest returns the snapshot sorted by serial.
func (w *Watcher) Latest() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	devices := make([]planner.DeviceResult, 0, len(w.latest))
	for _, res := range w.latest {
		devices = append(devices, res)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Serial < devices[j].Serial })

	return Snapshot{Round: w.round, Updated: w.updated, Devices: devices}
}

// Device returns the latest result of one device.
func (w *Watcher) Device(serial protocol.Serial) (planner.DeviceResult, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	res, ok := w.latest[serial]
	return res, ok
}
