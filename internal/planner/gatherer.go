package planner

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"lumen-gatherer/internal/discovery"
	"lumen-gatherer/internal/protocol"
	"lumen-gatherer/internal/transport"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

var tracer = otel.Tracer("lumen-gatherer")

// DeviceFinder resolves a reference into reachable devices.
type DeviceFinder interface {
	Find(ctx context.Context, ref discovery.Reference, timeout time.Duration) (discovery.Resolution, error)
}

// DeviceResult is every result gathered for one device. Complete is true
// when each requested label produced a result.
type DeviceResult struct {
	Serial   protocol.Serial   `json:"serial"`
	Complete bool              `json:"complete"`
	Info     map[string]Result `json:"info"`
}

type callOptions struct {
	errors         transport.ErrorCatcher
	messageTimeout time.Duration
	findTimeout    time.Duration
	limit          int64
}

type CallOption func(*callOptions)

// WithErrorCatcher sends every per device and per plan error to c instead
// of returning them once the call is over. Calls to c are serialized.
func WithErrorCatcher(c transport.ErrorCatcher) CallOption {
	return func(o *callOptions) {
		o.errors = c
	}
}

func WithMessageTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.messageTimeout = d
	}
}

func WithFindTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.findTimeout = d
	}
}

// WithLimit bounds how many devices are sent messages at once.
func WithLimit(n int) CallOption {
	return func(o *callOptions) {
		o.limit = int64(n)
	}
}

// Gatherer runs plans against many devices at once and merges their
// results. The Session it holds is shared by every call until ClearCache.
type Gatherer struct {
	sender   transport.Sender
	finder   DeviceFinder
	clock    Clock
	defaults []CallOption
	session  atomic.Pointer[Session]
}

func NewGatherer(sender transport.Sender, finder DeviceFinder, clock Clock, defaults ...CallOption) *Gatherer {
	if clock == nil {
		clock = SystemClock
	}
	g := &Gatherer{sender: sender, finder: finder, clock: clock, defaults: defaults}
	g.session.Store(NewSession(clock))
	return g
}

func (g *Gatherer) Session() *Session {
	return g.session.Load()
}

// ClearCache starts a fresh Session. Calls in flight keep the old one.
func (g *Gatherer) ClearCache() {
	g.session.Store(NewSession(g.clock))
}

// run is the state shared by one gathering call and its dependency calls.
type run struct {
	session *Session
	errors  transport.ErrorCatcher
	sem     *semaphore.Weighted
	send    transport.SendOptions

	unreachable sync.Map // protocol.Serial -> struct{}
}

// markUnreachable reports whether serial was not already known to be
// unreachable in this call.
func (r *run) markUnreachable(serial protocol.Serial) bool {
	_, known := r.unreachable.LoadOrStore(serial, struct{}{})
	return !known
}

func (r *run) isUnreachable(serial protocol.Serial) bool {
	_, ok := r.unreachable.Load(serial)
	return ok
}

func (g *Gatherer) newRun(opts []CallOption) (*run, callOptions, *ErrorCollector) {
	o := callOptions{findTimeout: discovery.DefaultFindTimeout}
	for _, opt := range append(append([]CallOption(nil), g.defaults...), opts...) {
		opt(&o)
	}

	var (
		collector *ErrorCollector
		catcher   transport.ErrorCatcher
	)
	if o.errors != nil {
		catcher = &lockedCatcher{catcher: o.errors}
	} else {
		collector = &ErrorCollector{}
		catcher = collector
	}

	r := &run{
		session: g.session.Load(),
		errors:  catcher,
		send:    transport.SendOptions{MessageTimeout: o.messageTimeout, Errors: catcher},
	}
	if o.limit > 0 {
		r.sem = semaphore.NewWeighted(o.limit)
	}
	return r, o, collector
}

// Gather streams every (device, label, result) as soon as it is known.
//
// Without WithErrorCatcher the errors of the call are returned by Err once
// the stream is drained, as a *RunErrors.
func (g *Gatherer) Gather(ctx context.Context, plans Plans, ref discovery.Reference, opts ...CallOption) *Stream[Item] {
	r, o, collector := g.newRun(opts)
	stream := newStream[Item]()

	go func() {
		ctx, span := tracer.Start(ctx, "gatherer.gather", trace.WithAttributes(
			attribute.String("reference", ref.String()),
			attribute.StringSlice("plans", plans.Labels()),
		))
		defer span.End()

		if len(plans) > 0 {
			serials := g.resolve(ctx, r, ref, o.findTimeout)
			g.fanOut(ctx, r, plans, serials, func(item Item) bool {
				select {
				case stream.c <- item:
					return true
				case <-ctx.Done():
					return false
				}
			})
		}

		var err error
		if collector != nil {
			err = collector.Err()
		}
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		stream.finish(err)
	}()

	return stream
}

// GatherPerSerial streams one DeviceResult per device: as soon as all of its
// labels are known, or once the call is over for incomplete devices.
func (g *Gatherer) GatherPerSerial(ctx context.Context, plans Plans, ref discovery.Reference, opts ...CallOption) *Stream[DeviceResult] {
	items := g.Gather(ctx, plans, ref, opts...)
	stream := newStream[DeviceResult]()

	go func() {
		groupBySerial(plans, items.C(), func(res DeviceResult) {
			select {
			case stream.c <- res:
			case <-ctx.Done():
			}
		})
		stream.finish(items.Err())
	}()

	return stream
}

// GatherAll collects every DeviceResult. When anything went wrong the
// results are returned together with a *BadRunWithResults carrying them.
func (g *Gatherer) GatherAll(ctx context.Context, plans Plans, ref discovery.Reference, opts ...CallOption) (map[protocol.Serial]DeviceResult, error) {
	results := make(map[protocol.Serial]DeviceResult)

	items := g.Gather(ctx, plans, ref, opts...)
	groupBySerial(plans, items.C(), func(res DeviceResult) {
		results[res.Serial] = res
	})

	if err := items.Err(); err != nil {
		errs := []error{err}
		var runErrors *RunErrors
		if errors.As(err, &runErrors) {
			errs = runErrors.Errors
			if ctx.Err() != nil {
				errs = append(errs, ctx.Err())
			}
		}
		return results, &BadRunWithResults{Results: results, Errors: errs}
	}
	return results, nil
}

func groupBySerial(plans Plans, items <-chan Item, emit func(DeviceResult)) {
	pending := make(map[protocol.Serial]map[string]Result)

	for item := range items {
		info, ok := pending[item.Serial]
		if !ok {
			info = make(map[string]Result)
			pending[item.Serial] = info
		}
		info[item.Label] = item.Result

		if len(info) == len(plans) {
			delete(pending, item.Serial)
			emit(DeviceResult{Serial: item.Serial, Complete: true, Info: info})
		}
	}

	serials := make([]protocol.Serial, 0, len(pending))
	for serial := range pending {
		serials = append(serials, serial)
	}
	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })

	for _, serial := range serials {
		emit(DeviceResult{Serial: serial, Complete: false, Info: pending[serial]})
	}
}

func (g *Gatherer) resolve(ctx context.Context, r *run, ref discovery.Reference, timeout time.Duration) []protocol.Serial {
	if g.finder == nil {
		if ref.IsAll() {
			r.errors.Add(discovery.ErrNoDiscoverer)
			return nil
		}
		return ref.Serials()
	}

	res, err := g.finder.Find(ctx, ref, timeout)
	if err != nil {
		r.errors.Add(err)
		return nil
	}

	for _, serial := range res.Missing {
		recordDeviceError(ctx, "not_found")
		r.errors.Add(&DeviceNotFoundError{Serial: serial})
	}
	return res.Found
}

// fanOut follows every device concurrently and returns once all are done.
// emit is called from many goroutines.
func (g *Gatherer) fanOut(ctx context.Context, r *run, plans Plans, serials []protocol.Serial, emit func(Item) bool) {
	var wg sync.WaitGroup
	for _, serial := range serials {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.follow(ctx, r, plans, serial, emit)
		}()
	}
	wg.Wait()
}

func (g *Gatherer) follow(ctx context.Context, r *run, plans Plans, serial protocol.Serial, emit func(Item) bool) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "gatherer.follow", trace.WithAttributes(attribute.String("serial", serial.String())))
	defer span.End()
	defer recordFollowDuration(ctx, started)

	depinfo := g.deps(ctx, r, plans, serial)
	if ctx.Err() != nil || r.isUnreachable(serial) {
		return
	}

	p := newPlanner(r.session, plans, depinfo, serial, r.errors)
	msgs := p.MessagesToSend()

	slog.Debug("following device",
		slog.String("serial", serial.String()),
		slog.Int("plans", len(plans)),
		slog.Int("messages", len(msgs)),
	)

	for _, item := range p.Completed(ctx) {
		if !emit(item) {
			return
		}
	}

	if len(msgs) > 0 && !g.send(ctx, r, p, serial, msgs, emit) {
		return
	}

	if ctx.Err() != nil {
		return
	}
	for _, item := range p.Ended(ctx) {
		if !emit(item) {
			return
		}
	}
}

// send reports false when the device could not be reached or the call was
// cancelled.
func (g *Gatherer) send(ctx context.Context, r *run, p *Planner, serial protocol.Serial, msgs []protocol.Message, emit func(Item) bool) bool {
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return false
		}
		defer r.sem.Release(1)
	}

	recordMessagesSent(ctx, len(msgs))
	replies, err := g.sender.Send(ctx, serial, msgs, r.send)
	if err != nil {
		if !r.markUnreachable(serial) {
			return false
		}
		recordDeviceError(ctx, "unreachable")
		slog.Warn("failed to send to device",
			slog.String("serial", serial.String()),
			slog.Any("error", err),
		)
		trace.SpanFromContext(ctx).RecordError(err)
		r.errors.Add(err)
		return false
	}

	for pkt := range replies {
		recordPacketReceived(ctx)
		for _, item := range p.Add(ctx, pkt) {
			if !emit(item) {
				return false
			}
		}
	}
	return true
}

// deps gathers the dependencies of plans for serial under fresh labels and
// maps them back to the labels of the plans needing them. A plan is left
// out when any of its own dependencies did not complete.
func (g *Gatherer) deps(ctx context.Context, r *run, plans Plans, serial protocol.Serial) map[string]Deps {
	type slot struct {
		label string
		dep   string
	}

	slots := make(map[string]slot)
	depPlans := make(Plans)
	for _, label := range plans.Labels() {
		for dep, plan := range plans[label].Dependencies() {
			uid := uuid.NewString()
			slots[uid] = slot{label: label, dep: dep}
			depPlans[uid] = plan
		}
	}
	if len(depPlans) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		results = make(map[string]Result)
	)
	g.fanOut(ctx, r, depPlans, []protocol.Serial{serial}, func(item Item) bool {
		mu.Lock()
		defer mu.Unlock()
		results[item.Label] = item.Result
		return true
	})

	depinfo := make(map[string]Deps)
	for uid, result := range results {
		s := slots[uid]
		if depinfo[s.label] == nil {
			depinfo[s.label] = make(Deps)
		}
		depinfo[s.label][s.dep] = result
	}

	for label, deps := range depinfo {
		if len(deps) != len(plans[label].Dependencies()) {
			delete(depinfo, label)
		}
	}
	return depinfo
}
