package planner

import (
	"context"
	"log/slog"

	"lumen-gatherer/internal/protocol"
	"lumen-gatherer/internal/transport"
)

// Item is one plan result for one device.
type Item struct {
	Serial protocol.Serial `json:"serial"`
	Label  string          `json:"label"`
	Result Result          `json:"result"`
}

type planInfo struct {
	label     string
	instance  Instance
	key       PlanKey
	cacheable bool
	messages  Messages
	// completed is set when the result was known before anything was sent.
	completed *Result
	done      bool
}

// Planner drives the plans of one device for one gathering call. Call
// MessagesToSend first, then Completed, then Add for every reply and finally
// Ended.
type Planner struct {
	session *Session
	serial  protocol.Serial
	errors  transport.ErrorCatcher
	infos   []*planInfo
}

// newPlanner builds the instances. Plans with dependencies only run when
// depinfo holds their resolved dependencies.
func newPlanner(session *Session, plans Plans, depinfo map[string]Deps, serial protocol.Serial, errs transport.ErrorCatcher) *Planner {
	p := &Planner{session: session, serial: serial, errors: errs}

	for _, label := range plans.Labels() {
		plan := plans[label]

		var deps Deps
		if len(plan.Dependencies()) > 0 {
			var ok bool
			if deps, ok = depinfo[label]; !ok {
				slog.Debug("dropping plan with unresolved dependencies",
					slog.String("serial", serial.String()),
					slog.String("label", label),
				)
				continue
			}
		}

		instance := plan.NewInstance(serial, deps)
		key, cacheable := instance.Key()
		info := &planInfo{label: label, instance: instance, key: key, cacheable: cacheable}

		if cacheable {
			session.RefreshFilled(key, serial, instance.Refresh())
			if result, ok := session.Completed(key, serial); ok {
				info.completed = &result
				info.done = true
				p.infos = append(p.infos, info)
				continue
			}
		}

		info.messages = instance.Messages()
		if info.messages.IsSkip() {
			skipped := Skipped
			info.completed = &skipped
			info.done = true
		}

		p.infos = append(p.infos, info)
	}

	return p
}

// MessagesToSend lists the requests with no usable cached reply, each once.
// Stale replies are evicted on the way.
func (p *Planner) MessagesToSend() []protocol.Message {
	var (
		queued = make(map[protocol.Key]bool)
		msgs   []protocol.Message
	)

	for _, info := range p.infos {
		if info.done {
			continue
		}
		for _, msg := range info.messages.List() {
			key := msg.Key()
			p.session.RefreshReceived(key, p.serial, info.instance.Refresh())

			if !p.session.HasReceived(key, p.serial) && !queued[key] {
				queued[key] = true
				msgs = append(msgs, msg.WithTarget(p.serial))
			}
		}
	}

	return msgs
}

// Completed returns what is known before anything is sent: cached results,
// skips, NoMessages plans and whatever the cached replies complete.
func (p *Planner) Completed(ctx context.Context) []Item {
	var items []Item

	for _, info := range p.infos {
		switch {
		case info.completed != nil:
			recordPlanCompleted(ctx, info.key, true)
			items = append(items, Item{Serial: p.serial, Label: info.label, Result: *info.completed})
		case !info.done && info.messages.IsNoMessages():
			if item, ok := p.finish(ctx, info); ok {
				items = append(items, item)
			}
		}
	}

	return append(items, p.process(ctx, p.session.KnownPackets(p.serial))...)
}

// Add caches a reply and feeds it to every unfinished instance.
func (p *Planner) Add(ctx context.Context, pkt *protocol.Packet) []Item {
	p.session.Receive(pkt)
	return p.process(ctx, []*protocol.Packet{pkt})
}

// Ended finishes the instances that wait for the device to go quiet.
func (p *Planner) Ended(ctx context.Context) []Item {
	var items []Item
	for _, info := range p.infos {
		if !info.done && info.instance.FinishedAfterNoMoreMessages() {
			if item, ok := p.finish(ctx, info); ok {
				items = append(items, item)
			}
		}
	}
	return items
}

func (p *Planner) process(ctx context.Context, pkts []*protocol.Packet) []Item {
	var items []Item
	for _, pkt := range pkts {
		for _, info := range p.infos {
			if info.done || info.messages.IsNoMessages() {
				continue
			}
			if info.instance.Process(pkt) {
				if item, ok := p.finish(ctx, info); ok {
					items = append(items, item)
				}
			}
		}
	}
	return items
}

func (p *Planner) finish(ctx context.Context, info *planInfo) (Item, bool) {
	info.done = true

	value, err := info.instance.Info(ctx)
	if err != nil {
		recordPlanFailed(ctx, info.key)
		slog.Warn("plan failed",
			slog.String("serial", p.serial.String()),
			slog.String("label", info.label),
			slog.Any("error", err),
		)
		p.errors.Add(&PlanFailedError{Serial: p.serial, Label: info.label, Err: err})
		return Item{}, false
	}

	result := ResultOf(value)
	if info.cacheable {
		p.session.Fill(info.key, p.serial, result)
	}
	recordPlanCompleted(ctx, info.key, false)

	return Item{Serial: p.serial, Label: info.label, Result: result}, true
}
