package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// EventNotifier renders and sends operator alerts for market events.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.MarketEvent) error
}

// RecorderDeps are the optional outputs of an EventRecorder. Nil members
// are skipped.
type RecorderDeps struct {
	Bus       domain.SignalBus
	Listings  domain.ListingStore
	Lots      domain.LotStore
	Blacklist domain.BlacklistStore
	Audit     domain.AuditStore
	Notifier  EventNotifier
	Local     []domain.EventSink
	Logger    *slog.Logger
}

// EventRecorder implements domain.EventSink. Each committed event is
// published on the bus, appended to the event stream and the audit log,
// folded into the read projections and offered to the notifier. Failures
// are logged; the market operation has already committed.
type EventRecorder struct {
	deps   RecorderDeps
	logger *slog.Logger
}

// NewEventRecorder creates an EventRecorder.
func NewEventRecorder(deps RecorderDeps) *EventRecorder {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EventRecorder{
		deps:   deps,
		logger: logger.With(slog.String("component", "event_recorder")),
	}
}

// Record handles events in commit order.
func (r *EventRecorder) Record(ctx context.Context, events []domain.MarketEvent) {
	// Recording outlives the request that triggered the operation.
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		r.record(ctx, ev)
	}
	for _, sink := range r.deps.Local {
		sink.Record(ctx, events)
	}
}

func (r *EventRecorder) record(ctx context.Context, ev domain.MarketEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.warn(ctx, ev, "marshal", err)
		return
	}

	if bus := r.deps.Bus; bus != nil {
		if err := bus.Publish(ctx, domain.EventsChannel, payload); err != nil {
			r.warn(ctx, ev, "publish", err)
		}
		if ch := ev.Channel(); ch != "" {
			if err := bus.Publish(ctx, ch, payload); err != nil {
				r.warn(ctx, ev, "publish entity", err)
			}
		}
		if err := bus.StreamAppend(ctx, domain.EventsStream, payload); err != nil {
			r.warn(ctx, ev, "stream append", err)
		}
	}

	if err := r.project(ctx, ev); err != nil {
		r.warn(ctx, ev, "project", err)
	}

	if r.deps.Audit != nil {
		if err := r.deps.Audit.Log(ctx, string(ev.Type), auditDetail(ev)); err != nil {
			r.warn(ctx, ev, "audit", err)
		}
	}

	if r.deps.Notifier != nil {
		if err := r.deps.Notifier.NotifyEvent(ctx, ev); err != nil {
			r.warn(ctx, ev, "notify", err)
		}
	}
}

func (r *EventRecorder) project(ctx context.Context, ev domain.MarketEvent) error {
	switch {
	case ev.Listing != nil && r.deps.Listings != nil:
		return r.deps.Listings.Upsert(ctx, *ev.Listing)
	case ev.Lot != nil && r.deps.Lots != nil:
		return r.deps.Lots.Upsert(ctx, *ev.Lot)
	case ev.Blacklist != nil && r.deps.Blacklist != nil:
		return r.deps.Blacklist.Upsert(ctx, *ev.Blacklist)
	}
	return nil
}

func (r *EventRecorder) warn(ctx context.Context, ev domain.MarketEvent, step string, err error) {
	r.logger.WarnContext(ctx, "event recording step failed",
		slog.String("event", string(ev.Type)),
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
}

func auditDetail(ev domain.MarketEvent) map[string]any {
	d := map[string]any{"actor": ev.Actor.Hex()}
	if ev.Counterparty != (common.Address{}) {
		d["counterparty"] = ev.Counterparty.Hex()
	}
	if ev.Amount != nil {
		d["amount"] = ev.Amount.String()
	}
	switch {
	case ev.Listing != nil:
		d["listing_id"] = ev.Listing.ID
		d["status"] = string(ev.Listing.Status)
	case ev.Lot != nil:
		d["lot_id"] = ev.Lot.ID
		d["status"] = string(ev.Lot.Status)
	case ev.Blacklist != nil:
		d["address"] = ev.Blacklist.Address.Hex()
		d["strikes"] = ev.Blacklist.Strikes
		d["banned"] = ev.Blacklist.Banned
	}
	return d
}
