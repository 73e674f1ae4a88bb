package service

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

type published struct {
	channel string
	payload []byte
}

type memBus struct {
	mu      sync.Mutex
	pubs    []published
	stream  [][]byte
	failPub bool
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPub {
		return errors.New("bus offline")
	}
	b.pubs = append(b.pubs, published{channel, payload})
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memLots struct{ upserts []domain.AuctionLot }

func (m *memLots) Upsert(_ context.Context, l domain.AuctionLot) error {
	m.upserts = append(m.upserts, l)
	return nil
}
func (m *memLots) GetByID(context.Context, uint64) (domain.AuctionLot, error) {
	return domain.AuctionLot{}, domain.ErrNotFound
}
func (m *memLots) List(context.Context, domain.LotFilter) ([]domain.AuctionLot, error) {
	return nil, nil
}
func (m *memLots) ListSettledBefore(context.Context, time.Time) ([]domain.AuctionLot, error) {
	return nil, nil
}
func (m *memLots) MaxID(context.Context) (uint64, bool, error) {
	var top uint64
	for _, l := range m.upserts {
		top = max(top, l.ID)
	}
	return top, len(m.upserts) > 0, nil
}

type memBlacklist struct{ upserts []domain.BlacklistEntry }

func (m *memBlacklist) Upsert(_ context.Context, e domain.BlacklistEntry) error {
	m.upserts = append(m.upserts, e)
	return nil
}
func (m *memBlacklist) List(context.Context, bool) ([]domain.BlacklistEntry, error) {
	return m.upserts, nil
}

type memNotifier struct{ types []domain.EventType }

func (n *memNotifier) NotifyEvent(_ context.Context, ev domain.MarketEvent) error {
	n.types = append(n.types, ev.Type)
	return nil
}

type captureSink struct{ events []domain.MarketEvent }

func (c *captureSink) Record(_ context.Context, events []domain.MarketEvent) {
	c.events = append(c.events, events...)
}

func lotEvent(typ domain.EventType, bids int) domain.MarketEvent {
	return domain.MarketEvent{
		Type:   typ,
		Actor:  buyerAddr,
		Amount: big.NewInt(300),
		Lot: &domain.AuctionLot{
			ID: 0, Seller: sellerAddr, StartPrice: big.NewInt(100),
			CurrentBid: big.NewInt(300), CurrentBidder: buyerAddr, BidCount: bids,
			Status: domain.LotActive,
		},
		At: baseTime,
	}
}

func TestRecorderFansOut(t *testing.T) {
	bus := &memBus{}
	lots := &memLots{}
	bl := &memBlacklist{}
	audit := &memAudit{}
	notifier := &memNotifier{}
	local := &captureSink{}
	r := NewEventRecorder(RecorderDeps{
		Bus: bus, Lots: lots, Blacklist: bl, Audit: audit,
		Notifier: notifier, Local: []domain.EventSink{local},
	})

	strike := domain.MarketEvent{
		Type:      domain.EventStrikeRecorded,
		Actor:     sellerAddr,
		Blacklist: &domain.BlacklistEntry{Address: sellerAddr, Strikes: 1},
		At:        baseTime,
	}
	r.Record(context.Background(), []domain.MarketEvent{lotEvent(domain.EventBidPlaced, 2), strike})

	// bid: global + lot channel; strike: global only.
	if len(bus.pubs) != 3 {
		t.Fatalf("publishes = %d, want 3", len(bus.pubs))
	}
	if bus.pubs[0].channel != domain.EventsChannel || bus.pubs[1].channel != "market:lot:0" {
		t.Fatalf("channels = %s, %s", bus.pubs[0].channel, bus.pubs[1].channel)
	}
	if len(bus.stream) != 2 {
		t.Fatalf("stream entries = %d, want 2", len(bus.stream))
	}

	var decoded domain.MarketEvent
	if err := json.Unmarshal(bus.pubs[0].payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Type != domain.EventBidPlaced || decoded.Lot == nil || decoded.Lot.BidCount != 2 {
		t.Fatalf("decoded = %+v", decoded)
	}

	if len(lots.upserts) != 1 || len(bl.upserts) != 1 {
		t.Fatalf("projections: lots=%d blacklist=%d", len(lots.upserts), len(bl.upserts))
	}
	if got := audit.events(); len(got) != 2 || got[0] != "bid_placed" || got[1] != "strike_recorded" {
		t.Fatalf("audit = %v", got)
	}
	if audit.entries[0].Detail["amount"] != "300" {
		t.Fatalf("audit detail = %v", audit.entries[0].Detail)
	}
	if len(notifier.types) != 2 {
		t.Fatalf("notified %d events, want 2", len(notifier.types))
	}
	if len(local.events) != 2 {
		t.Fatalf("local sink got %d events, want 2", len(local.events))
	}
}

func TestRecorderSurvivesFailures(t *testing.T) {
	bus := &memBus{failPub: true}
	audit := &memAudit{err: errors.New("db down")}
	lots := &memLots{}
	r := NewEventRecorder(RecorderDeps{Bus: bus, Lots: lots, Audit: audit})

	r.Record(context.Background(), []domain.MarketEvent{lotEvent(domain.EventLotFinished, 1)})

	if len(lots.upserts) != 1 {
		t.Fatal("projection skipped after bus failure")
	}
	if len(bus.stream) != 1 {
		t.Fatal("stream append skipped after publish failure")
	}
}

func TestRecorderWithEngine(t *testing.T) {
	audit := &memAudit{}
	r := NewEventRecorder(RecorderDeps{Audit: audit})
	engine := newEngine(t, r)
	accounts := NewAccountService(engine, nil, nil)
	seed(t, accounts, sellerAddr, 0, 3)

	svc := NewMarketService(engine, MarketStores{}, nil, RateLimit{}, nil)
	id, err := svc.ListItem(context.Background(), sellerAddr, marketListing(3))
	if err != nil {
		t.Fatalf("ListItem: %v", err)
	}
	if err := svc.Cancel(context.Background(), sellerAddr, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	want := []string{"listing_created", "listing_cancelled", "strike_recorded"}
	got := audit.events()
	if len(got) != len(want) {
		t.Fatalf("audit = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit = %v, want %v", got, want)
		}
	}
}
