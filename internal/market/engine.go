// Package market is the settlement engine: fixed-price listings, English
// auctions, escrow of assets and payments, and lazy-mint vouchers. Every
// mutating operation is serialised and either commits fully or leaves every
// registry and ledger exactly as it found them.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/access"
	"github.com/alanyoungcy/lazymarket/internal/crypto"
	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// Deps are the collaborators the engine settles against.
type Deps struct {
	// Address is the engine's custody account on every ledger.
	Address  common.Address
	Payment  domain.PaymentLedger
	Assets   []domain.AssetLedger
	Guard    *access.Guard
	Verifier *crypto.VoucherVerifier
	Sink     domain.EventSink
	Clock    domain.Clock
	Logger   *slog.Logger

	// NextListing and NextLot continue numbering after a restart so new ids
	// never collide with persisted ones. Zero NextListing means 1; lots
	// number from zero.
	NextListing uint64
	NextLot     uint64
}

// Engine owns the listing and lot registries.
type Engine struct {
	mu sync.Mutex

	address  common.Address
	payment  domain.PaymentLedger
	byKind   map[domain.AssetKind]domain.AssetLedger
	byRef    map[common.Address]domain.AssetLedger
	assets   []domain.AssetLedger
	guard    *access.Guard
	verifier *crypto.VoucherVerifier
	sink     domain.EventSink
	clock    domain.Clock
	policy   Policy
	logger   *slog.Logger

	listings    map[uint64]*domain.Listing
	nextListing uint64
	lots        map[uint64]*domain.AuctionLot
	nextLot     uint64

	lastAuction    map[common.Address]time.Time
	lastAnyAuction time.Time
	usedVouchers   map[common.Hash]uint64
	pendingMints   map[mintKey]map[uint64]struct{}

	checkpointers []domain.Checkpointer
}

// New validates the collaborators and returns an engine with empty
// registries. The first asset ledger of each kind becomes the default for
// requests that carry no asset reference.
func New(deps Deps, policy Policy) (*Engine, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}
	if deps.Payment == nil || deps.Verifier == nil {
		return nil, fmt.Errorf("market: payment ledger and voucher verifier are required")
	}
	if deps.Address == (common.Address{}) {
		return nil, fmt.Errorf("market: custody address is required")
	}
	if deps.Guard == nil {
		deps.Guard = access.NewGuard(policy.StrikeThreshold)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	e := &Engine{
		address:      deps.Address,
		payment:      deps.Payment,
		byKind:       make(map[domain.AssetKind]domain.AssetLedger),
		byRef:        make(map[common.Address]domain.AssetLedger),
		guard:        deps.Guard,
		verifier:     deps.Verifier,
		sink:         deps.Sink,
		clock:        deps.Clock,
		policy:       policy,
		logger:       deps.Logger.With(slog.String("component", "market")),
		listings:     make(map[uint64]*domain.Listing),
		nextListing:  max(deps.NextListing, 1),
		lots:         make(map[uint64]*domain.AuctionLot),
		nextLot:      deps.NextLot,
		lastAuction:  make(map[common.Address]time.Time),
		usedVouchers: make(map[common.Hash]uint64),
		pendingMints: make(map[mintKey]map[uint64]struct{}),
	}

	if cp, ok := deps.Payment.(domain.Checkpointer); ok {
		e.checkpointers = append(e.checkpointers, cp)
	}
	e.checkpointers = append(e.checkpointers, deps.Guard)

	for _, l := range deps.Assets {
		if err := registerAsset(e, l); err != nil {
			return nil, err
		}
	}
	if len(e.byKind) == 0 {
		return nil, fmt.Errorf("market: at least one asset ledger is required")
	}
	return e, nil
}

func registerAsset(e *Engine, l domain.AssetLedger) error {
	kind := l.Kind()
	var iface [4]byte
	switch kind {
	case domain.AssetSingle:
		iface = domain.InterfaceERC721
	case domain.AssetFungible:
		iface = domain.InterfaceERC1155
	default:
		return fmt.Errorf("market: ledger %s: %w", l.Address().Hex(), domain.ErrInvalidStandard)
	}
	if !l.SupportsInterface(domain.InterfaceERC165) || !l.SupportsInterface(iface) {
		return fmt.Errorf("market: ledger %s does not implement %s: %w", l.Address().Hex(), kind, domain.ErrInvalidStandard)
	}
	if _, dup := e.byRef[l.Address()]; dup {
		return fmt.Errorf("market: ledger %s registered twice: %w", l.Address().Hex(), domain.ErrAlreadyExists)
	}
	e.byRef[l.Address()] = l
	e.assets = append(e.assets, l)
	if _, ok := e.byKind[kind]; !ok {
		e.byKind[kind] = l
	}
	if cp, ok := l.(domain.Checkpointer); ok {
		e.checkpointers = append(e.checkpointers, cp)
	}
	return nil
}

// Address is the custody account sellers and bidders approve.
func (e *Engine) Address() common.Address { return e.address }

func (e *Engine) Policy() Policy { return e.policy }

func (e *Engine) Guard() *access.Guard { return e.guard }

// AssetLedger resolves ref, or the default ledger for kind when ref is zero.
func (e *Engine) AssetLedger(kind domain.AssetKind, ref common.Address) (domain.AssetLedger, error) {
	if !kind.Valid() {
		return nil, domain.ErrInvalidStandard
	}
	if ref == (common.Address{}) {
		l, ok := e.byKind[kind]
		if !ok {
			return nil, fmt.Errorf("no %s ledger configured: %w", kind, domain.ErrInvalidStandard)
		}
		return l, nil
	}
	l, ok := e.byRef[ref]
	if !ok || l.Kind() != kind {
		return nil, fmt.Errorf("ledger %s is not a %s ledger: %w", ref.Hex(), kind, domain.ErrInvalidStandard)
	}
	return l, nil
}

// GetListing returns a copy of the listing.
func (e *Engine) GetListing(id uint64) (domain.Listing, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.listings[id]
	if !ok {
		return domain.Listing{}, fmt.Errorf("market: listing %d: %w", id, domain.ErrNotFound)
	}
	return l.Clone(), nil
}

// GetLotInfo returns the read-only projection of a lot.
func (e *Engine) GetLotInfo(lotID uint64) (domain.LotView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.lots[lotID]
	if !ok {
		return domain.LotView{}, fmt.Errorf("market: lot %d: %w", lotID, domain.ErrNoSuchLot)
	}
	return l.View(), nil
}

// txn collects the undo steps and events of one operation. now is the
// operation's single clock reading.
type txn struct {
	now    time.Time
	undo   []func()
	events []domain.MarketEvent
}

func (tx *txn) onUndo(fn func()) { tx.undo = append(tx.undo, fn) }

func (tx *txn) emit(ev domain.MarketEvent) {
	ev.At = tx.now
	tx.events = append(tx.events, ev)
}

// atomically runs fn under the writer lock. On error or panic every ledger
// checkpoint is restored and registry undo steps run in reverse order; a
// panic is re-raised after the rollback. Events reach the sink only after a
// commit, outside the lock.
func (e *Engine) atomically(ctx context.Context, op string, fn func(tx *txn) error) error {
	tx, err := e.run(fn)
	if err != nil {
		e.logger.DebugContext(ctx, "operation rolled back",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("market: %s: %w", op, err)
	}
	if e.sink != nil && len(tx.events) > 0 {
		e.sink.Record(ctx, tx.events)
	}
	return nil
}

func (e *Engine) run(fn func(tx *txn) error) (tx *txn, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx = &txn{now: e.clock()}
	restores := make([]func(), 0, len(e.checkpointers))
	for _, cp := range e.checkpointers {
		restores = append(restores, cp.Checkpoint())
	}
	rollback := func() {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
	}
	defer func() {
		if r := recover(); r != nil {
			rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		rollback()
		return nil, err
	}
	return tx, nil
}

// recordStrike charges a cancellation to seller and emits the matching
// events.
func (e *Engine) recordStrike(tx *txn, seller common.Address) {
	entry, banned := e.guard.RecordCancelStrike(seller, tx.now)
	tx.emit(domain.MarketEvent{Type: domain.EventStrikeRecorded, Actor: seller, Blacklist: &entry})
	if banned {
		e.logger.Warn("seller blacklisted",
			slog.String("seller", seller.Hex()),
			slog.Int("strikes", entry.Strikes),
		)
		tx.emit(domain.MarketEvent{Type: domain.EventBlacklisted, Actor: seller, Blacklist: &entry})
	}
}
