package app

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/config"
	"github.com/alanyoungcy/lazymarket/internal/domain"
	"github.com/alanyoungcy/lazymarket/internal/market"
	"github.com/alanyoungcy/lazymarket/internal/server/handler"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Marketplace.Address = "0x00000000000000000000000000000000000000aa"
	cfg.Marketplace.FeeRecipient = "0x000000000000000000000000000000000000fee0"
	return &cfg
}

func TestWireWithoutBackends(t *testing.T) {
	cfg := testConfig()
	deps, cleanup, err := Wire(context.Background(), cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if deps.Engine == nil || deps.Market == nil || deps.Accounts == nil || deps.Hub == nil {
		t.Fatalf("marketplace not wired: %+v", deps)
	}
	if deps.ListingStore != nil || deps.SignalBus != nil || deps.Archiver != nil {
		t.Fatalf("disabled backends were wired")
	}
	if deps.Nonces == nil {
		t.Fatalf("no replay protection without redis")
	}
	if len(deps.Health) != 0 {
		t.Fatalf("health checks = %v, want none", deps.Health)
	}
	if got := deps.Engine.Policy().StrikeThreshold; got != cfg.Marketplace.StrikeThreshold {
		t.Fatalf("strike threshold = %d, want %d", got, cfg.Marketplace.StrikeThreshold)
	}
	if len(deps.Engine.Assets()) != 2 {
		t.Fatalf("asset ledgers = %d, want 2", len(deps.Engine.Assets()))
	}
}

func TestWireRejectsBadPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Marketplace.OnceADayScope = "weekly"
	if _, _, err := Wire(context.Background(), cfg, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatalf("Wire accepted an unknown once-a-day scope")
	}
}

func TestWireNeedsCustody(t *testing.T) {
	cfg := testConfig()
	cfg.Marketplace.Address = ""
	if _, _, err := Wire(context.Background(), cfg, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatalf("Wire succeeded without an address or wallet key")
	}
}

type fakeArchiver struct {
	calls  []string
	before time.Time
	fail   string
}

func (f *fakeArchiver) pass(kind string, before time.Time) (int64, error) {
	f.calls = append(f.calls, kind)
	f.before = before
	if kind == f.fail {
		return 0, errors.New("bucket unavailable")
	}
	return 3, nil
}

func (f *fakeArchiver) ArchiveAudit(_ context.Context, before time.Time) (int64, error) {
	return f.pass("audit", before)
}

func (f *fakeArchiver) ArchiveListings(_ context.Context, before time.Time) (int64, error) {
	return f.pass("listings", before)
}

func (f *fakeArchiver) ArchiveLots(_ context.Context, before time.Time) (int64, error) {
	return f.pass("lots", before)
}

func TestArchiveOnceRunsEveryPass(t *testing.T) {
	cfg := testConfig()
	a := New(cfg, slog.New(slog.DiscardHandler))
	arch := &fakeArchiver{fail: "lots"}

	err := a.archiveOnce(context.Background(), arch)
	if err == nil || !strings.Contains(err.Error(), "archive lots") {
		t.Fatalf("err = %v, want the lots failure", err)
	}
	if strings.Join(arch.calls, ",") != "listings,lots,audit" {
		t.Fatalf("calls = %v", arch.calls)
	}
	wantBefore := time.Now().UTC().Add(-cfg.Archive.Retention.Duration)
	if d := wantBefore.Sub(arch.before); d < 0 || d > time.Minute {
		t.Fatalf("cutoff = %v, want about %v", arch.before, wantBefore)
	}
}

func TestArchiveModeNeedsBackends(t *testing.T) {
	a := New(testConfig(), slog.New(slog.DiscardHandler))
	if err := a.ArchiveMode(context.Background(), &Dependencies{}); err == nil {
		t.Fatalf("ArchiveMode ran without an archiver")
	}
}

// projection stands in for the Postgres listing and lot tables left over from
// an earlier run.
type projection struct {
	top uint64
	err error
}

func (p projection) MaxID(context.Context) (uint64, bool, error) { return p.top, p.err == nil, p.err }

type listingProjection struct{ projection }

func (listingProjection) Upsert(context.Context, domain.Listing) error { return nil }
func (listingProjection) GetByID(context.Context, uint64) (domain.Listing, error) {
	return domain.Listing{}, domain.ErrNotFound
}
func (listingProjection) List(context.Context, domain.ListingFilter) ([]domain.Listing, error) {
	return nil, nil
}
func (listingProjection) ListSettledBefore(context.Context, time.Time) ([]domain.Listing, error) {
	return nil, nil
}

type lotProjection struct{ projection }

func (lotProjection) Upsert(context.Context, domain.AuctionLot) error { return nil }
func (lotProjection) GetByID(context.Context, uint64) (domain.AuctionLot, error) {
	return domain.AuctionLot{}, domain.ErrNotFound
}
func (lotProjection) List(context.Context, domain.LotFilter) ([]domain.AuctionLot, error) {
	return nil, nil
}
func (lotProjection) ListSettledBefore(context.Context, time.Time) ([]domain.AuctionLot, error) {
	return nil, nil
}

func TestWireResumesIDsFromProjections(t *testing.T) {
	ctx := context.Background()
	deps := &Dependencies{
		Health:       map[string]handler.HealthCheck{},
		ListingStore: listingProjection{projection{top: 41}},
		LotStore:     lotProjection{projection{top: 6}},
	}
	if err := wireMarket(ctx, testConfig(), deps, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatalf("wireMarket: %v", err)
	}

	engine := deps.Engine
	seller := common.HexToAddress("0x00000000000000000000000000000000000005e1")
	nft, err := engine.AssetLedger(domain.AssetSingle, common.Address{})
	if err != nil {
		t.Fatalf("asset ledger: %v", err)
	}
	for _, id := range []uint64{1, 2} {
		if err := nft.Mint(ctx, engine.Address(), seller, id, 1, "ipfs://x"); err != nil {
			t.Fatalf("mint %d: %v", id, err)
		}
	}
	if err := nft.SetApprovalForAll(ctx, seller, engine.Address(), true); err != nil {
		t.Fatalf("approve: %v", err)
	}

	listing, err := engine.ListItem(ctx, seller, market.ListItemRequest{
		AssetKind: domain.AssetSingle,
		AssetID:   1,
		Quantity:  1,
		UnitPrice: big.NewInt(100),
		EndTime:   time.Now().Add(time.Hour),
	})
	if err != nil || listing != 42 {
		t.Fatalf("listing id = %d, %v; want 42", listing, err)
	}
	lot, err := engine.ListItemOnAuction(ctx, seller, market.AuctionRequest{
		AssetKind:  domain.AssetSingle,
		AssetID:    2,
		Quantity:   1,
		StartPrice: big.NewInt(10),
	})
	if err != nil || lot != 7 {
		t.Fatalf("lot id = %d, %v; want 7", lot, err)
	}
}

func TestWireFailsWhenProjectionUnreadable(t *testing.T) {
	deps := &Dependencies{
		Health:       map[string]handler.HealthCheck{},
		ListingStore: listingProjection{projection{err: errors.New("relation does not exist")}},
	}
	err := wireMarket(context.Background(), testConfig(), deps, slog.New(slog.DiscardHandler))
	if err == nil || !strings.Contains(err.Error(), "resume listing ids") {
		t.Fatalf("err = %v, want a resume failure", err)
	}
}
