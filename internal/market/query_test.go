package market

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

func TestListingsFilterAndOrder(t *testing.T) {
	f := newFixture(t)
	for id := uint64(1); id <= 3; id++ {
		f.mintSingle(f.seller, id)
		if _, err := f.engine.ListItem(f.ctx, f.seller, f.fixedListing(id, 100)); err != nil {
			t.Fatalf("list %d: %v", id, err)
		}
	}
	f.fund(buyerAddr, 100)
	if err := f.engine.BuyItem(f.ctx, buyerAddr, 2); err != nil {
		t.Fatalf("buy: %v", err)
	}

	all := f.engine.Listings(domain.ListingFilter{})
	if len(all) != 3 || all[0].ID != 3 || all[2].ID != 1 {
		t.Fatalf("listings not newest first: %+v", all)
	}

	open := f.engine.Listings(domain.ListingFilter{Status: domain.ListingOpen})
	if len(open) != 2 {
		t.Fatalf("open listings = %d, want 2", len(open))
	}

	other := buyerAddr
	if got := f.engine.Listings(domain.ListingFilter{Seller: &other}); len(got) != 0 {
		t.Fatalf("listings for buyer = %d, want 0", len(got))
	}

	paged := f.engine.Listings(domain.ListingFilter{ListOpts: domain.ListOpts{Limit: 1, Offset: 1}})
	if len(paged) != 1 || paged[0].ID != 2 {
		t.Fatalf("page = %+v, want listing 2", paged)
	}
	if got := f.engine.Listings(domain.ListingFilter{ListOpts: domain.ListOpts{Offset: 10}}); len(got) != 0 {
		t.Fatalf("offset past end returned %d", len(got))
	}
}

func TestLotsFilterByTime(t *testing.T) {
	f := newFixture(t)
	f.mintSingle(f.seller, 1)
	f.auction(1, 100)
	f.clock.Advance(25 * time.Hour)
	f.mintSingle(f.seller, 2)
	f.auction(2, 100)

	since := baseTime.Add(time.Hour)
	got := f.engine.Lots(domain.LotFilter{ListOpts: domain.ListOpts{Since: &since}})
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("lots since = %+v, want lot 1 only", got)
	}
	if got := f.engine.Lots(domain.LotFilter{Status: domain.LotFinished}); len(got) != 0 {
		t.Fatalf("finished lots = %d, want 0", len(got))
	}
}

func TestApplyRollsBackLedgerChanges(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("second step failed")

	err := f.engine.Apply(f.ctx, "faucet", func(ctx context.Context) error {
		if err := f.token.Mint(ctx, buyerAddr, big.NewInt(500)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if got := f.balance(buyerAddr); got != 0 {
		t.Fatalf("balance after rollback = %d, want 0", got)
	}
	if len(f.sink.events) != 0 {
		t.Fatal("Apply emitted events")
	}
}
