package market

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/lazymarket/internal/crypto"
	"github.com/alanyoungcy/lazymarket/internal/domain"
	"github.com/alanyoungcy/lazymarket/internal/ledger"
)

var (
	marketAddr  = common.HexToAddress("0x000000000000000000000000000000000000beef")
	feeAddr     = common.HexToAddress("0x000000000000000000000000000000000000fee0")
	adminAddr   = common.HexToAddress("0x000000000000000000000000000000000000ad00")
	tokenAddr   = common.HexToAddress("0x0000000000000000000000000000000000001000")
	singleAddr  = common.HexToAddress("0x0000000000000000000000000000000000000721")
	multiAddr   = common.HexToAddress("0x0000000000000000000000000000000000001155")
	buyerAddr   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	bidderAddr  = common.HexToAddress("0x0000000000000000000000000000000000000ca7")
	bidder2Addr = common.HexToAddress("0x0000000000000000000000000000000000000d06")

	baseTime = time.Unix(1_700_000_000, 0).UTC()
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.MarketEvent
}

func (s *recordingSink) Record(_ context.Context, events []domain.MarketEvent) {
	s.mu.Lock()
	s.events = append(s.events, events...)
	s.mu.Unlock()
}

func (s *recordingSink) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	engine  *Engine
	token   *ledger.Token
	single  *ledger.SingleAsset
	multi   *ledger.MultiAsset
	clock   *fakeClock
	sink    *recordingSink
	sellerK *ecdsa.PrivateKey
	seller  common.Address
	domain  crypto.Domain
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithPolicy(t, testPolicy())
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.FeeRecipient = feeAddr
	return p
}

func newFixtureWithPolicy(t *testing.T, policy Policy) *fixture {
	t.Helper()
	return newFixtureWithDeps(t, policy, nil)
}

// newFixtureWithDeps lets a test adjust the engine's collaborators before
// the engine is built.
func newFixtureWithDeps(t *testing.T, policy Policy, adjust func(*Deps)) *fixture {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		token:   ledger.NewToken(tokenAddr, "USD"),
		single:  ledger.NewSingleAsset(singleAddr, adminAddr, marketAddr),
		multi:   ledger.NewMultiAsset(multiAddr, adminAddr, marketAddr),
		clock:   &fakeClock{now: baseTime},
		sink:    &recordingSink{},
		sellerK: key,
		seller:  ethcrypto.PubkeyToAddress(key.PublicKey),
		domain:  crypto.Domain{ChainID: 31337, VerifyingContract: marketAddr},
	}
	deps := Deps{
		Address:  marketAddr,
		Payment:  f.token,
		Assets:   []domain.AssetLedger{f.single, f.multi},
		Verifier: crypto.NewVoucherVerifier(f.domain),
		Sink:     f.sink,
		Clock:    f.clock.Now,
	}
	if adjust != nil {
		adjust(&deps)
	}
	f.engine, err = New(deps, policy)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	for _, owner := range []common.Address{f.seller, buyerAddr, bidderAddr, bidder2Addr} {
		_ = f.single.SetApprovalForAll(f.ctx, owner, marketAddr, true)
		_ = f.multi.SetApprovalForAll(f.ctx, owner, marketAddr, true)
	}
	return f
}

// fund mints payment tokens to who and approves the marketplace for all of
// them.
func (f *fixture) fund(who common.Address, amount int64) {
	f.t.Helper()
	if err := f.token.Mint(f.ctx, who, big.NewInt(amount)); err != nil {
		f.t.Fatalf("fund: %v", err)
	}
	bal, _ := f.token.BalanceOf(f.ctx, who)
	if err := f.token.Approve(f.ctx, who, marketAddr, bal); err != nil {
		f.t.Fatalf("approve: %v", err)
	}
}

func (f *fixture) mintSingle(to common.Address, id uint64) {
	f.t.Helper()
	if err := f.single.Mint(f.ctx, marketAddr, to, id, 1, "ipfs://single"); err != nil {
		f.t.Fatalf("mint single: %v", err)
	}
}

func (f *fixture) mintMulti(to common.Address, id, amount uint64) {
	f.t.Helper()
	if err := f.multi.Mint(f.ctx, marketAddr, to, id, amount, "ipfs://multi"); err != nil {
		f.t.Fatalf("mint multi: %v", err)
	}
}

func (f *fixture) balance(who common.Address) int64 {
	f.t.Helper()
	b, err := f.token.BalanceOf(f.ctx, who)
	if err != nil {
		f.t.Fatalf("balance: %v", err)
	}
	return b.Int64()
}

func (f *fixture) owner(id uint64) common.Address {
	f.t.Helper()
	o, err := f.single.OwnerOf(f.ctx, id)
	if err != nil {
		f.t.Fatalf("owner of %d: %v", id, err)
	}
	return o
}

func (f *fixture) fixedListing(id uint64, price int64) ListItemRequest {
	return ListItemRequest{
		AssetKind: domain.AssetSingle,
		AssetID:   id,
		Quantity:  1,
		UnitPrice: big.NewInt(price),
		StartTime: baseTime,
		EndTime:   baseTime.Add(48 * time.Hour),
	}
}

func mustErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestNewRejectsLedgerWithoutInterface(t *testing.T) {
	verifier := crypto.NewVoucherVerifier(crypto.Domain{ChainID: 1})
	_, err := New(Deps{
		Address:  marketAddr,
		Payment:  ledger.NewToken(tokenAddr, "USD"),
		Assets:   []domain.AssetLedger{mislabelled{ledger.NewSingleAsset(singleAddr, adminAddr)}},
		Verifier: verifier,
	}, testPolicy())
	mustErr(t, err, domain.ErrInvalidStandard)
}

// mislabelled claims the fungible kind while only implementing ERC-721.
type mislabelled struct{ *ledger.SingleAsset }

func (mislabelled) Kind() domain.AssetKind { return domain.AssetFungible }

func TestNewValidatesPolicy(t *testing.T) {
	verifier := crypto.NewVoucherVerifier(crypto.Domain{ChainID: 1})
	deps := Deps{
		Address:  marketAddr,
		Payment:  ledger.NewToken(tokenAddr, "USD"),
		Assets:   []domain.AssetLedger{ledger.NewSingleAsset(singleAddr, adminAddr)},
		Verifier: verifier,
	}
	tests := []struct {
		name   string
		mutate func(p *Policy)
	}{
		{"fees over 100%", func(p *Policy) { p.FeeBps = 9000; p.RoyaltyBps = 2000 }},
		{"no fee recipient", func(p *Policy) { p.FeeRecipient = common.Address{} }},
		{"settle after window", func(p *Policy) { p.SettleDelay = p.AuctionDuration }},
		{"unknown scope", func(p *Policy) { p.OnceADayScope = "planet" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := testPolicy()
			tc.mutate(&p)
			if _, err := New(deps, p); err == nil {
				t.Fatal("expected policy error")
			}
		})
	}
}

func TestSplit(t *testing.T) {
	p := testPolicy()
	fee, royalty, proceeds := p.Split(big.NewInt(1000), true)
	if fee.Int64() != 50 || royalty.Int64() != 50 || proceeds.Int64() != 900 {
		t.Fatalf("split with creator = %s/%s/%s", fee, royalty, proceeds)
	}
	fee, royalty, proceeds = p.Split(big.NewInt(55), false)
	if fee.Int64() != 2 || royalty.Sign() != 0 || proceeds.Int64() != 53 {
		t.Fatalf("split without creator = %s/%s/%s", fee, royalty, proceeds)
	}
}

// failingToken refuses payments to one address.
type failingToken struct {
	*ledger.Token
	victim common.Address
}

func (f failingToken) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if to == f.victim {
		return errors.New("recipient rejected payment")
	}
	return f.Token.Transfer(ctx, from, to, amount)
}

func TestRefundFailureAbortsBid(t *testing.T) {
	f := newFixture(t)
	tok := failingToken{Token: f.token, victim: bidderAddr}
	var err error
	f.engine, err = New(Deps{
		Address:  marketAddr,
		Payment:  tok,
		Assets:   []domain.AssetLedger{f.single},
		Verifier: crypto.NewVoucherVerifier(f.domain),
		Clock:    f.clock.Now,
	}, testPolicy())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	f.mintSingle(f.seller, 1)
	f.fund(bidderAddr, 1000)
	f.fund(bidder2Addr, 1000)

	lotID, err := f.engine.ListItemOnAuction(f.ctx, f.seller, AuctionRequest{
		AssetKind: domain.AssetSingle, AssetID: 1, Quantity: 1, StartPrice: big.NewInt(100),
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := f.engine.MakeBid(f.ctx, bidderAddr, lotID, big.NewInt(200)); err != nil {
		t.Fatalf("first bid: %v", err)
	}

	err = f.engine.MakeBid(f.ctx, bidder2Addr, lotID, big.NewInt(300))
	if err == nil {
		t.Fatal("expected the displacing bid to fail")
	}

	info, _ := f.engine.GetLotInfo(lotID)
	if info.CurrentBidder != bidderAddr || info.CurrentBid.Int64() != 200 {
		t.Fatalf("lot changed after failed refund: %+v", info)
	}
	if got := f.balance(bidder2Addr); got != 1000 {
		t.Fatalf("second bidder should keep 1000, has %d", got)
	}
	if got := f.balance(marketAddr); got != 200 {
		t.Fatalf("custody should hold only the first bid, holds %d", got)
	}
}

func TestFailedOperationEmitsNothing(t *testing.T) {
	f := newFixture(t)
	f.mintSingle(f.seller, 1)

	if _, err := f.engine.ListItem(f.ctx, f.seller, f.fixedListing(1, 100)); err != nil {
		t.Fatalf("list: %v", err)
	}
	err := f.engine.BuyItem(f.ctx, buyerAddr, 1)
	mustErr(t, err, domain.ErrInsufficientAllow)

	got := f.sink.types()
	if len(got) != 1 || got[0] != domain.EventListingCreated {
		t.Fatalf("expected only listing_created, got %v", got)
	}
	l, _ := f.engine.GetListing(1)
	if l.Status != domain.ListingOpen {
		t.Fatalf("listing should stay open, is %s", l.Status)
	}
	if f.owner(1) != marketAddr {
		t.Fatal("asset should remain in custody")
	}
}

func TestAssetLedgerResolution(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name    string
		kind    domain.AssetKind
		ref     common.Address
		want    common.Address
		wantErr bool
	}{
		{"default single", domain.AssetSingle, common.Address{}, singleAddr, false},
		{"default multi", domain.AssetFungible, common.Address{}, multiAddr, false},
		{"explicit ref", domain.AssetFungible, multiAddr, multiAddr, false},
		{"kind mismatch", domain.AssetSingle, multiAddr, common.Address{}, true},
		{"unknown ref", domain.AssetSingle, common.Address{9}, common.Address{}, true},
		{"bad kind", domain.AssetKind(20), common.Address{}, common.Address{}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, err := f.engine.AssetLedger(tc.kind, tc.ref)
			if tc.wantErr {
				mustErr(t, err, domain.ErrInvalidStandard)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if l.Address() != tc.want {
				t.Fatalf("resolved %s, want %s", l.Address().Hex(), tc.want.Hex())
			}
		})
	}
}

func TestNumberingResumesAfterRestart(t *testing.T) {
	f := newFixtureWithDeps(t, testPolicy(), func(d *Deps) {
		d.NextListing = 42
		d.NextLot = 7
	})
	f.mintSingle(f.seller, 1)
	f.mintSingle(f.seller, 2)

	listing, err := f.engine.ListItem(f.ctx, f.seller, f.fixedListing(1, 100))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if listing != 42 {
		t.Fatalf("listing id = %d, want 42", listing)
	}
	if lot := f.auction(2, 10); lot != 7 {
		t.Fatalf("lot id = %d, want 7", lot)
	}
}

// panickingAsset panics on transfers to the buyer while armed.
type panickingAsset struct {
	*ledger.SingleAsset
	armed *bool
}

func (p panickingAsset) SafeTransferFrom(ctx context.Context, operator, from, to common.Address, id, amount uint64) error {
	if *p.armed && to == buyerAddr {
		panic("asset adapter crashed")
	}
	return p.SingleAsset.SafeTransferFrom(ctx, operator, from, to, id, amount)
}

func TestPanicRollsBackAndReleasesLock(t *testing.T) {
	armed := false
	f := newFixtureWithDeps(t, testPolicy(), func(d *Deps) {
		d.Assets = []domain.AssetLedger{panickingAsset{SingleAsset: d.Assets[0].(*ledger.SingleAsset), armed: &armed}}
	})
	f.mintSingle(f.seller, 1)
	id, err := f.engine.ListItem(f.ctx, f.seller, f.fixedListing(1, 100))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	f.fund(buyerAddr, 1000)

	armed = true
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected the panic to propagate")
			}
		}()
		_ = f.engine.BuyItem(f.ctx, buyerAddr, id)
	}()

	if got := f.balance(buyerAddr); got != 1000 {
		t.Fatalf("buyer balance after panic = %d, want 1000", got)
	}
	if l, _ := f.engine.GetListing(id); l.Status != domain.ListingOpen {
		t.Fatalf("listing is %s after panic, want open", l.Status)
	}

	armed = false
	if err := f.engine.BuyItem(f.ctx, buyerAddr, id); err != nil {
		t.Fatalf("buy after recovery: %v", err)
	}
	if f.owner(1) != buyerAddr {
		t.Fatal("buyer should own the asset")
	}
}
