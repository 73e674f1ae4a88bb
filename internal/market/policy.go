package market

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Scope selects whose previous auction counts against the once-a-day rule.
type Scope string

const (
	ScopeSeller Scope = "seller"
	ScopeGlobal Scope = "global"
)

const bpsDenominator = 10_000

// Policy holds the tunable marketplace rules.
type Policy struct {
	FeeBps          int64
	RoyaltyBps      int64
	FeeRecipient    common.Address
	AuctionDuration time.Duration
	SettleDelay     time.Duration
	// OnceADayWindow is a rolling interval between a seller's auctions,
	// not aligned to calendar days. Zero disables the limit.
	OnceADayWindow  time.Duration
	OnceADayScope   Scope
	StrikeThreshold int
}

// DefaultPolicy mirrors the deployed contract: 5% fee, 5% royalty, three
// day auctions that may be settled after one day.
func DefaultPolicy() Policy {
	return Policy{
		FeeBps:          500,
		RoyaltyBps:      500,
		AuctionDuration: 72 * time.Hour,
		SettleDelay:     24 * time.Hour,
		OnceADayWindow:  24 * time.Hour,
		OnceADayScope:   ScopeSeller,
		StrikeThreshold: 2,
	}
}

func (p Policy) validate() error {
	if p.FeeBps < 0 || p.RoyaltyBps < 0 || p.FeeBps+p.RoyaltyBps > bpsDenominator {
		return fmt.Errorf("market: fee %d + royalty %d bps out of range", p.FeeBps, p.RoyaltyBps)
	}
	if p.FeeBps > 0 && p.FeeRecipient == (common.Address{}) {
		return fmt.Errorf("market: fee recipient required when fee is charged")
	}
	if p.AuctionDuration <= 0 {
		return fmt.Errorf("market: auction duration must be positive")
	}
	if p.SettleDelay < 0 || p.SettleDelay >= p.AuctionDuration {
		return fmt.Errorf("market: settle delay %s must be shorter than auction duration %s", p.SettleDelay, p.AuctionDuration)
	}
	if p.OnceADayWindow < 0 {
		return fmt.Errorf("market: once-a-day window must not be negative")
	}
	if p.OnceADayScope != ScopeSeller && p.OnceADayScope != ScopeGlobal {
		return fmt.Errorf("market: unknown once-a-day scope %q", p.OnceADayScope)
	}
	return nil
}

// Split divides gross into fee, royalty and seller proceeds. The royalty is
// zero when hasCreator is false.
func (p Policy) Split(gross *big.Int, hasCreator bool) (fee, royalty, proceeds *big.Int) {
	fee = bps(gross, p.FeeBps)
	royalty = new(big.Int)
	if hasCreator {
		royalty = bps(gross, p.RoyaltyBps)
	}
	proceeds = new(big.Int).Sub(gross, fee)
	proceeds.Sub(proceeds, royalty)
	return fee, royalty, proceeds
}

func bps(amount *big.Int, rate int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(rate))
	return out.Quo(out, big.NewInt(bpsDenominator))
}
