package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// Payout is how one settlement's gross amount was distributed.
type Payout struct {
	Gross    *big.Int
	Fee      *big.Int
	Royalty  *big.Int
	Creator  common.Address
	Proceeds *big.Int
}

// escrowAsset pulls qty of id from owner into custody. The owner must hold
// the quantity and have approved the engine as operator.
func (e *Engine) escrowAsset(ctx context.Context, l domain.AssetLedger, owner common.Address, id, qty uint64) error {
	held, err := l.BalanceOf(ctx, owner, id)
	if err != nil {
		return err
	}
	if held < qty {
		return fmt.Errorf("%s holds %d of token %d, listing %d: %w", owner.Hex(), held, id, qty, domain.ErrNotOwner)
	}
	if err := e.requireOperator(ctx, l, owner); err != nil {
		return err
	}
	return l.SafeTransferFrom(ctx, e.address, owner, e.address, id, qty)
}

func (e *Engine) requireOperator(ctx context.Context, l domain.AssetLedger, owner common.Address) error {
	ok, err := l.IsApprovedForAll(ctx, owner, e.address)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s has not approved the marketplace on %s: %w", owner.Hex(), l.Address().Hex(), domain.ErrNotApproved)
	}
	return nil
}

// releaseAsset moves escrowed units out of custody.
func (e *Engine) releaseAsset(ctx context.Context, l domain.AssetLedger, to common.Address, id, qty uint64) error {
	return l.SafeTransferFrom(ctx, e.address, e.address, to, id, qty)
}

// collect pulls amount from payer into custody using payer's allowance.
func (e *Engine) collect(ctx context.Context, payer common.Address, amount *big.Int) error {
	return e.payment.TransferFrom(ctx, e.address, payer, e.address, amount)
}

// refund returns escrowed payment to to.
func (e *Engine) refund(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	return e.payment.Transfer(ctx, e.address, to, amount)
}

// payout splits gross, already in custody, between the fee recipient, the
// asset's creator and the seller.
func (e *Engine) payout(ctx context.Context, l domain.AssetLedger, id uint64, seller common.Address, gross *big.Int) (Payout, error) {
	creator, err := l.CreatorOf(ctx, id)
	if err != nil {
		return Payout{}, err
	}
	hasCreator := creator != (common.Address{}) && creator != seller
	fee, royalty, proceeds := e.policy.Split(gross, hasCreator)

	legs := []struct {
		to     common.Address
		amount *big.Int
	}{
		{e.policy.FeeRecipient, fee},
		{creator, royalty},
		{seller, proceeds},
	}
	for _, leg := range legs {
		if leg.amount.Sign() == 0 {
			continue
		}
		if err := e.payment.Transfer(ctx, e.address, leg.to, leg.amount); err != nil {
			return Payout{}, fmt.Errorf("pay %s to %s: %w", leg.amount, leg.to.Hex(), err)
		}
	}
	p := Payout{Gross: new(big.Int).Set(gross), Fee: fee, Royalty: royalty, Proceeds: proceeds}
	if hasCreator {
		p.Creator = creator
	}
	return p, nil
}
