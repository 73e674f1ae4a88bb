package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// Token is an in-process fungible payment token with ERC-20 semantics.
type Token struct {
	mu         sync.Mutex
	address    common.Address
	symbol     string
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	supply     *big.Int
}

// NewToken creates an empty token ledger.
func NewToken(address common.Address, symbol string) *Token {
	return &Token{
		address:    address,
		symbol:     symbol,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		supply:     new(big.Int),
	}
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Symbol() string          { return t.symbol }

// TotalSupply returns the sum of all balances.
func (t *Token) TotalSupply() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.supply)
}

func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balance(owner)), nil
}

func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.allowance(owner, spender)), nil
}

func (t *Token) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: approve: %w", domain.ErrZeroAmount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	a := t.allowances[owner]
	if a == nil {
		a = make(map[common.Address]*big.Int)
		t.allowances[owner] = a
	}
	a[spender] = new(big.Int).Set(amount)
	return nil
}

// Transfer moves from's own balance.
func (t *Token) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

// TransferFrom moves from's balance on behalf of spender, consuming
// allowance. A spender moving its own balance needs no allowance.
func (t *Token) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: transfer: %w", domain.ErrZeroAmount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if spender != from {
		allowed := t.allowance(from, spender)
		if allowed.Cmp(amount) < 0 {
			return fmt.Errorf("ledger: %s may spend %s of %s, needs %s: %w",
				spender.Hex(), allowed, from.Hex(), amount, domain.ErrInsufficientAllow)
		}
		if err := t.move(from, to, amount); err != nil {
			return err
		}
		t.allowances[from][spender] = new(big.Int).Sub(allowed, amount)
		return nil
	}
	return t.move(from, to, amount)
}

func (t *Token) Mint(ctx context.Context, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("ledger: mint: %w", domain.ErrZeroAmount)
	}
	if to == zeroAddress {
		return fmt.Errorf("ledger: mint to zero address: %w", domain.ErrNotOwner)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] = new(big.Int).Add(t.balance(to), amount)
	t.supply.Add(t.supply, amount)
	return nil
}

func (t *Token) Burn(ctx context.Context, from common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("ledger: burn: %w", domain.ErrZeroAmount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balance(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: burn %s from %s: %w", amount, from.Hex(), domain.ErrInsufficientBalance)
	}
	t.balances[from] = new(big.Int).Sub(bal, amount)
	t.supply.Sub(t.supply, amount)
	return nil
}

// Checkpoint snapshots balances, allowances and supply.
func (t *Token) Checkpoint() func() {
	t.mu.Lock()
	balances := make(map[common.Address]*big.Int, len(t.balances))
	for k, v := range t.balances {
		balances[k] = new(big.Int).Set(v)
	}
	allowances := make(map[common.Address]map[common.Address]*big.Int, len(t.allowances))
	for owner, m := range t.allowances {
		cp := make(map[common.Address]*big.Int, len(m))
		for k, v := range m {
			cp[k] = new(big.Int).Set(v)
		}
		allowances[owner] = cp
	}
	supply := new(big.Int).Set(t.supply)
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.balances = balances
		t.allowances = allowances
		t.supply = supply
	}
}

func (t *Token) move(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: transfer: %w", domain.ErrZeroAmount)
	}
	if to == zeroAddress {
		return fmt.Errorf("ledger: transfer to zero address: %w", domain.ErrNotOwner)
	}
	bal := t.balance(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: %s holds %s, needs %s: %w", from.Hex(), bal, amount, domain.ErrInsufficientBalance)
	}
	if from == to {
		return nil
	}
	t.balances[from] = new(big.Int).Sub(bal, amount)
	t.balances[to] = new(big.Int).Add(t.balance(to), amount)
	return nil
}

func (t *Token) balance(a common.Address) *big.Int {
	if b, ok := t.balances[a]; ok {
		return b
	}
	return new(big.Int)
}

func (t *Token) allowance(owner, spender common.Address) *big.Int {
	if b, ok := t.allowances[owner][spender]; ok {
		return b
	}
	return new(big.Int)
}
