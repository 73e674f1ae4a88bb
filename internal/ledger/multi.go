package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// MultiAsset is a fungible-quantity (ERC-1155 style) asset ledger.
type MultiAsset struct {
	mu       sync.Mutex
	address  common.Address
	balances map[uint64]map[common.Address]uint64
	creators map[uint64]common.Address
	uris     map[uint64]string
	grants   grants
}

func NewMultiAsset(address, admin common.Address, minters ...common.Address) *MultiAsset {
	return &MultiAsset{
		address:  address,
		balances: make(map[uint64]map[common.Address]uint64),
		creators: make(map[uint64]common.Address),
		uris:     make(map[uint64]string),
		grants:   newGrants(admin, minters),
	}
}

func (m *MultiAsset) Address() common.Address { return m.address }
func (m *MultiAsset) Kind() domain.AssetKind   { return domain.AssetFungible }

func (m *MultiAsset) SupportsInterface(id [4]byte) bool {
	return id == domain.InterfaceERC165 || id == domain.InterfaceERC1155
}

func (m *MultiAsset) HasRole(ctx context.Context, role domain.Role, account common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants.hasRole(role, account), nil
}

func (m *MultiAsset) GrantRole(ctx context.Context, caller common.Address, role domain.Role, account common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants.changeRole(caller, role, account, true)
}

func (m *MultiAsset) RevokeRole(ctx context.Context, caller common.Address, role domain.Role, account common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants.changeRole(caller, role, account, false)
}

func (m *MultiAsset) BalanceOf(ctx context.Context, owner common.Address, id uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[id][owner], nil
}

// BalanceOfBatch returns owners[i]'s balance of ids[i].
func (m *MultiAsset) BalanceOfBatch(ctx context.Context, owners []common.Address, ids []uint64) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(owners) != len(ids) {
		return nil, fmt.Errorf("ledger: %d owners for %d ids: %w", len(owners), len(ids), domain.ErrWrongAmount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = m.balances[id][owners[i]]
	}
	return out, nil
}

func (m *MultiAsset) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants.operators[owner][operator], nil
}

func (m *MultiAsset) SetApprovalForAll(ctx context.Context, owner, operator common.Address, approved bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants.setOperator(owner, operator, approved)
	return nil
}

func (m *MultiAsset) SafeTransferFrom(ctx context.Context, operator, from, to common.Address, id, amount uint64) error {
	return m.SafeBatchTransferFrom(ctx, operator, from, to, []uint64{id}, []uint64{amount})
}

// SafeBatchTransferFrom moves every (id, amount) pair or none of them.
func (m *MultiAsset) SafeBatchTransferFrom(ctx context.Context, operator, from, to common.Address, ids, amounts []uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) != len(amounts) {
		return fmt.Errorf("ledger: %d ids for %d amounts: %w", len(ids), len(amounts), domain.ErrWrongAmount)
	}
	if to == zeroAddress {
		return fmt.Errorf("ledger: transfer to zero address: %w", domain.ErrNotOwner)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.grants.mayMove(operator, from); err != nil {
		return err
	}
	need := make(map[uint64]uint64, len(ids))
	for i, id := range ids {
		if amounts[i] == 0 {
			return fmt.Errorf("ledger: transfer of token %d: %w", id, domain.ErrZeroAmount)
		}
		need[id] += amounts[i]
	}
	for id, amt := range need {
		if have := m.balances[id][from]; have < amt {
			return fmt.Errorf("ledger: %s holds %d of token %d, needs %d: %w",
				from.Hex(), have, id, amt, domain.ErrInsufficientBalance)
		}
	}
	for i, id := range ids {
		m.debit(id, from, amounts[i])
		m.credit(id, to, amounts[i])
	}
	return nil
}

// Mint adds amount of id to to. The first mint of an id fixes its creator
// and URI; later mints add supply.
func (m *MultiAsset) Mint(ctx context.Context, minter, to common.Address, id, amount uint64, uri string) error {
	return m.MintBatch(ctx, minter, to, []uint64{id}, []uint64{amount}, uri)
}

func (m *MultiAsset) MintBatch(ctx context.Context, minter, to common.Address, ids, amounts []uint64, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) != len(amounts) {
		return fmt.Errorf("ledger: %d ids for %d amounts: %w", len(ids), len(amounts), domain.ErrWrongAmount)
	}
	if to == zeroAddress {
		return fmt.Errorf("ledger: mint to zero address: %w", domain.ErrNotOwner)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.grants.requireMinter(minter); err != nil {
		return err
	}
	for i, id := range ids {
		if amounts[i] == 0 {
			return fmt.Errorf("ledger: mint of token %d: %w", id, domain.ErrZeroAmount)
		}
	}
	for i, id := range ids {
		if _, ok := m.creators[id]; !ok {
			m.creators[id] = to
			m.uris[id] = uri
		}
		m.credit(id, to, amounts[i])
	}
	return nil
}

func (m *MultiAsset) Exists(ctx context.Context, id uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.creators[id]
	return ok, nil
}

func (m *MultiAsset) CreatorOf(ctx context.Context, id uint64) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creators[id], nil
}

func (m *MultiAsset) URI(ctx context.Context, id uint64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	uri, ok := m.uris[id]
	if !ok {
		return "", fmt.Errorf("ledger: token %d: %w", id, domain.ErrNotFound)
	}
	return uri, nil
}

func (m *MultiAsset) Checkpoint() func() {
	m.mu.Lock()
	balances := make(map[uint64]map[common.Address]uint64, len(m.balances))
	for id, holders := range m.balances {
		cp := make(map[common.Address]uint64, len(holders))
		for k, v := range holders {
			cp[k] = v
		}
		balances[id] = cp
	}
	creators := cloneAddrMap(m.creators)
	uris := make(map[uint64]string, len(m.uris))
	for k, v := range m.uris {
		uris[k] = v
	}
	g := m.grants.clone()
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.balances, m.creators, m.uris, m.grants = balances, creators, uris, g
	}
}

func (m *MultiAsset) credit(id uint64, holder common.Address, amount uint64) {
	holders := m.balances[id]
	if holders == nil {
		holders = make(map[common.Address]uint64)
		m.balances[id] = holders
	}
	holders[holder] += amount
}

// debit assumes the caller has checked the balance covers amount.
func (m *MultiAsset) debit(id uint64, holder common.Address, amount uint64) {
	holders := m.balances[id]
	if holders[holder] == amount {
		delete(holders, holder)
		return
	}
	holders[holder] -= amount
}
