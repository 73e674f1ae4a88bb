package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// SingleAsset is a single-unit (ERC-721 style) asset ledger. Each id has at
// most one owner.
type SingleAsset struct {
	mu       sync.Mutex
	address  common.Address
	owners   map[uint64]common.Address
	creators map[uint64]common.Address
	uris     map[uint64]string
	grants   grants
}

// NewSingleAsset creates an empty ledger administered by admin. Each minter
// is granted the minter role, as the marketplace is at deployment.
func NewSingleAsset(address, admin common.Address, minters ...common.Address) *SingleAsset {
	return &SingleAsset{
		address:  address,
		owners:   make(map[uint64]common.Address),
		creators: make(map[uint64]common.Address),
		uris:     make(map[uint64]string),
		grants:   newGrants(admin, minters),
	}
}

func (s *SingleAsset) Address() common.Address { return s.address }
func (s *SingleAsset) Kind() domain.AssetKind   { return domain.AssetSingle }

func (s *SingleAsset) SupportsInterface(id [4]byte) bool {
	return id == domain.InterfaceERC165 || id == domain.InterfaceERC721
}

func (s *SingleAsset) HasRole(ctx context.Context, role domain.Role, account common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants.hasRole(role, account), nil
}

// GrantRole gives account the role. Only the admin may call it.
func (s *SingleAsset) GrantRole(ctx context.Context, caller common.Address, role domain.Role, account common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants.changeRole(caller, role, account, true)
}

func (s *SingleAsset) RevokeRole(ctx context.Context, caller common.Address, role domain.Role, account common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants.changeRole(caller, role, account, false)
}

// OwnerOf returns the holder of id or ErrNotFound.
func (s *SingleAsset) OwnerOf(ctx context.Context, id uint64) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.owners[id]
	if !ok {
		return common.Address{}, fmt.Errorf("ledger: token %d: %w", id, domain.ErrNotFound)
	}
	return owner, nil
}

func (s *SingleAsset) BalanceOf(ctx context.Context, owner common.Address, id uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.owners[id]; ok && cur == owner {
		return 1, nil
	}
	return 0, nil
}

func (s *SingleAsset) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants.operators[owner][operator], nil
}

func (s *SingleAsset) SetApprovalForAll(ctx context.Context, owner, operator common.Address, approved bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants.setOperator(owner, operator, approved)
	return nil
}

func (s *SingleAsset) SafeTransferFrom(ctx context.Context, operator, from, to common.Address, id, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount != 1 {
		return fmt.Errorf("ledger: transfer %d of token %d: %w", amount, id, domain.ErrQuantityMustBeOne)
	}
	if to == zeroAddress {
		return fmt.Errorf("ledger: transfer token %d to zero address: %w", id, domain.ErrNotOwner)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.owners[id]; !ok || owner != from {
		return fmt.Errorf("ledger: %s does not own token %d: %w", from.Hex(), id, domain.ErrNotOwner)
	}
	if err := s.grants.mayMove(operator, from); err != nil {
		return err
	}
	s.owners[id] = to
	return nil
}

// Mint creates id for to. The minter must hold the minter role and the id
// must be unused.
func (s *SingleAsset) Mint(ctx context.Context, minter, to common.Address, id, amount uint64, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount != 1 {
		return fmt.Errorf("ledger: mint %d of token %d: %w", amount, id, domain.ErrQuantityMustBeOne)
	}
	if to == zeroAddress {
		return fmt.Errorf("ledger: mint token %d to zero address: %w", id, domain.ErrNotOwner)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.grants.requireMinter(minter); err != nil {
		return err
	}
	if _, ok := s.owners[id]; ok {
		return fmt.Errorf("ledger: token %d: %w", id, domain.ErrTokenExists)
	}
	s.owners[id] = to
	s.creators[id] = to
	s.uris[id] = uri
	return nil
}

func (s *SingleAsset) Exists(ctx context.Context, id uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.owners[id]
	return ok, nil
}

// CreatorOf returns the first recipient of id, or the zero address when the
// token was never minted.
func (s *SingleAsset) CreatorOf(ctx context.Context, id uint64) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creators[id], nil
}

func (s *SingleAsset) TokenURI(ctx context.Context, id uint64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	uri, ok := s.uris[id]
	if !ok {
		return "", fmt.Errorf("ledger: token %d: %w", id, domain.ErrNotFound)
	}
	return uri, nil
}

func (s *SingleAsset) Checkpoint() func() {
	s.mu.Lock()
	owners := cloneAddrMap(s.owners)
	creators := cloneAddrMap(s.creators)
	uris := make(map[uint64]string, len(s.uris))
	for k, v := range s.uris {
		uris[k] = v
	}
	g := s.grants.clone()
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.owners, s.creators, s.uris, s.grants = owners, creators, uris, g
	}
}

func cloneAddrMap(in map[uint64]common.Address) map[uint64]common.Address {
	out := make(map[uint64]common.Address, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
