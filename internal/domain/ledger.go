package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Clock supplies the single time reading an operation uses for every window
// comparison.
type Clock func() time.Time

// ERC-165 interface ids the asset ledgers advertise.
var (
	InterfaceERC165  = [4]byte{0x01, 0xff, 0xc9, 0xa7}
	InterfaceERC721  = [4]byte{0x80, 0xac, 0x58, 0xcd}
	InterfaceERC1155 = [4]byte{0xd9, 0xb6, 0x7a, 0x26}
)

// PaymentLedger is the fungible payment token. Transfer moves the caller's
// own balance; TransferFrom spends an allowance granted to spender.
type PaymentLedger interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
	Mint(ctx context.Context, to common.Address, amount *big.Int) error
	Burn(ctx context.Context, from common.Address, amount *big.Int) error
}

// RoleStore answers capability queries. Asset ledgers own their grants; the
// marketplace only reads them.
type RoleStore interface {
	HasRole(ctx context.Context, role Role, account common.Address) (bool, error)
}

// AssetLedger is the engine-facing contract shared by both asset kinds. For
// single-unit ledgers BalanceOf is 1 for the owner and 0 otherwise, and
// every amount must be 1.
type AssetLedger interface {
	RoleStore
	Address() common.Address
	Kind() AssetKind
	SupportsInterface(id [4]byte) bool
	BalanceOf(ctx context.Context, owner common.Address, id uint64) (uint64, error)
	IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error)
	SetApprovalForAll(ctx context.Context, owner, operator common.Address, approved bool) error
	SafeTransferFrom(ctx context.Context, operator, from, to common.Address, id, amount uint64) error
	Mint(ctx context.Context, minter, to common.Address, id, amount uint64, uri string) error
	Exists(ctx context.Context, id uint64) (bool, error)
	CreatorOf(ctx context.Context, id uint64) (common.Address, error)
}

// Checkpointer is implemented by collaborators that can roll back to a
// previous state. The returned function restores the checkpoint.
type Checkpointer interface {
	Checkpoint() (restore func())
}
