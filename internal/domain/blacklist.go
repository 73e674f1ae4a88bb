package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BlacklistEntry is the per-address strike state. Entries are never deleted.
type BlacklistEntry struct {
	Address   common.Address `json:"address"`
	Strikes   int            `json:"strikes"`
	Banned    bool           `json:"banned"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Role names a capability held in an asset ledger's grant store.
type Role string

const RoleMinter Role = "MINTER_ROLE"
