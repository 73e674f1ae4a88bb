package domain

import "fmt"

// AssetKind identifies which asset ledger an item lives on. The numeric
// values are the token standard numbers callers pass over the wire.
type AssetKind int

const (
	AssetSingle   AssetKind = 721
	AssetFungible AssetKind = 1155
)

// Valid reports whether k is one of the two supported standards.
func (k AssetKind) Valid() bool {
	return k == AssetSingle || k == AssetFungible
}

func (k AssetKind) String() string {
	switch k {
	case AssetSingle:
		return "single"
	case AssetFungible:
		return "fungible"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// CheckQuantity validates kind and quantity together.
func CheckQuantity(k AssetKind, quantity uint64) error {
	if !k.Valid() {
		return ErrInvalidStandard
	}
	if k == AssetSingle && quantity != 1 {
		return ErrQuantityMustBeOne
	}
	if quantity == 0 {
		return ErrZeroAmount
	}
	return nil
}
