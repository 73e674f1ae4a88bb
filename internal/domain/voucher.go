package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Voucher is an off-chain authorization to lazily mint and list an asset.
// Field order matches the signed NFTVoucher struct.
type Voucher struct {
	TokenID   uint64         `json:"tokenId"`
	Amount    uint64         `json:"nftAmount"`
	Price     *big.Int       `json:"price"`
	StartDate int64          `json:"startDate"`
	EndDate   int64          `json:"endDate"`
	Maker     common.Address `json:"maker"`
	AssetRef  common.Address `json:"nftAddress"`
	TokenURI  string         `json:"tokenURI"`
}
