// Command voucher is the maker-side tool for lazy minting. It signs
// vouchers under the marketplace's typed-data domain and seals raw keys into
// password-protected key files.
//
//	voucher sign -key-file maker.json -token-id 7 -price 1000 -uri ipfs://...
//	voucher seal -key 0xabc... -out maker.json
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/lazymarket/internal/config"
	"github.com/alanyoungcy/lazymarket/internal/crypto"
	"github.com/alanyoungcy/lazymarket/internal/domain"
)

const passwordEnv = "MARKET_KEY_PASSWORD"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "sign":
		err = runSign(os.Args[2:])
	case "seal":
		err = runSeal(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "voucher: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: voucher sign|seal [flags]")
}

// signedVoucher matches the body of POST /api/vouchers/verify and the
// voucher part of a lazy listing.
type signedVoucher struct {
	Voucher   voucherJSON `json:"voucher"`
	Signature string      `json:"signature"`
}

type voucherJSON struct {
	TokenID   uint64 `json:"tokenId"`
	Amount    uint64 `json:"nftAmount"`
	Price     string `json:"price"`
	StartDate int64  `json:"startDate"`
	EndDate   int64  `json:"endDate"`
	Maker     string `json:"maker"`
	AssetRef  string `json:"nftAddress"`
	TokenURI  string `json:"tokenURI"`
}

func runSign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	configPath := fs.String("config", "", "marketd configuration to take the signing domain from")
	rawKey := fs.String("key", "", "hex private key of the maker")
	keyFile := fs.String("key-file", "", "sealed key file of the maker")
	password := fs.String("password", "", "key file password (default $"+passwordEnv+")")
	chainID := fs.Int64("chain-id", 0, "chain id of the signing domain")
	contract := fs.String("contract", "", "verifying contract of the signing domain")
	tokenID := fs.Uint64("token-id", 0, "token id to mint")
	amount := fs.Uint64("amount", 1, "units to mint")
	price := fs.String("price", "", "unit price in payment token base units")
	start := fs.Int64("start", 0, "unix start of the sale window (default now)")
	end := fs.Int64("end", 0, "unix end of the sale window (default start + 30 days)")
	nft := fs.String("nft", "", "asset ledger address")
	uri := fs.String("uri", "", "token metadata URI")
	_ = fs.Parse(args)

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = *loaded
	}
	if *chainID != 0 {
		cfg.Chain.ChainID = *chainID
	}
	if *contract != "" {
		cfg.Chain.VerifyingContract = *contract
	}
	if cfg.Chain.VerifyingContract == "" {
		cfg.Chain.VerifyingContract = cfg.Marketplace.Address
	}
	if !common.IsHexAddress(cfg.Chain.VerifyingContract) {
		return errors.New("a verifying contract is required (-contract or chain.verifying_contract)")
	}
	if *nft == "" {
		*nft = cfg.Marketplace.SingleLedger
	}
	if !common.IsHexAddress(*nft) {
		return fmt.Errorf("invalid -nft address %q", *nft)
	}

	p, ok := new(big.Int).SetString(*price, 10)
	if !ok || p.Sign() <= 0 {
		return fmt.Errorf("invalid -price %q", *price)
	}
	if *start == 0 {
		*start = time.Now().Unix()
	}
	if *end == 0 {
		*end = *start + int64((30*24*time.Hour)/time.Second)
	}

	if *password == "" {
		*password = os.Getenv(passwordEnv)
	}
	key, err := crypto.ResolveKey(crypto.KeySource{Raw: *rawKey, Path: *keyFile, Password: *password})
	if err != nil {
		return err
	}
	signer := crypto.NewVoucherSigner(key, crypto.Domain{
		ChainID:           cfg.Chain.ChainID,
		VerifyingContract: common.HexToAddress(cfg.Chain.VerifyingContract),
	})

	v := domain.Voucher{
		TokenID:   *tokenID,
		Amount:    *amount,
		Price:     p,
		StartDate: *start,
		EndDate:   *end,
		Maker:     signer.Address(),
		AssetRef:  common.HexToAddress(*nft),
		TokenURI:  *uri,
	}
	sig, err := signer.Sign(v)
	if err != nil {
		return err
	}

	out := signedVoucher{
		Voucher: voucherJSON{
			TokenID:   v.TokenID,
			Amount:    v.Amount,
			Price:     v.Price.String(),
			StartDate: v.StartDate,
			EndDate:   v.EndDate,
			Maker:     v.Maker.Hex(),
			AssetRef:  v.AssetRef.Hex(),
			TokenURI:  v.TokenURI,
		},
		Signature: hexutil.Encode(sig),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runSeal(args []string) error {
	fs := flag.NewFlagSet("seal", flag.ExitOnError)
	rawKey := fs.String("key", "", "hex private key to seal")
	password := fs.String("password", "", "password (default $"+passwordEnv+")")
	outPath := fs.String("out", "", "file to write")
	_ = fs.Parse(args)

	if *rawKey == "" || *outPath == "" {
		return errors.New("-key and -out are required")
	}
	if *password == "" {
		*password = os.Getenv(passwordEnv)
	}
	if *password == "" {
		return errors.New("a password is required (-password or $" + passwordEnv + ")")
	}

	blob, err := crypto.SealKey(*rawKey, *password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outPath, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *outPath, err)
	}
	key, err := crypto.OpenKey(blob, *password)
	if err != nil {
		return err
	}
	fmt.Println(crypto.NewVoucherSigner(key, crypto.Domain{}).Address().Hex())
	return nil
}
