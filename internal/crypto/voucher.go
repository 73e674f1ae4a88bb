// Package crypto provides EIP-712 voucher hashing and recovery, wallet-signed
// request authentication, and at-rest protection of operator keys.
package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// Fixed protocol constants of the voucher signing domain.
const (
	SigningDomainName    = "CAMINO"
	SigningDomainVersion = "1"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// NFTVoucher(uint256 tokenId,uint256 nftAmount,uint256 price,uint256 startDate,uint256 endDate,address maker,address nftAddress,string tokenURI)
	voucherTypeHash = ethcrypto.Keccak256(
		[]byte("NFTVoucher(uint256 tokenId,uint256 nftAmount,uint256 price,uint256 startDate,uint256 endDate,address maker,address nftAddress,string tokenURI)"),
	)
)

// Domain identifies the deployment a voucher is valid for.
type Domain struct {
	ChainID           int64
	VerifyingContract common.Address
}

// separator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId, verifyingContract)).
func (d Domain) separator() []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(SigningDomainName)),
			ethcrypto.Keccak256([]byte(SigningDomainVersion)),
			bigIntTo32Bytes(big.NewInt(d.ChainID)),
			common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
		),
	)
}

// VoucherDigest returns the EIP-712 digest a maker signs for v.
func VoucherDigest(d Domain, v domain.Voucher) ([]byte, error) {
	structHash, err := voucherStructHash(v)
	if err != nil {
		return nil, err
	}
	return eip712Hash(d.separator(), structHash), nil
}

// VoucherVerifier recovers voucher signers. It holds no state besides the
// cached domain separator and is safe for concurrent use.
type VoucherVerifier struct {
	domainSep []byte
}

// NewVoucherVerifier creates a verifier bound to one signing domain.
func NewVoucherVerifier(d Domain) *VoucherVerifier {
	return &VoucherVerifier{domainSep: d.separator()}
}

// Verify recovers the address that produced signature over v. It makes no
// authorization decision; callers compare the result with v.Maker.
func (vv *VoucherVerifier) Verify(v domain.Voucher, signature []byte) (common.Address, error) {
	structHash, err := voucherStructHash(v)
	if err != nil {
		return common.Address{}, err
	}
	return recoverDigest(eip712Hash(vv.domainSep, structHash), signature)
}

// Digest returns the EIP-712 digest of v under the verifier's domain. It
// identifies a voucher for single-use bookkeeping.
func (vv *VoucherVerifier) Digest(v domain.Voucher) (common.Hash, error) {
	structHash, err := voucherStructHash(v)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(eip712Hash(vv.domainSep, structHash)), nil
}

// VoucherSigner produces maker signatures. It is used by the voucher CLI and
// by fixtures; the marketplace itself only verifies.
type VoucherSigner struct {
	key       *ecdsa.PrivateKey
	address   common.Address
	domainSep []byte
}

// NewVoucherSigner creates a signer for key within d.
func NewVoucherSigner(key *ecdsa.PrivateKey, d Domain) *VoucherSigner {
	return &VoucherSigner{
		key:       key,
		address:   ethcrypto.PubkeyToAddress(key.PublicKey),
		domainSep: d.separator(),
	}
}

// Address returns the maker address derived from the signing key.
func (s *VoucherSigner) Address() common.Address {
	return s.address
}

// Sign returns the 65-byte r || s || v signature with v in {27,28}.
func (s *VoucherSigner) Sign(v domain.Voucher) ([]byte, error) {
	structHash, err := voucherStructHash(v)
	if err != nil {
		return nil, err
	}
	return signDigest(s.key, eip712Hash(s.domainSep, structHash))
}

// voucherStructHash encodes and hashes a voucher according to EIP-712.
func voucherStructHash(v domain.Voucher) ([]byte, error) {
	if v.Price == nil || v.Price.Sign() < 0 {
		return nil, errors.New("crypto/voucher: price must be a non-negative integer")
	}
	if v.StartDate < 0 || v.EndDate < 0 {
		return nil, fmt.Errorf("crypto/voucher: negative date (start=%d end=%d)", v.StartDate, v.EndDate)
	}
	if v.Price.BitLen() > 256 {
		return nil, errors.New("crypto/voucher: price overflows uint256")
	}

	return ethcrypto.Keccak256(
		concatBytes(
			voucherTypeHash,
			bigIntTo32Bytes(new(big.Int).SetUint64(v.TokenID)),
			bigIntTo32Bytes(new(big.Int).SetUint64(v.Amount)),
			bigIntTo32Bytes(v.Price),
			bigIntTo32Bytes(big.NewInt(v.StartDate)),
			bigIntTo32Bytes(big.NewInt(v.EndDate)),
			common.LeftPadBytes(v.Maker.Bytes(), 32),
			common.LeftPadBytes(v.AssetRef.Bytes(), 32),
			ethcrypto.Keccak256([]byte(v.TokenURI)),
		),
	), nil
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest and shifts v into {27,28}.
func signDigest(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("crypto: signing: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// recoverDigest accepts v in {0,1} or {27,28}. Any malformed input maps to
// domain.ErrInvalidSignature.
func recoverDigest(digest, signature []byte) (common.Address, error) {
	if len(signature) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", domain.ErrInvalidSignature, len(signature))
	}
	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", domain.ErrInvalidSignature, signature[64])
	}

	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
