package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// Header names carrying a wallet-signed API request.
const (
	HeaderAddress   = "X-Market-Address"
	HeaderTimestamp = "X-Market-Timestamp"
	HeaderSignature = "X-Market-Signature"
)

// requestMessage is the exact byte string a wallet signs:
//
//	timestamp + METHOD + path + body
func requestMessage(timestamp int64, method, path string, body []byte) []byte {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteString(strings.ToUpper(method))
	b.WriteString(path)
	b.Write(body)
	return []byte(b.String())
}

// SignRequest produces the hex X-Market-Signature value for a request using
// the EIP-191 personal_sign scheme.
func SignRequest(key *ecdsa.PrivateKey, timestamp int64, method, path string, body []byte) (string, error) {
	digest := accounts.TextHash(requestMessage(timestamp, method, path, body))
	sig, err := signDigest(key, digest)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverRequestSigner returns the wallet that signed the request.
func RecoverRequestSigner(signatureHex string, timestamp int64, method, path string, body []byte) (common.Address, error) {
	sig, err := DecodeSignature(signatureHex)
	if err != nil {
		return common.Address{}, err
	}
	digest := accounts.TextHash(requestMessage(timestamp, method, path, body))
	return recoverDigest(digest, sig)
}

// DecodeSignature parses a 0x-prefixed or bare hex signature.
func DecodeSignature(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return raw, nil
}
