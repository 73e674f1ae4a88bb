package crypto

import (
	"errors"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

func TestRequestSignatureRoundTrip(t *testing.T) {
	key, _ := ethcrypto.GenerateKey()
	body := []byte(`{"amount":"200"}`)

	sig, err := SignRequest(key, 1700000000, "post", "/api/lots/0/bids", body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := RecoverRequestSigner(sig, 1700000000, "POST", "/api/lots/0/bids", body)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if want := ethcrypto.PubkeyToAddress(key.PublicKey); got != want {
		t.Fatalf("expected %s, got %s", want.Hex(), got.Hex())
	}

	other, err := RecoverRequestSigner(sig, 1700000000, "POST", "/api/lots/0/bids", []byte(`{"amount":"999"}`))
	if err == nil && other == got {
		t.Fatalf("altered body recovered the same signer")
	}
}

func TestRecoverRequestSignerRejectsGarbage(t *testing.T) {
	_, err := RecoverRequestSigner("0xnothex", 1, "GET", "/", nil)
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
