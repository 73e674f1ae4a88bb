package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations  = 480_000
	kdfSaltLen     = 16
	sealedKeyLen   = 32
	keystoreFormat = 1
)

// sealedKey is the on-disk JSON form of an encrypted maker or operator key.
type sealedKey struct {
	Format     int    `json:"format"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where a signing key comes from. Raw wins over Path.
type KeySource struct {
	Raw      string
	Path     string
	Password string
}

// SealKey encrypts a hex secp256k1 key with PBKDF2-HMAC-SHA256 and
// AES-256-GCM. The maker address is stored in clear so operators can tell
// key files apart without the password.
func SealKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto/keystore: password must not be empty")
	}
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/keystore: invalid private key: %w", err)
	}

	salt := make([]byte, kdfSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto/keystore: salt: %w", err)
	}
	gcm, err := keystoreCipher(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto/keystore: nonce: %w", err)
	}

	return json.MarshalIndent(sealedKey{
		Format:     keystoreFormat,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, ethcrypto.FromECDSA(key), nil)),
	}, "", "  ")
}

// OpenKey decrypts a blob produced by SealKey.
func OpenKey(blob []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto/keystore: password must not be empty")
	}
	var sk sealedKey
	if err := json.Unmarshal(blob, &sk); err != nil {
		return nil, fmt.Errorf("crypto/keystore: parse: %w", err)
	}
	if sk.Format != keystoreFormat {
		return nil, fmt.Errorf("crypto/keystore: unsupported format %d", sk.Format)
	}

	fields := make([][]byte, 3)
	for i, enc := range []string{sk.Salt, sk.Nonce, sk.Ciphertext} {
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("crypto/keystore: decode field %d: %w", i, err)
		}
		fields[i] = raw
	}

	gcm, err := keystoreCipher(password, fields[0])
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, fields[1], fields[2], nil)
	if err != nil {
		return nil, fmt.Errorf("crypto/keystore: decryption failed (wrong password?): %w", err)
	}
	key, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto/keystore: decoded key: %w", err)
	}
	return key, nil
}

// ResolveKey loads the key described by src.
func ResolveKey(src KeySource) (*ecdsa.PrivateKey, error) {
	if src.Raw != "" {
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(src.Raw), "0x"))
		if err != nil {
			return nil, fmt.Errorf("crypto/keystore: raw key: %w", err)
		}
		return key, nil
	}
	if src.Path != "" {
		blob, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("crypto/keystore: read %s: %w", src.Path, err)
		}
		return OpenKey(blob, src.Password)
	}
	return nil, errors.New("crypto/keystore: no key source configured (set a raw key or a key file)")
}

func keystoreCipher(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, kdfIterations, sealedKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto/keystore: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto/keystore: gcm: %w", err)
	}
	return gcm, nil
}
