package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/crypto"
	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// MaxSignedBody bounds the request body read for signature checks.
const MaxSignedBody = 1 << 20

type callerKey struct{}

// WalletConfig configures signed-request authentication.
type WalletConfig struct {
	// Window is how far the signed timestamp may drift from now.
	Window time.Duration
	// Nonces rejects replays inside the window. Optional.
	Nonces domain.NonceCache
	Now    func() time.Time
	Logger *slog.Logger
}

// Wallet authenticates requests signed by an Ethereum wallet. The client
// sends its address, a unix timestamp and an EIP-191 signature over
// timestamp+METHOD+path+body; the recovered signer must equal the claimed
// address. The caller is stored on the request context.
func Wallet(cfg WalletConfig) func(http.Handler) http.Handler {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With(slog.String("component", "wallet_auth"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claimed := strings.TrimSpace(r.Header.Get(crypto.HeaderAddress))
			tsRaw := strings.TrimSpace(r.Header.Get(crypto.HeaderTimestamp))
			sig := strings.TrimSpace(r.Header.Get(crypto.HeaderSignature))
			if claimed == "" || tsRaw == "" || sig == "" {
				writeUnauthorized(w, "missing wallet signature headers")
				return
			}
			if !common.IsHexAddress(claimed) {
				writeUnauthorized(w, "malformed wallet address")
				return
			}
			ts, err := strconv.ParseInt(tsRaw, 10, 64)
			if err != nil {
				writeUnauthorized(w, "malformed timestamp")
				return
			}
			if drift := cfg.Now().Sub(time.Unix(ts, 0)); drift > cfg.Window || drift < -cfg.Window {
				writeUnauthorized(w, "signature expired")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, MaxSignedBody+1))
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "read body")
				return
			}
			if len(body) > MaxSignedBody {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			signer, err := crypto.RecoverRequestSigner(sig, ts, r.Method, r.URL.Path, body)
			if err != nil || signer != common.HexToAddress(claimed) {
				writeUnauthorized(w, "invalid wallet signature")
				return
			}

			if cfg.Nonces != nil {
				fresh, err := cfg.Nonces.Claim(r.Context(), strings.ToLower(sig), 2*cfg.Window)
				if err != nil {
					logger.ErrorContext(r.Context(), "nonce cache unavailable",
						slog.String("error", err.Error()),
					)
					writeJSONError(w, http.StatusServiceUnavailable, "replay protection unavailable")
					return
				}
				if !fresh {
					writeUnauthorized(w, "request replayed")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), signer)))
		})
	}
}

// WithCaller returns ctx carrying the authenticated wallet.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// Caller returns the wallet authenticated by Wallet.
func Caller(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}
