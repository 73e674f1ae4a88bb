package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/lazymarket/internal/crypto"
)

type stubNonces struct {
	seen map[string]bool
	err  error
}

func (s *stubNonces) Claim(_ context.Context, nonce string, _ time.Duration) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.seen[nonce] {
		return false, nil
	}
	s.seen[nonce] = true
	return true, nil
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

// echoCaller writes the authenticated wallet and the body it received.
var echoCaller = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	addr, ok := Caller(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	body, _ := io.ReadAll(r.Body)
	w.Write([]byte(addr.Hex() + "|" + string(body)))
})

func TestWallet(t *testing.T) {
	key, _ := ethcrypto.GenerateKey()
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"amount":"200"}`)

	build := func(ts int64, claimed common.Address) *http.Request {
		sig, err := crypto.SignRequest(key, ts, http.MethodPost, "/api/lots/0/bids", body)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		r := httptest.NewRequest(http.MethodPost, "/api/lots/0/bids", bytes.NewReader(body))
		r.Header.Set(crypto.HeaderAddress, claimed.Hex())
		r.Header.Set(crypto.HeaderTimestamp, strconv.FormatInt(ts, 10))
		r.Header.Set(crypto.HeaderSignature, sig)
		return r
	}

	t.Run("accepts and forwards body", func(t *testing.T) {
		h := Wallet(WalletConfig{Window: time.Minute, Now: func() time.Time { return now }})(echoCaller)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, build(now.Unix(), addr))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body)
		}
		if want := addr.Hex() + "|" + string(body); rec.Body.String() != want {
			t.Fatalf("body = %q, want %q", rec.Body, want)
		}
	})

	tests := []struct {
		name   string
		nonces *stubNonces
		req    func() *http.Request
		want   int
	}{
		{"expired", nil, func() *http.Request { return build(now.Add(-2*time.Minute).Unix(), addr) }, http.StatusUnauthorized},
		{"from the future", nil, func() *http.Request { return build(now.Add(2*time.Minute).Unix(), addr) }, http.StatusUnauthorized},
		{"wrong claimed address", nil, func() *http.Request {
			return build(now.Unix(), common.HexToAddress("0x0000000000000000000000000000000000000b0b"))
		}, http.StatusUnauthorized},
		{"missing headers", nil, func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/lots/0/bids", bytes.NewReader(body))
		}, http.StatusUnauthorized},
		{"nonce cache down", &stubNonces{err: errors.New("redis down")}, func() *http.Request { return build(now.Unix(), addr) }, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := WalletConfig{Window: time.Minute, Now: func() time.Time { return now }}
			if tt.nonces != nil {
				cfg.Nonces = tt.nonces
			}
			rec := httptest.NewRecorder()
			Wallet(cfg)(echoCaller).ServeHTTP(rec, tt.req())
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	t.Run("replay", func(t *testing.T) {
		h := Wallet(WalletConfig{
			Window: time.Minute,
			Nonces: &stubNonces{seen: map[string]bool{}},
			Now:    func() time.Time { return now },
		})(echoCaller)
		first := build(now.Unix(), addr)
		second := first.Clone(context.Background())
		second.Body = io.NopCloser(bytes.NewReader(body))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, first)
		if rec.Code != http.StatusOK {
			t.Fatalf("first status = %d", rec.Code)
		}
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, second)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("replay status = %d, want 401", rec.Code)
		}
	})
}

func TestAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	tests := []struct {
		name   string
		key    string
		header string
		value  string
		want   int
	}{
		{"disabled", "", "X-API-Key", "anything", http.StatusForbidden},
		{"missing", "k", "", "", http.StatusUnauthorized},
		{"wrong", "k", "X-API-Key", "nope", http.StatusUnauthorized},
		{"api key header", "k", "X-API-Key", "k", http.StatusNoContent},
		{"bearer", "k", "Authorization", "Bearer k", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/admin/mint", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			Auth(tt.key)(ok).ServeHTTP(rec, r)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	tests := []struct {
		name    string
		limiter *stubLimiter
		want    int
	}{
		{"allowed", &stubLimiter{allow: true}, http.StatusNoContent},
		{"denied", &stubLimiter{}, http.StatusTooManyRequests},
		{"limiter error fails open", &stubLimiter{err: errors.New("down")}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/lots", nil)
			r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
			rec := httptest.NewRecorder()
			RateLimit(tt.limiter, 10, time.Minute, nil)(ok).ServeHTTP(rec, r)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if len(tt.limiter.keys) != 1 || tt.limiter.keys[0] != "ratelimit:api:203.0.113.9" {
				t.Fatalf("keys = %v", tt.limiter.keys)
			}
		})
	}
}

func TestLoggingSetsRequestID(t *testing.T) {
	h := Logging(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Fatalf("no request id generated")
	}

	r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	r.Header.Set(HeaderRequestID, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if got := rec.Header().Get(HeaderRequestID); got != "abc" {
		t.Fatalf("request id = %q, want abc", got)
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"remote addr", nil, "192.0.2.1"},
		{"forwarded", map[string]string{"X-Forwarded-For": " 198.51.100.4 , 10.0.0.1"}, "198.51.100.4"},
		{"junk forwarded falls through", map[string]string{"X-Forwarded-For": "unknown", "X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
		{"junk real ip", map[string]string{"X-Real-IP": "proxy"}, "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := extractClientIP(r); got != tt.want {
				t.Fatalf("client ip = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLevelFor(t *testing.T) {
	if levelFor(http.StatusOK) != slog.LevelInfo || levelFor(http.StatusConflict) != slog.LevelWarn || levelFor(http.StatusBadGateway) != slog.LevelError {
		t.Fatalf("unexpected access log levels")
	}
}
