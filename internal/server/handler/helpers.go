package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/domain"
	"github.com/alanyoungcy/lazymarket/internal/server/middleware"
)

const maxBody = middleware.MaxSignedBody

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a marketplace error to its HTTP status. Authorization
// failures are checked first so a rejected voucher reads as forbidden.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrNotOwner),
		errors.Is(err, domain.ErrBlacklisted),
		errors.Is(err, domain.ErrAccessDenied),
		errors.Is(err, domain.ErrSelfDealing):
		return http.StatusForbidden
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrInvalidStandard),
		errors.Is(err, domain.ErrQuantityMustBeOne),
		errors.Is(err, domain.ErrZeroAmount),
		errors.Is(err, domain.ErrInvalidWindow),
		errors.Is(err, domain.ErrWrongAmount),
		errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoSuchLot),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNothingToBuy),
		errors.Is(err, domain.ErrNothingToCancel),
		errors.Is(err, domain.ErrSaleNotStarted),
		errors.Is(err, domain.ErrExpired),
		errors.Is(err, domain.ErrLotExpired),
		errors.Is(err, domain.ErrWrongTimestamp),
		errors.Is(err, domain.ErrTokenExists),
		errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientAllow),
		errors.Is(err, domain.ErrNotApproved):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrOnceADay),
		errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure reports err with its mapped status. Internal failures are
// logged and their detail withheld from the client.
func writeFailure(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since/until take RFC 3339 times.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return domain.ListOpts{}, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
		}
		*dst = &t
	}
	return opts, nil
}

// parseSeller reads the optional seller query filter.
func parseSeller(r *http.Request) (*common.Address, error) {
	v := strings.TrimSpace(r.URL.Query().Get("seller"))
	if v == "" {
		return nil, nil
	}
	addr, err := parseAddress("seller", v)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// pathID parses a numeric path parameter.
func pathID(r *http.Request, name string) (uint64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", errBadRequest, name, raw)
	}
	return id, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s: not an address", errBadRequest, field)
	}
	return common.HexToAddress(s), nil
}

// parseAmount parses a base-10 integer amount. An empty string yields nil.
func parseAmount(field, s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s: not an integer", errBadRequest, field)
	}
	return v, nil
}

// caller returns the authenticated wallet, writing 401 when absent.
func caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, ok := middleware.Caller(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized.Error())
	}
	return addr, ok
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("handler", handler))
}
