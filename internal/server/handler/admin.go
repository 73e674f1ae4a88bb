package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/lazymarket/internal/domain"
	"github.com/alanyoungcy/lazymarket/internal/service"
)

// AdminHandler serves operator endpoints guarded by the API key.
type AdminHandler struct {
	accounts *service.AccountService
	archives domain.BlobReader
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler. archives may be nil when S3 is
// disabled.
func NewAdminHandler(accounts *service.AccountService, archives domain.BlobReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{accounts: accounts, archives: archives, logger: logHandler(logger, "admin")}
}

// Mint credits payment tokens and optionally mints an asset to an address.
// POST /api/admin/mint
func (h *AdminHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To        string `json:"to"`
		Amount    string `json:"amount"`
		AssetKind int    `json:"asset_kind"`
		AssetRef  string `json:"asset_ref"`
		AssetID   uint64 `json:"asset_id"`
		Quantity  uint64 `json:"quantity"`
		URI       string `json:"uri"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	to, err := parseAddress("to", body.To)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	req := service.FaucetRequest{
		To:        to,
		AssetKind: domain.AssetKind(body.AssetKind),
		AssetID:   body.AssetID,
		Quantity:  body.Quantity,
		URI:       body.URI,
	}
	if req.Amount, err = parseAmount("amount", body.Amount); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	if body.AssetRef != "" {
		if req.AssetRef, err = parseAddress("asset_ref", body.AssetRef); err != nil {
			writeFailure(w, r, h.logger, err)
			return
		}
	}
	if err := h.accounts.Faucet(r.Context(), req); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	view, err := h.accounts.Account(r.Context(), to)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Archives lists archived objects under an optional kind prefix.
// GET /api/admin/archives?kind=audit
func (h *AdminHandler) Archives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage disabled")
		return
	}
	prefix := "archive/"
	if kind := strings.Trim(r.URL.Query().Get("kind"), "/ "); kind != "" {
		prefix += kind + "/"
	}
	objs, err := h.archives.List(r.Context(), prefix)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	if objs == nil {
		objs = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, objs)
}

// ArchiveFile streams one archived JSONL file.
// GET /api/admin/archives/{path...}
func (h *AdminHandler) ArchiveFile(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage disabled")
		return
	}
	rel := strings.TrimPrefix(r.PathValue("path"), "archive/")
	if rel == "" || strings.Contains(rel, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}
	body, err := h.archives.Get(r.Context(), "archive/"+rel)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("archive stream interrupted", slog.String("path", rel), slog.String("error", err.Error()))
	}
}
