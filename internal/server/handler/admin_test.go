package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

type memArchive map[string]string

func (m memArchive) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m memArchive) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, body := range m {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(body))})
		}
	}
	return out, nil
}

func (m memArchive) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m[path]
	return ok, nil
}

func TestArchiveFile(t *testing.T) {
	store := memArchive{"archive/audit/2026-01/1767225600.jsonl": "{\"id\":1}\n"}
	h := NewAdminHandler(nil, store, slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/admin/archives/{path...}", h.ArchiveFile)
	mux.HandleFunc("GET /api/admin/archives", h.Archives)

	tests := []struct {
		path string
		want int
		body string
	}{
		{"/api/admin/archives/audit/2026-01/1767225600.jsonl", http.StatusOK, "{\"id\":1}\n"},
		{"/api/admin/archives/archive/audit/2026-01/1767225600.jsonl", http.StatusOK, "{\"id\":1}\n"},
		{"/api/admin/archives/audit/2026-02/missing.jsonl", http.StatusNotFound, ""},
		{"/api/admin/archives?kind=audit", http.StatusOK, "1767225600.jsonl"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.body != "" && !strings.Contains(rec.Body.String(), tt.body) {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}
