package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// DefaultMultipartThreshold is the payload size above which uploads go
	// through the multipart manager.
	DefaultMultipartThreshold int64 = 64 * 1024 * 1024
)

// ListingArchiveStore is the slice of the listing projection the archiver reads.
type ListingArchiveStore interface {
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Listing, error)
}

// LotArchiveStore is the slice of the lot projection the archiver reads.
type LotArchiveStore interface {
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.AuctionLot, error)
}

// ArchiveConfig tunes an ArchiveImpl.
type ArchiveConfig struct {
	// PruneAudit deletes archived audit rows after a successful upload.
	PruneAudit         bool
	MultipartThreshold int64
}

// ArchiveImpl implements domain.Archiver. Settled listings and lots and old
// audit rows are serialised to JSONL and uploaded under archive/<kind>/.
// Projections are never deleted; audit rows are pruned only when configured.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	listings ListingArchiveStore
	lots     LotArchiveStore
	audit    domain.AuditStore
	cfg      ArchiveConfig
	logger   *slog.Logger
}

// NewArchiver creates an ArchiveImpl. reader may be nil, in which case
// existing archive objects are overwritten.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	listings ListingArchiveStore,
	lots LotArchiveStore,
	audit domain.AuditStore,
	cfg ArchiveConfig,
	logger *slog.Logger,
) *ArchiveImpl {
	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = DefaultMultipartThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveImpl{
		writer:   writer,
		reader:   reader,
		listings: listings,
		lots:     lots,
		audit:    audit,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveAudit uploads audit rows older than before and, with PruneAudit,
// deletes them once the upload has succeeded.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	count, path, err := upload(ctx, a, "audit", before, entries)
	if err != nil || count == 0 {
		return count, err
	}

	detail := map[string]any{
		"path":   path,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	}
	if a.cfg.PruneAudit {
		pruned, err := a.audit.DeleteBefore(ctx, before)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive audit prune: %w", err)
		}
		detail["pruned"] = pruned
	}
	if err := a.audit.Log(ctx, "archive.audit", detail); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return count, nil
}

// ArchiveListings uploads listings that were sold or cancelled before the
// cutoff.
func (a *ArchiveImpl) ArchiveListings(ctx context.Context, before time.Time) (int64, error) {
	listings, err := a.listings.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive listings query: %w", err)
	}
	return record(ctx, a, "listings", before, listings)
}

// ArchiveLots uploads lots that were finished or cancelled before the cutoff.
func (a *ArchiveImpl) ArchiveLots(ctx context.Context, before time.Time) (int64, error) {
	lots, err := a.lots.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive lots query: %w", err)
	}
	return record(ctx, a, "lots", before, lots)
}

// record uploads records and notes the run in the audit log.
func record[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	count, path, err := upload(ctx, a, kind, before, records)
	if err != nil || count == 0 {
		return count, err
	}
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// upload writes records to the archive path for kind. An existing object at
// that path is left alone and reported as zero records archived.
func upload[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, string, error) {
	if len(records) == 0 {
		return 0, "", nil
	}
	path := archivePath(kind, before)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, "", fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if exists {
			a.logger.WarnContext(ctx, "archive object already present, skipping",
				slog.String("path", path),
			)
			return 0, path, nil
		}
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	if int64(len(buf)) > a.cfg.MultipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	a.logger.InfoContext(ctx, "archived records",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int("count", len(records)),
		slog.Int("bytes", len(buf)),
	)
	return int64(len(records)), path, nil
}

// archivePath builds the object key for one archive run, partitioned by
// the month of the cutoff.
//
//	archive/audit/2026-10/20261019T000000Z.jsonl
//	archive/listings/2026-10/20261019T000000Z.jsonl
func archivePath(kind string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, before.Format("2006-01"), before.Format("20060102T150405Z"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
