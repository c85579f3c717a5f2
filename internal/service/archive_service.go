package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmonteroh/polysignal/internal/domain"
)

const (
	archiveContentType = "application/x-ndjson"

	// Dumps past this size go through the multipart uploader.
	multipartThreshold = 8 * 1024 * 1024
	multipartPartSize  = 8 * 1024 * 1024
)

// ArchiveService snapshots closed positions and the audit trail to blob
// storage as newline-delimited JSON, one object per UTC day. Re-running a day
// overwrites that day's objects, so the task is safe to trigger repeatedly.
type ArchiveService struct {
	positions domain.PositionStore
	audit     domain.AuditStore
	blob      domain.BlobWriter
	logger    *slog.Logger

	now func() time.Time
}

// NewArchiveService creates an ArchiveService.
func NewArchiveService(
	positions domain.PositionStore,
	audit domain.AuditStore,
	blob domain.BlobWriter,
	logger *slog.Logger,
) *ArchiveService {
	return &ArchiveService{
		positions: positions,
		audit:     audit,
		blob:      blob,
		logger:    logger,
		now:       time.Now,
	}
}

// Run performs one archive pass: yesterday's and today's closed positions
// plus the last day of audit entries.
func (s *ArchiveService) Run(ctx context.Context) error {
	if s.blob == nil {
		return nil
	}
	day := s.now().UTC()

	if err := s.archivePositions(ctx, day); err != nil {
		return err
	}
	if err := s.archiveAudit(ctx, day); err != nil {
		return err
	}
	return nil
}

func (s *ArchiveService) archivePositions(ctx context.Context, day time.Time) error {
	closed, err := s.positions.ListByStatus(ctx, domain.PositionStatusClosed)
	if err != nil {
		return fmt.Errorf("archive: list closed positions: %w", err)
	}

	var recent []*domain.Position
	cutoff := day.Add(-24 * time.Hour)
	for _, p := range closed {
		if p.ClosedAt != nil && p.ClosedAt.After(cutoff) {
			recent = append(recent, p)
		}
	}
	if len(recent) == 0 {
		return nil
	}

	buf, err := encodeLines(recent)
	if err != nil {
		return fmt.Errorf("archive: encode positions: %w", err)
	}

	path := fmt.Sprintf("archive/positions/%s.jsonl", utcDate(day))
	if err := s.upload(ctx, path, buf); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "archive: positions archived",
		slog.String("path", path),
		slog.Int("count", len(recent)),
	)
	return nil
}

func (s *ArchiveService) archiveAudit(ctx context.Context, day time.Time) error {
	entries, err := s.audit.ListSince(ctx, day.Add(-24*time.Hour), 10_000)
	if err != nil {
		return fmt.Errorf("archive: list audit entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	buf, err := encodeLines(entries)
	if err != nil {
		return fmt.Errorf("archive: encode audit entries: %w", err)
	}

	path := fmt.Sprintf("archive/audit/%s.jsonl", utcDate(day))
	if err := s.upload(ctx, path, buf); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "archive: audit trail archived",
		slog.String("path", path),
		slog.Int("count", len(entries)),
	)
	return nil
}

func (s *ArchiveService) upload(ctx context.Context, path string, buf *bytes.Buffer) error {
	var err error
	if int64(buf.Len()) > multipartThreshold {
		err = s.blob.PutMultipart(ctx, path, buf, multipartPartSize)
	} else {
		err = s.blob.Put(ctx, path, buf, archiveContentType)
	}
	if err != nil {
		return fmt.Errorf("archive: upload %s: %w", path, err)
	}
	return nil
}

func encodeLines[T any](items []T) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return &buf, nil
}
