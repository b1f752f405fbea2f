package stats

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inev/engage/internal/models"
	"github.com/inev/engage/pkg/storage"
)

// Exporter writes a range of closed sessions as CSV to object storage and
// hands back a presigned download URL, so large exports never stream through
// the API response.
type Exporter struct {
	sessions SessionSource
	store    *storage.S3
	logger   *zap.Logger
	now      func() time.Time
}

// NewExporter creates a CSV exporter.
func NewExporter(sessions SessionSource, store *storage.S3, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{sessions: sessions, store: store, logger: logger, now: time.Now}
}

// ExportResult points at a finished export object.
type ExportResult struct {
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	RowCount    int       `json:"row_count"`
}

// Export writes the event's closed sessions in [from, to) to S3 and presigns
// a download URL.
func (e *Exporter) Export(ctx context.Context, event *models.Event, from, to time.Time) (*ExportResult, error) {
	closed, err := e.sessions.ClosedSessions(ctx, event.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("read closed sessions: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"session_id", "viewer_id", "session_token", "content_id", "entered_at", "exited_at", "watched_seconds"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, s := range closed {
		record := []string{
			s.ID.String(),
			uuidOrEmpty(s.ViewerID),
			s.SessionToken,
			uuidOrEmpty(s.ContentID),
			s.EnteredAt.UTC().Format(time.RFC3339),
			s.ExitedAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(s.WatchedSeconds, 10),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	key := storage.ExportKey(event.ID.String(), uuid.New().String())
	if err := e.store.UploadExport(ctx, key, "text/csv", &buf); err != nil {
		return nil, err
	}
	url, expiresAt, err := e.store.PresignDownload(ctx, key)
	if err != nil {
		return nil, err
	}

	e.logger.Info("stats export finished",
		zap.String("event_id", event.ID.String()),
		zap.String("key", key),
		zap.Int("rows", len(closed)))
	return &ExportResult{DownloadURL: url, ExpiresAt: expiresAt, RowCount: len(closed)}, nil
}

func uuidOrEmpty(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
