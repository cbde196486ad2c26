package cursor

import (
	"context"
	"sync"
	"time"

	"github.com/expnotify/key-distribution-backend/interfaces"
)

// MemoryStore is an in-memory BatchStateStore for tests and local runs.
type MemoryStore struct {
	mu            sync.Mutex
	download      interfaces.FederationBatch
	haveDownload  bool
	watermark     time.Time
	haveWatermark bool
}

// NewMemoryStore creates an empty store: no cursor, no watermark.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// DownloadCursor returns the stored download cursor.
func (s *MemoryStore) DownloadCursor(ctx context.Context) (interfaces.FederationBatch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.download, s.haveDownload, nil
}

// SetDownloadCursor stores the download cursor.
func (s *MemoryStore) SetDownloadCursor(ctx context.Context, batch interfaces.FederationBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.download = batch
	s.haveDownload = true
	return nil
}

// UploadWatermark returns the stored upload watermark.
func (s *MemoryStore) UploadWatermark(ctx context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark, s.haveWatermark, nil
}

// SetUploadWatermark stores the upload watermark.
func (s *MemoryStore) SetUploadWatermark(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermark = t
	s.haveWatermark = true
	return nil
}
