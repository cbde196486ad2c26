package interfaces

import (
	"context"
	"time"
)

// FederationBatch records the last successfully consumed remote batch: the
// opaque batch tag issued by the remote server and the calendar day it
// belongs to. Batch tags carry no ordering; only the date does.
type FederationBatch struct {
	BatchTag string
	Date     time.Time
}

// BatchStateStore persists federation progress across invocations. The store
// has a single external writer per cursor; no in-process locking is assumed.
type BatchStateStore interface {
	// DownloadCursor returns the last persisted download cursor. The second
	// return value is false when no cursor has been persisted yet, which is a
	// valid initial state.
	DownloadCursor(ctx context.Context) (FederationBatch, bool, error)

	// SetDownloadCursor persists the download cursor. Called strictly after
	// the corresponding batch has been fully accepted locally.
	SetDownloadCursor(ctx context.Context, batch FederationBatch) error

	// UploadWatermark returns the timestamp below which local submissions are
	// considered already uploaded. The second return value is false when no
	// watermark has been persisted yet.
	UploadWatermark(ctx context.Context) (time.Time, bool, error)

	// SetUploadWatermark persists the upload watermark. Called strictly after
	// the remote server accepted the corresponding batch.
	SetUploadWatermark(ctx context.Context, t time.Time) error
}
