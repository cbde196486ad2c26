package federation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/expnotify/key-distribution-backend/interfaces"
	"github.com/expnotify/key-distribution-backend/metrics"
)

// DownloadConfig bounds one download invocation.
type DownloadConfig struct {
	// InitialHistoryDays is how far back the very first invocation starts
	// when no cursor has been persisted yet. Defaults to 14.
	InitialHistoryDays int

	// MaxBatchesPerInvocation caps the number of remote batches processed in
	// one invocation. Defaults to 1000.
	MaxBatchesPerInvocation int

	// MinimumRemaining is the safety threshold for the remaining-time probe.
	// The loop stops once the probe reports less than this. Defaults to 10s.
	MinimumRemaining time.Duration
}

func (c *DownloadConfig) applyDefaults() {
	if c.InitialHistoryDays == 0 {
		c.InitialHistoryDays = 14
	}
	if c.MaxBatchesPerInvocation == 0 {
		c.MaxBatchesPerInvocation = 1000
	}
	if c.MinimumRemaining == 0 {
		c.MinimumRemaining = 10 * time.Second
	}
}

// DownloadService pulls batches from the remote server day by day, resuming
// from the persisted cursor.
type DownloadService struct {
	client   Downloader
	acceptor *Acceptor
	state    interfaces.BatchStateStore
	cfg      DownloadConfig
	log      *slog.Logger
}

// NewDownloadService wires a download loop.
func NewDownloadService(client Downloader, acceptor *Acceptor, state interfaces.BatchStateStore, cfg DownloadConfig, log *slog.Logger) *DownloadService {
	cfg.applyDefaults()
	return &DownloadService{client: client, acceptor: acceptor, state: state, cfg: cfg, log: log}
}

// Run processes remote batches until the remaining-time probe drops below the
// safety threshold, the per-invocation batch cap is reached, or the loop has
// caught up to today. The cursor is persisted strictly after a batch has been
// accepted locally, so a crash resumes from the same batch. Returns the
// number of batches processed.
func (s *DownloadService) Run(ctx context.Context, now time.Time, remaining func() time.Duration) (int, error) {
	now = now.UTC()
	today := now.Truncate(24 * time.Hour)

	date := today.AddDate(0, 0, -s.cfg.InitialHistoryDays)
	batchTag := ""
	if cursor, ok, err := s.state.DownloadCursor(ctx); err != nil {
		return 0, err
	} else if ok {
		date = cursor.Date.UTC().Truncate(24 * time.Hour)
		batchTag = cursor.BatchTag
	}

	s.log.Info("Starting federation download",
		slog.Time("date", date),
		slog.String("batch_tag", batchTag))

	processed := 0
	for processed < s.cfg.MaxBatchesPerInvocation && !date.After(today) {
		if remaining() < s.cfg.MinimumRemaining {
			s.log.Info("Stopping federation download, deadline approaching",
				slog.Int("processed", processed))
			break
		}

		batch, err := s.client.Download(ctx, date, batchTag)
		if err != nil {
			return processed, err
		}
		if batch == nil {
			// Day exhausted. Move on without touching the cursor; the next
			// batch of the following day carries its own tag.
			date = date.AddDate(0, 0, 1)
			batchTag = ""
			continue
		}

		accepted, err := s.acceptor.Accept(ctx, now, batch.BatchTag, batch.Exposures)
		if err != nil {
			return processed, err
		}
		if err := s.state.SetDownloadCursor(ctx, interfaces.FederationBatch{BatchTag: batch.BatchTag, Date: date}); err != nil {
			return processed, fmt.Errorf("failed to persist download cursor: %w", err)
		}

		metrics.FederationBatchesDownloaded.Inc()
		s.log.Info("Accepted federation batch",
			slog.Time("date", date),
			slog.String("batch_tag", batch.BatchTag),
			slog.Int("received", len(batch.Exposures)),
			slog.Int("accepted", accepted))

		batchTag = batch.BatchTag
		processed++
	}

	return processed, nil
}
