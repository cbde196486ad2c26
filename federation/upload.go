package federation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/expnotify/key-distribution-backend/interfaces"
	"github.com/expnotify/key-distribution-backend/metrics"
	"github.com/expnotify/key-distribution-backend/submission"
	"github.com/google/uuid"
)

// UploadConfig bounds one upload invocation and carries the outbound policy.
type UploadConfig struct {
	// Region is the region code stamped on every uploaded record.
	Region string

	// MaxUploadBatchSize caps the submissions per uploaded batch. Zero means
	// one batch carrying everything currently listed.
	MaxUploadBatchSize int

	// MaxSubsequentBatchUploadCount caps the batches uploaded per invocation.
	// Defaults to 100.
	MaxSubsequentBatchUploadCount int

	// RiskLevelOverride, when non-nil, replaces every key's transmission risk
	// level before upload. A policy override, not a data-quality filter.
	RiskLevelOverride *int32

	// MinimumRemaining is the safety threshold for the remaining-time probe.
	// Defaults to 10s.
	MinimumRemaining time.Duration
}

func (c *UploadConfig) applyDefaults() {
	if c.MaxSubsequentBatchUploadCount == 0 {
		c.MaxSubsequentBatchUploadCount = 100
	}
	if c.MinimumRemaining == 0 {
		c.MinimumRemaining = 10 * time.Second
	}
}

// UploadService pushes locally submitted keys to the remote server in signed
// batches, tracking progress with an upload watermark.
type UploadService struct {
	submissions *submission.Repository
	client      Uploader
	signer      *PayloadSigner
	state       interfaces.BatchStateStore
	cfg         UploadConfig
	log         *slog.Logger
}

// NewUploadService wires an upload loop.
func NewUploadService(submissions *submission.Repository, client Uploader, signer *PayloadSigner, state interfaces.BatchStateStore, cfg UploadConfig, log *slog.Logger) *UploadService {
	cfg.applyDefaults()
	return &UploadService{submissions: submissions, client: client, signer: signer, state: state, cfg: cfg, log: log}
}

// Run uploads submissions newer than the persisted watermark, oldest first,
// until the remaining-time probe drops below the safety threshold or the
// per-invocation batch cap is reached. The watermark advances to the newest
// submission timestamp of each batch only after the remote server accepted
// it; a failed upload stops the loop with earlier advances preserved. Returns
// the number of submissions included across all uploaded batches.
func (s *UploadService) Run(ctx context.Context, now time.Time, remaining func() time.Duration) (int, error) {
	watermark, haveWatermark, err := s.state.UploadWatermark(ctx)
	if err != nil {
		return 0, err
	}

	summaries, err := s.submissions.List(ctx)
	if err != nil {
		return 0, err
	}
	pending := make([]interfaces.ObjectSummary, 0, len(summaries))
	for _, summary := range summaries {
		if haveWatermark && !summary.LastModified.After(watermark) {
			continue
		}
		pending = append(pending, summary)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].LastModified.Before(pending[j].LastModified)
	})

	if len(pending) == 0 {
		s.log.Info("No submissions pending upload")
		return 0, nil
	}
	s.log.Info("Starting federation upload",
		slog.Int("pending", len(pending)),
		slog.Time("watermark", watermark))

	uploaded := 0
	batches := 0
	for len(pending) > 0 && batches < s.cfg.MaxSubsequentBatchUploadCount {
		if remaining() < s.cfg.MinimumRemaining {
			s.log.Info("Stopping federation upload, deadline approaching",
				slog.Int("uploaded", uploaded))
			break
		}

		batch := pending
		if s.cfg.MaxUploadBatchSize > 0 && len(batch) > s.cfg.MaxUploadBatchSize {
			batch = batch[:s.cfg.MaxUploadBatchSize]
		}
		pending = pending[len(batch):]

		count, err := s.uploadBatch(ctx, batch)
		if err != nil {
			return uploaded, err
		}
		uploaded += count
		batches++
	}

	return uploaded, nil
}

func (s *UploadService) uploadBatch(ctx context.Context, batch []interfaces.ObjectSummary) (int, error) {
	payloads, err := s.submissions.Load(ctx, batch)
	if err != nil {
		return 0, err
	}

	var exposures []UploadExposure
	for _, payload := range payloads {
		for _, key := range payload.Keys {
			risk := key.TransmissionRisk
			if s.cfg.RiskLevelOverride != nil {
				risk = *s.cfg.RiskLevelOverride
			}
			exposures = append(exposures, UploadExposure{
				KeyData:            key.KeyData,
				RollingStartNumber: key.RollingStartNumber,
				TransmissionRisk:   risk,
				RollingPeriod:      key.RollingPeriod,
				Regions:            []string{s.cfg.Region},
			})
		}
	}

	jws, err := s.signer.Sign(ctx, exposures)
	if err != nil {
		return 0, err
	}

	batchTag := uuid.New().String()
	result, err := s.client.Upload(ctx, batchTag, jws)
	if err != nil {
		return 0, err
	}

	newest := batch[len(batch)-1].LastModified
	if err := s.state.SetUploadWatermark(ctx, newest); err != nil {
		return 0, fmt.Errorf("failed to persist upload watermark: %w", err)
	}

	metrics.FederationSubmissionsUploaded.Add(float64(len(batch)))
	s.log.Info("Uploaded federation batch",
		slog.String("batch_tag", batchTag),
		slog.Int("submissions", len(batch)),
		slog.Int("exposures", len(exposures)),
		slog.Int("inserted", result.InsertedExposures),
		slog.Time("watermark", newest))
	return len(batch), nil
}
