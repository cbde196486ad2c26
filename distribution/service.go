package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/expnotify/key-distribution-backend/batchwindow"
	"github.com/expnotify/key-distribution-backend/exportfile"
	"github.com/expnotify/key-distribution-backend/interfaces"
	"github.com/expnotify/key-distribution-backend/metrics"
	"github.com/expnotify/key-distribution-backend/submission"
)

// Config holds the distribution run policy.
type Config struct {
	// Offset shifts declared export timestamps relative to the period
	// boundaries. Defaults to batchwindow.DefaultOffset.
	Offset time.Duration

	// MaxDataAgeDays bounds the horizon rewritten with current data.
	// MaxOverwriteAgeDays bounds the horizon in which stale archives are
	// replaced by empty signed ones. The two are independent policy knobs;
	// no formula relates them.
	MaxDataAgeDays      int
	MaxOverwriteAgeDays int

	// LimitBucketSeconds and MaxSubmissions bound the submission volume
	// fetched per run, see submission.Limit.
	LimitBucketSeconds int64
	MaxSubmissions     int

	SignatureInfo exportfile.SignatureInfo
}

func (c *Config) applyDefaults() {
	if c.Offset == 0 {
		c.Offset = batchwindow.DefaultOffset
	}
	if c.MaxDataAgeDays == 0 {
		c.MaxDataAgeDays = 14
	}
	if c.MaxOverwriteAgeDays == 0 {
		c.MaxOverwriteAgeDays = 20
	}
	if c.LimitBucketSeconds == 0 {
		c.LimitBucketSeconds = 60
	}
	if c.MaxSubmissions == 0 {
		c.MaxSubmissions = 50000
	}
}

// Result summarizes one distribution run.
type Result struct {
	// Written counts archives written with current data.
	Written int
	// Empty counts stale archives replaced by empty signed ones.
	Empty int
	// Failed counts periods whose archive could not be produced; the run
	// continues past them.
	Failed int
	// Deleted counts orphan objects removed by garbage collection.
	Deleted int
}

// Service owns the contents of the distribution store for the run in which
// it executes.
type Service struct {
	submissions *submission.Repository
	store       interfaces.ObjectStore
	signer      interfaces.Signer
	invalidator CacheInvalidator
	cfg         Config
	log         *slog.Logger
}

// NewService wires a distribution service.
func NewService(submissions *submission.Repository, store interfaces.ObjectStore, signer interfaces.Signer, invalidator CacheInvalidator, cfg Config, log *slog.Logger) *Service {
	cfg.applyDefaults()
	return &Service{
		submissions: submissions,
		store:       store,
		signer:      signer,
		invalidator: invalidator,
		cfg:         cfg,
		log:         log,
	}
}

// Run executes one distribution run for the processing window containing
// now. It is fatal to invoke it outside a valid window: proceeding would
// declare a wrong-period batch.
//
// Per-period failures are isolated and reported; signing failures and
// overwrite-decision failures abort the run.
func (s *Service) Run(ctx context.Context, now time.Time) (*Result, error) {
	now = now.UTC()
	if !batchwindow.IsValidStart(now) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrOutsideProcessingWindow, now.Format(time.RFC3339))
	}
	boundary := batchwindow.NextWindow(now)

	payloads, err := s.loadSubmissions(ctx, now)
	if err != nil {
		return nil, err
	}
	s.log.Info("Starting distribution run",
		slog.Time("boundary", boundary),
		slog.Int("submissions", len(payloads)))

	result := &Result{}
	intended := make(map[string]struct{})

	// Periods within the data horizon are always rewritten with current
	// data, oldest first.
	dataDays := s.cfg.MaxDataAgeDays
	for _, p := range TrailingDaily(boundary, dataDays) {
		if err := s.writePeriod(ctx, payloads, p, intended, result); err != nil {
			return nil, err
		}
	}
	for _, p := range TrailingTwoHourly(boundary, dataDays*12) {
		if err := s.writePeriod(ctx, payloads, p, intended, result); err != nil {
			return nil, err
		}
	}

	// Older periods up to the overwrite horizon: stale archives are replaced
	// by empty signed ones so leaked data cannot keep shipping as a valid,
	// verifiable artifact.
	overwriteDays := s.cfg.MaxOverwriteAgeDays
	bandDaily := TrailingDaily(boundary, overwriteDays)[:overwriteDays-dataDays]
	bandTwoHourly := TrailingTwoHourly(boundary, overwriteDays*12)[:(overwriteDays-dataDays)*12]
	for _, p := range append(bandDaily, bandTwoHourly...) {
		if err := s.overwriteIfStale(ctx, p, intended, result); err != nil {
			return nil, err
		}
	}

	dailyCutoff := TrailingDaily(boundary, overwriteDays)[0].End
	twoHourlyCutoff := TrailingTwoHourly(boundary, overwriteDays*12)[0].End
	s.collectGarbage(ctx, intended, dailyCutoff, twoHourlyCutoff, result)

	// Exactly once per successful run, after all writes. A failed
	// invalidation is reported but never rolls back the writes.
	paths := []string{"/" + DailyPrefix + "/*", "/" + TwoHourlyPrefix + "/*"}
	if err := s.invalidator.Invalidate(ctx, paths); err != nil {
		s.log.Error("Cache invalidation failed", "err", err)
	}

	s.log.Info("Distribution run complete",
		slog.Int("written", result.Written),
		slog.Int("empty", result.Empty),
		slog.Int("failed", result.Failed),
		slog.Int("deleted", result.Deleted))

	return result, nil
}

func (s *Service) loadSubmissions(ctx context.Context, now time.Time) ([]submission.Payload, error) {
	summaries, err := s.submissions.List(ctx)
	if err != nil {
		return nil, err
	}

	limited, err := submission.Limit(summaries, now, s.cfg.LimitBucketSeconds, s.cfg.MaxSubmissions)
	if err != nil {
		return nil, err
	}

	return s.submissions.Load(ctx, limited)
}

// keysInPeriod collects the valid keys of all submissions whose submission
// instant falls inside the period. Invalid keys are skipped and reported,
// never fatal.
func (s *Service) keysInPeriod(payloads []submission.Payload, p Period) []interfaces.ExposureKey {
	var keys []interfaces.ExposureKey
	for _, payload := range payloads {
		if !p.Contains(payload.SubmissionTime) {
			continue
		}
		for _, k := range payload.Keys {
			if err := k.Validate(); err != nil {
				s.log.Warn("Skipping invalid submitted key",
					slog.String("submission", payload.ObjectKey),
					"err", err)
				continue
			}
			keys = append(keys, k)
		}
	}
	return keys
}

func (s *Service) writePeriod(ctx context.Context, payloads []submission.Payload, p Period, intended map[string]struct{}, result *Result) error {
	key := p.ObjectKey()
	intended[key] = struct{}{}

	archive, err := s.buildSignedArchive(ctx, s.keysInPeriod(payloads, p), p)
	if err != nil {
		return err
	}

	if err := s.store.Put(ctx, key, archive); err != nil {
		s.log.Error("Failed to write archive",
			slog.String("key", key),
			"err", err)
		result.Failed++
		return nil
	}

	kind := "two-hourly"
	if p.Daily {
		kind = "daily"
	}
	metrics.ArchivesDistributed.WithLabelValues(kind).Inc()
	result.Written++
	return nil
}

func (s *Service) overwriteIfStale(ctx context.Context, p Period, intended map[string]struct{}, result *Result) error {
	key := p.ObjectKey()
	intended[key] = struct{}{}

	existing, err := s.store.Get(ctx, key)
	if errors.Is(err, interfaces.ErrObjectNotFound) {
		return nil
	}
	if err != nil {
		// A wrong staleness decision risks shipping leaked key data, so this
		// path is fatal rather than isolated.
		return fmt.Errorf("staleness check failed for %s: %w", key, err)
	}

	count, err := exportfile.KeyCount(existing)
	if err == nil && count == 0 {
		return nil
	}

	archive, err := s.buildSignedArchive(ctx, nil, p)
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, key, archive); err != nil {
		return fmt.Errorf("failed to replace stale archive %s: %w", key, err)
	}

	metrics.EmptyArchivesDistributed.Inc()
	s.log.Warn("Empty archive distributed",
		slog.String("key", key),
		slog.Time("period_start", p.Start),
		slog.Time("period_end", p.End))
	result.Empty++
	return nil
}

// buildSignedArchive produces the signed two-entry archive for a period. A
// signing failure is fatal: archive writing is all-or-nothing per period and
// an unsigned artifact must never ship.
func (s *Service) buildSignedArchive(ctx context.Context, keys []interfaces.ExposureKey, p Period) ([]byte, error) {
	export, err := exportfile.Build(keys, p.Start, p.End, s.cfg.Offset, s.cfg.SignatureInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to build export for %s: %w", p.ObjectKey(), err)
	}
	exportBin := exportfile.MarshalExport(export)

	sig, err := s.signer.Sign(ctx, exportBin)
	if err != nil {
		return nil, fmt.Errorf("failed to sign export for %s: %w", p.ObjectKey(), err)
	}
	exportSig := exportfile.MarshalSignatureList(exportfile.BuildSignatureList(sig, s.cfg.SignatureInfo))

	return exportfile.WriteArchive(exportBin, exportSig)
}

func (s *Service) collectGarbage(ctx context.Context, intended map[string]struct{}, dailyCutoff, twoHourlyCutoff time.Time, result *Result) {
	for _, prefix := range []string{DailyPrefix, TwoHourlyPrefix} {
		cutoff := twoHourlyCutoff
		if prefix == DailyPrefix {
			cutoff = dailyCutoff
		}

		summaries, err := s.store.List(ctx, prefix)
		if err != nil {
			s.log.Error("Garbage collection listing failed",
				slog.String("prefix", prefix),
				"err", err)
			continue
		}

		for _, summary := range summaries {
			if _, ok := intended[summary.Key]; ok {
				continue
			}
			if end, err := ParseKeyEnd(summary.Key); err == nil && end.Before(cutoff) {
				// Beyond the maintained horizon: never touched.
				continue
			}

			if err := s.store.Delete(ctx, summary.Key); err != nil {
				s.log.Error("Failed to delete orphan object",
					slog.String("key", summary.Key),
					"err", err)
				continue
			}
			s.log.Info("Deleted orphan distribution object", slog.String("key", summary.Key))
			result.Deleted++
		}
	}
}
