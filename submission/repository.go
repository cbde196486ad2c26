// Package submission lists, fair-limits and loads individually submitted
// exposure key payloads from the submission object store. The repository is
// strictly read-only: submissions are created by the upstream ingestion path
// and retained or deleted by policies outside this service.
package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/expnotify/key-distribution-backend/interfaces"
	"github.com/expnotify/key-distribution-backend/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultWorkers bounds the fan-out of a single Load call.
	DefaultWorkers = 15

	// DefaultFetchTimeout bounds each individual object fetch.
	DefaultFetchTimeout = 20 * time.Second
)

// Payload is one submission object: its key, the submission instant and the
// exposure keys it carries.
type Payload struct {
	ObjectKey      string
	SubmissionTime time.Time
	Keys           []interfaces.ExposureKey
}

type payloadDocument struct {
	TemporaryExposureKeys []interfaces.ExposureKey `json:"temporaryExposureKeys"`
}

// Repository reads submission payloads from an object store.
type Repository struct {
	store        interfaces.ObjectStore
	prefix       string
	keyFilter    func(key string) bool
	workers      int
	fetchTimeout time.Duration
	log          *slog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithKeyFilter restricts List to object keys the predicate accepts, e.g.
// to a single test-kit namespace.
func WithKeyFilter(filter func(key string) bool) Option {
	return func(r *Repository) { r.keyFilter = filter }
}

// WithWorkerPool sets the Load fan-out bound and the per-fetch timeout.
func WithWorkerPool(workers int, fetchTimeout time.Duration) Option {
	return func(r *Repository) {
		r.workers = workers
		r.fetchTimeout = fetchTimeout
	}
}

// NewRepository creates a submission repository over store, listing below
// prefix.
func NewRepository(store interfaces.ObjectStore, prefix string, log *slog.Logger, opts ...Option) *Repository {
	r := &Repository{
		store:        store,
		prefix:       prefix,
		workers:      DefaultWorkers,
		fetchTimeout: DefaultFetchTimeout,
		log:          log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// List returns summaries of all submission objects, filtered by the key
// predicate when one is configured.
func (r *Repository) List(ctx context.Context) ([]interfaces.ObjectSummary, error) {
	summaries, err := r.store.List(ctx, r.prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}

	if r.keyFilter == nil {
		return summaries, nil
	}

	filtered := summaries[:0]
	for _, s := range summaries {
		if r.keyFilter(s.Key) {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

// Limit applies the fairness policy: summaries are grouped into age buckets
// of bucketSeconds granularity relative to now, and up to maxResults are
// returned visiting the oldest bucket first, preserving each bucket's
// original ordering. This bounds the objects fetched per run while preventing
// a burst of recent submissions from starving older, yet-unprocessed ones.
//
// Returns interfaces.ErrInvalidLimit when bucketSeconds is not positive.
func Limit(summaries []interfaces.ObjectSummary, now time.Time, bucketSeconds int64, maxResults int) ([]interfaces.ObjectSummary, error) {
	if bucketSeconds <= 0 {
		return nil, fmt.Errorf("%w: bucket granularity must be positive, got %d", interfaces.ErrInvalidLimit, bucketSeconds)
	}

	buckets := make(map[int64][]interfaces.ObjectSummary)
	for _, s := range summaries {
		bucket := int64(now.Sub(s.LastModified).Seconds()) / bucketSeconds
		buckets[bucket] = append(buckets[bucket], s)
	}

	order := make([]int64, 0, len(buckets))
	for bucket := range buckets {
		order = append(order, bucket)
	}
	// Larger bucket index means older submissions.
	sort.Slice(order, func(i, j int) bool { return order[i] > order[j] })

	limited := make([]interfaces.ObjectSummary, 0, maxResults)
	for _, bucket := range order {
		for _, s := range buckets[bucket] {
			if len(limited) == maxResults {
				return limited, nil
			}
			limited = append(limited, s)
		}
	}
	return limited, nil
}

// Load fetches and decodes the given objects with a bounded worker pool, each
// fetch subject to the per-call timeout. A malformed or unfetchable object is
// skipped and reported, never fatal; the returned payloads preserve the input
// order. The pool is fully joined before Load returns on every path.
func (r *Repository) Load(ctx context.Context, summaries []interfaces.ObjectSummary) ([]Payload, error) {
	loaded := make([]*Payload, len(summaries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, summary := range summaries {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, r.fetchTimeout)
			defer cancel()

			data, err := r.store.Get(fctx, summary.Key)
			if err != nil {
				r.skip(summary.Key, "fetch failed", err)
				return nil
			}

			var doc payloadDocument
			if err := json.Unmarshal(data, &doc); err != nil {
				r.skip(summary.Key, "malformed payload", err)
				return nil
			}

			loaded[i] = &Payload{
				ObjectKey:      summary.Key,
				SubmissionTime: summary.LastModified,
				Keys:           doc.TemporaryExposureKeys,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payloads := make([]Payload, 0, len(summaries))
	for _, p := range loaded {
		if p != nil {
			payloads = append(payloads, *p)
		}
	}
	return payloads, nil
}

func (r *Repository) skip(key, reason string, err error) {
	metrics.MalformedSubmissionsSkipped.Inc()
	r.log.Warn("Skipping submission object",
		slog.String("key", key),
		slog.String("reason", reason),
		"err", err)
}
