package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/expnotify/key-distribution-backend/interfaces"
	"github.com/expnotify/key-distribution-backend/metrics"
)

const storedDateLayout = "20060102"

// AcceptorConfig carries the inbound acceptance policy.
type AcceptorConfig struct {
	// AllowedOrigins lists the origin region codes accepted from the remote
	// server. Keys from any other origin are dropped.
	AllowedOrigins []string

	// RetentionDays is the maximum key age. Keys whose rolling start is more
	// than this many days before now are dropped. Defaults to 14.
	RetentionDays int

	// Prefix is the object-store prefix accepted batches are written under.
	Prefix string
}

func (c *AcceptorConfig) applyDefaults() {
	if c.RetentionDays == 0 {
		c.RetentionDays = 14
	}
}

// Acceptor filters inbound federation keys through acceptance policy and
// persists the survivors grouped by origin.
type Acceptor struct {
	store   interfaces.ObjectStore
	cfg     AcceptorConfig
	origins map[string]struct{}
	log     *slog.Logger
}

// NewAcceptor creates an acceptor writing accepted batches to the given
// store.
func NewAcceptor(store interfaces.ObjectStore, cfg AcceptorConfig, log *slog.Logger) *Acceptor {
	cfg.applyDefaults()
	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[o] = struct{}{}
	}
	return &Acceptor{store: store, cfg: cfg, origins: origins, log: log}
}

// storedPayload is the persisted document shape, matching mobile submissions
// so downstream distribution treats both sources identically.
type storedPayload struct {
	TemporaryExposureKeys []interfaces.ExposureKey `json:"temporaryExposureKeys"`
}

// Accept filters the batch, persists survivors grouped by origin and emits
// one audit event per origin. Filtering is independent per key; a dropped key
// never aborts the batch. Returns the number of keys accepted.
func (a *Acceptor) Accept(ctx context.Context, now time.Time, batchTag string, exposures []interfaces.FederationExposureKey) (int, error) {
	now = now.UTC()
	accepted := make(map[string][]interfaces.ExposureKey)
	invalid := make(map[string]int)
	testTypes := make(map[string]interfaces.TestType)

	for _, key := range exposures {
		testTypes[key.Origin] = key.TestType
		if err := a.check(now, key); err != nil {
			invalid[key.Origin]++
			metrics.FederationKeysRejected.WithLabelValues(key.Origin, string(key.TestType)).Inc()
			a.log.Debug("Dropped inbound federation key",
				slog.String("origin", key.Origin),
				slog.String("batch_tag", batchTag),
				"reason", err)
			continue
		}
		accepted[key.Origin] = append(accepted[key.Origin], key.StorageShape())
		metrics.FederationKeysAccepted.WithLabelValues(key.Origin, string(key.TestType)).Inc()
	}

	total := 0
	for _, origin := range sortedOrigins(accepted) {
		keys := accepted[origin]
		objectKey := fmt.Sprintf("%s/%s/%s/%s.json", a.cfg.Prefix, origin, now.Format(storedDateLayout), batchTag)
		data, err := json.Marshal(storedPayload{TemporaryExposureKeys: keys})
		if err != nil {
			return total, err
		}
		if err := a.store.Put(ctx, objectKey, data); err != nil {
			return total, fmt.Errorf("failed to persist accepted batch for origin %s: %w", origin, err)
		}
		total += len(keys)
	}

	for origin := range mergedOrigins(accepted, invalid) {
		a.log.Info("Processed inbound federation keys",
			slog.String("origin", origin),
			slog.String("test_type", string(testTypes[origin])),
			slog.String("batch_tag", batchTag),
			slog.Int("valid", len(accepted[origin])),
			slog.Int("invalid", invalid[origin]))
	}
	return total, nil
}

func (a *Acceptor) check(now time.Time, key interfaces.FederationExposureKey) error {
	if _, ok := a.origins[key.Origin]; !ok {
		return fmt.Errorf("origin %q not in allow-list", key.Origin)
	}
	if _, err := key.DecodeKeyData(); err != nil {
		return err
	}
	start := key.RollingStartTime()
	if start.After(now) {
		return fmt.Errorf("rolling start %s is in the future", start.Format(time.RFC3339))
	}
	if start.Before(now.AddDate(0, 0, -a.cfg.RetentionDays)) {
		return fmt.Errorf("rolling start %s is beyond the %d day retention window", start.Format(time.RFC3339), a.cfg.RetentionDays)
	}
	if key.TestType != interfaces.TestTypeLabResult {
		return fmt.Errorf("test type %q not accepted", key.TestType)
	}
	if key.ReportType != interfaces.ReportTypeConfirmedTest {
		return fmt.Errorf("report type %q not accepted", key.ReportType)
	}
	return nil
}

func sortedOrigins(groups map[string][]interfaces.ExposureKey) []string {
	origins := make([]string, 0, len(groups))
	for origin := range groups {
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	return origins
}

func mergedOrigins(accepted map[string][]interfaces.ExposureKey, invalid map[string]int) map[string]struct{} {
	origins := make(map[string]struct{})
	for origin := range accepted {
		origins[origin] = struct{}{}
	}
	for origin := range invalid {
		origins[origin] = struct{}{}
	}
	return origins
}
