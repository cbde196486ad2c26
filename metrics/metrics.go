// Package metrics exposes Prometheus counters for the batching and federation
// pipelines and a standalone metrics HTTP server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FederationKeysAccepted counts inbound federation keys that passed all
	// acceptance filters, labelled by origin and test type.
	FederationKeysAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "federation_keys_accepted_total",
		Help: "Inbound federation keys that passed acceptance filtering",
	}, []string{"origin", "test_type"})

	// FederationKeysRejected counts inbound federation keys dropped by
	// acceptance filtering, labelled by origin and test type.
	FederationKeysRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "federation_keys_rejected_total",
		Help: "Inbound federation keys dropped by acceptance filtering",
	}, []string{"origin", "test_type"})

	// FederationBatchesDownloaded counts remote batches fully accepted and
	// cursor-committed.
	FederationBatchesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "federation_batches_downloaded_total",
		Help: "Remote federation batches processed to completion",
	})

	// FederationSubmissionsUploaded counts local submissions accepted by the
	// remote federation server.
	FederationSubmissionsUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "federation_submissions_uploaded_total",
		Help: "Local submissions uploaded to the remote federation server",
	})

	// ArchivesDistributed counts archives written to the distribution store,
	// labelled by archive kind (daily or two-hourly).
	ArchivesDistributed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distribution_archives_written_total",
		Help: "Signed export archives written to the distribution store",
	}, []string{"kind"})

	// EmptyArchivesDistributed counts stale archives replaced by empty signed
	// archives. A nonzero rate is an audit-relevant signal, not an error.
	EmptyArchivesDistributed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distribution_empty_archives_total",
		Help: "Stale archives overwritten with empty signed archives",
	})

	// MalformedSubmissionsSkipped counts submission objects that could not be
	// fetched or decoded and were skipped.
	MalformedSubmissionsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "submission_objects_skipped_total",
		Help: "Submission objects skipped because they could not be loaded",
	})
)

// Server serves the Prometheus scrape endpoint on its own listen address.
type Server struct {
	srv *http.Server
}

// New creates a metrics server for the given listen address.
func New(appName, listenAddr string) (*Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving the scrape endpoint.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
