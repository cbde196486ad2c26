// Package flags holds the flag definitions and setup helpers shared by the
// distribution and federation binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/expnotify/key-distribution-backend/common"
	"github.com/expnotify/key-distribution-backend/httpserver"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String("metrics-addr")
	enablePprof := cCtx.Bool("pprof")
	drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var SubmissionStoreFlag = &cli.StringFlag{
	Name:     "submission-store",
	Required: true,
	Usage:    "submission store URI (s3://bucket/prefix, file:///path, mem://)",
}

var SigningKeyIDFlag = &cli.StringFlag{
	Name:  "signing-key-id",
	Usage: "KMS key id used to sign export archives",
}

var SigningKeyPEMFlag = &cli.StringFlag{
	Name:  "signing-key-pem",
	Usage: "path to a PEM-encoded EC private key used instead of KMS (local runs)",
}

var AWSRegionFlag = &cli.StringFlag{
	Name:  "aws-region",
	Value: "eu-west-2",
	Usage: "AWS region for KMS, CloudFront and DynamoDB clients",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Usage: "address to serve operational endpoints (livez, readyz, drain); empty disables the server",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	ListenAddrFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

// StartOpsServer starts the operational HTTP server in the background when a
// listen address is configured. The returned shutdown function is a no-op
// otherwise.
func StartOpsServer(cCtx *cli.Context, logger *slog.Logger) (shutdown func(), err error) {
	listenAddr := cCtx.String(ListenAddrFlag.Name)
	if listenAddr == "" {
		return func() {}, nil
	}

	srv, err := httpserver.New(ConfigureServer(cCtx, logger, listenAddr))
	if err != nil {
		return nil, err
	}
	srv.RunInBackground()
	return srv.Shutdown, nil
}
