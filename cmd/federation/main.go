package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/expnotify/key-distribution-backend/cmd/flags"
	"github.com/expnotify/key-distribution-backend/cursor"
	"github.com/expnotify/key-distribution-backend/federation"
	"github.com/expnotify/key-distribution-backend/kms"
	"github.com/expnotify/key-distribution-backend/storage"
	"github.com/expnotify/key-distribution-backend/submission"
	"github.com/urfave/cli/v2"
)

var sharedFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "interop-base-url",
		Required: true,
		Usage:    "base URL of the remote interoperability server",
	},
	&cli.StringFlag{
		Name:     "interop-auth-token",
		Required: true,
		EnvVars:  []string{"INTEROP_AUTH_TOKEN"},
		Usage:    "bearer token for the remote interoperability server",
	},
	&cli.StringFlag{
		Name:     "cursor-table",
		Required: true,
		Usage:    "DynamoDB table holding federation cursor state",
	},
	flags.AWSRegionFlag,
	&cli.DurationFlag{
		Name:  "deadline",
		Value: 10 * time.Minute,
		Usage: "wall-clock budget for this invocation",
	},
	flags.LogServiceFlagFn("key-federation"),
}

var downloadFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "inbound-store",
		Required: true,
		Usage:    "store URI accepted federation batches are written to",
	},
	&cli.StringFlag{
		Name:  "inbound-prefix",
		Value: "federation/inbound",
		Usage: "object key prefix for accepted batches",
	},
	&cli.StringSliceFlag{
		Name:     "allowed-origin",
		Required: true,
		Usage:    "origin region code accepted from the remote server (repeatable)",
	},
	&cli.IntFlag{
		Name:  "retention-days",
		Value: 14,
		Usage: "maximum accepted key age",
	},
	&cli.IntFlag{
		Name:  "initial-history-days",
		Value: 14,
		Usage: "how far back the first invocation starts without a cursor",
	},
	&cli.IntFlag{
		Name:  "max-batches",
		Value: 1000,
		Usage: "maximum remote batches processed per invocation",
	},
}

var uploadFlags = []cli.Flag{
	flags.SubmissionStoreFlag,
	&cli.StringFlag{
		Name:  "submission-prefix",
		Value: "mobile/",
		Usage: "object key prefix submissions are listed under",
	},
	&cli.StringFlag{
		Name:  "region",
		Value: "GB",
		Usage: "region code stamped on uploaded records",
	},
	&cli.IntFlag{
		Name:  "max-upload-batch-size",
		Value: 0,
		Usage: "submissions per uploaded batch; 0 uploads everything in one batch",
	},
	&cli.IntFlag{
		Name:  "max-batch-count",
		Value: 100,
		Usage: "maximum batches uploaded per invocation",
	},
	&cli.IntFlag{
		Name:  "risk-level-override",
		Value: -1,
		Usage: "override every key's transmission risk level; negative disables",
	},
	&cli.StringFlag{
		Name:     "vault-addr",
		Required: true,
		Usage:    "Vault server address holding the upload signing key",
	},
	&cli.StringFlag{
		Name:     "vault-token",
		Required: true,
		EnvVars:  []string{"VAULT_TOKEN"},
		Usage:    "Vault token",
	},
	&cli.StringFlag{
		Name:  "vault-mount",
		Value: "secret",
		Usage: "Vault KV-v2 mount path",
	},
	&cli.StringFlag{
		Name:     "vault-key-path",
		Required: true,
		Usage:    "secret path of the PEM-encoded ES256 signing key",
	},
	&cli.StringFlag{
		Name:  "vault-key-field",
		Value: "private-key",
		Usage: "secret field holding the PEM key",
	},
	&cli.StringFlag{
		Name:     "signing-key-id",
		Required: true,
		Usage:    "key id carried in the JWS header",
	},
}

func main() {
	app := &cli.App{
		Name:  "federation",
		Usage: "Exchange exposure keys with a remote interoperability server",
		Commands: []*cli.Command{
			{
				Name:   "download",
				Usage:  "Pull and accept remote batches, resuming from the persisted cursor",
				Flags:  append(append(sharedFlags, downloadFlags...), flags.CommonFlags...),
				Action: runDownload,
			},
			{
				Name:   "upload",
				Usage:  "Push local submissions as JWS-signed batches",
				Flags:  append(append(sharedFlags, uploadFlags...), flags.CommonFlags...),
				Action: runUpload,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// remainingProbe turns the wall-clock deadline into the remaining-time probe
// the loops poll before each iteration.
func remainingProbe(deadline time.Time) func() time.Duration {
	return func() time.Duration { return time.Until(deadline) }
}

func runDownload(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	shutdown, err := flags.StartOpsServer(cCtx, logger)
	if err != nil {
		logger.Error("Failed to start ops server", "err", err)
		return err
	}
	defer shutdown()

	store, err := storage.NewFactory(logger).StoreFor(cCtx.String("inbound-store"))
	if err != nil {
		logger.Error("Failed to open inbound store", "err", err)
		return err
	}
	state, err := cursor.NewDynamoStore(cCtx.String("cursor-table"), cCtx.String("aws-region"))
	if err != nil {
		logger.Error("Failed to create cursor store", "err", err)
		return err
	}

	client := federation.NewClient(cCtx.String("interop-base-url"), cCtx.String("interop-auth-token"))
	acceptor := federation.NewAcceptor(store, federation.AcceptorConfig{
		AllowedOrigins: cCtx.StringSlice("allowed-origin"),
		RetentionDays:  cCtx.Int("retention-days"),
		Prefix:         cCtx.String("inbound-prefix"),
	}, logger)

	svc := federation.NewDownloadService(client, acceptor, state, federation.DownloadConfig{
		InitialHistoryDays:      cCtx.Int("initial-history-days"),
		MaxBatchesPerInvocation: cCtx.Int("max-batches"),
	}, logger)

	deadline := time.Now().Add(cCtx.Duration("deadline"))
	processed, err := svc.Run(context.Background(), time.Now(), remainingProbe(deadline))
	if err != nil {
		logger.Error("Federation download failed", "err", err, "processed", processed)
		return err
	}
	logger.Info("Federation download finished", "processed", processed)
	return nil
}

func runUpload(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	shutdown, err := flags.StartOpsServer(cCtx, logger)
	if err != nil {
		logger.Error("Failed to start ops server", "err", err)
		return err
	}
	defer shutdown()

	store, err := storage.NewFactory(logger).StoreFor(cCtx.String("submission-store"))
	if err != nil {
		logger.Error("Failed to open submission store", "err", err)
		return err
	}
	state, err := cursor.NewDynamoStore(cCtx.String("cursor-table"), cCtx.String("aws-region"))
	if err != nil {
		logger.Error("Failed to create cursor store", "err", err)
		return err
	}

	keys, err := kms.NewVaultKeySource(
		cCtx.String("vault-addr"),
		cCtx.String("vault-token"),
		cCtx.String("vault-mount"),
		cCtx.String("vault-key-path"),
		cCtx.String("vault-key-field"),
		cCtx.String("signing-key-id"),
		logger)
	if err != nil {
		logger.Error("Failed to create Vault key source", "err", err)
		return err
	}

	cfg := federation.UploadConfig{
		Region:                        cCtx.String("region"),
		MaxUploadBatchSize:            cCtx.Int("max-upload-batch-size"),
		MaxSubsequentBatchUploadCount: cCtx.Int("max-batch-count"),
	}
	if override := cCtx.Int("risk-level-override"); override >= 0 {
		level := int32(override)
		cfg.RiskLevelOverride = &level
	}

	repo := submission.NewRepository(store, cCtx.String("submission-prefix"), logger)
	client := federation.NewClient(cCtx.String("interop-base-url"), cCtx.String("interop-auth-token"))
	svc := federation.NewUploadService(repo, client, federation.NewPayloadSigner(keys), state, cfg, logger)

	deadline := time.Now().Add(cCtx.Duration("deadline"))
	uploaded, err := svc.Run(context.Background(), time.Now(), remainingProbe(deadline))
	if err != nil {
		logger.Error("Federation upload failed", "err", err, "uploaded", uploaded)
		return err
	}
	logger.Info("Federation upload finished", "uploaded", uploaded)
	return nil
}
