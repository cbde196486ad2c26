package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/expnotify/key-distribution-backend/cmd/flags"
	"github.com/expnotify/key-distribution-backend/distribution"
	"github.com/expnotify/key-distribution-backend/exportfile"
	"github.com/expnotify/key-distribution-backend/interfaces"
	"github.com/expnotify/key-distribution-backend/kms"
	"github.com/expnotify/key-distribution-backend/storage"
	"github.com/expnotify/key-distribution-backend/submission"
	"github.com/urfave/cli/v2"
)

var distributionFlags = []cli.Flag{
	flags.SubmissionStoreFlag,
	&cli.StringFlag{
		Name:     "distribution-store",
		Required: true,
		Usage:    "distribution store URI (s3://bucket, file:///path, mem://)",
	},
	&cli.StringFlag{
		Name:  "submission-prefix",
		Value: "mobile/",
		Usage: "object key prefix submissions are listed under",
	},
	flags.SigningKeyIDFlag,
	flags.SigningKeyPEMFlag,
	flags.AWSRegionFlag,
	&cli.StringFlag{
		Name:  "kms-endpoint",
		Usage: "override the KMS endpoint (local testing)",
	},
	&cli.StringFlag{
		Name:  "cloudfront-distribution-id",
		Usage: "CloudFront distribution to invalidate after a run; empty disables invalidation",
	},
	&cli.DurationFlag{
		Name:  "timestamp-offset",
		Value: -15 * time.Minute,
		Usage: "shift applied to declared export timestamps",
	},
	&cli.IntFlag{
		Name:  "max-data-age-days",
		Value: 14,
		Usage: "horizon rewritten with current data",
	},
	&cli.IntFlag{
		Name:  "max-overwrite-age-days",
		Value: 20,
		Usage: "horizon in which stale archives are replaced by empty ones",
	},
	&cli.StringFlag{
		Name:  "app-bundle-id",
		Value: "uk.nhs.covid19.internal",
		Usage: "iOS bundle id embedded in export signature info",
	},
	&cli.StringFlag{
		Name:  "android-package",
		Value: "uk.nhs.covid19.internal",
		Usage: "Android package embedded in export signature info",
	},
	&cli.StringFlag{
		Name:  "verification-key-id",
		Value: "234",
		Usage: "verification key id embedded in export signature info",
	},
	flags.LogServiceFlagFn("key-distribution"),
}

func main() {
	app := &cli.App{
		Name:   "distribution",
		Usage:  "Assemble submitted exposure keys into signed daily and two-hourly export archives",
		Flags:  append(distributionFlags, flags.CommonFlags...),
		Action: runDistribution,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runDistribution(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	shutdown, err := flags.StartOpsServer(cCtx, logger)
	if err != nil {
		logger.Error("Failed to start ops server", "err", err)
		return err
	}
	defer shutdown()

	factory := storage.NewFactory(logger)
	submissionStore, err := factory.StoreFor(cCtx.String("submission-store"))
	if err != nil {
		logger.Error("Failed to open submission store", "err", err)
		return err
	}
	distributionStore, err := factory.StoreFor(cCtx.String("distribution-store"))
	if err != nil {
		logger.Error("Failed to open distribution store", "err", err)
		return err
	}

	var signer interfaces.Signer
	if pemPath := cCtx.String("signing-key-pem"); pemPath != "" {
		pemBytes, err := os.ReadFile(pemPath)
		if err != nil {
			logger.Error("Failed to read signing key", "err", err)
			return err
		}
		signer, err = kms.NewLocalSignerFromPEM(cCtx.String("verification-key-id"), pemBytes)
		if err != nil {
			logger.Error("Failed to parse signing key", "err", err)
			return err
		}
	} else {
		signer, err = kms.NewAWSSigner(cCtx.String("signing-key-id"), cCtx.String("aws-region"), cCtx.String("kms-endpoint"), logger)
		if err != nil {
			logger.Error("Failed to create KMS signer", "err", err)
			return err
		}
	}

	var invalidator distribution.CacheInvalidator = distribution.NoopInvalidator{}
	if id := cCtx.String("cloudfront-distribution-id"); id != "" {
		invalidator, err = distribution.NewCloudFrontInvalidator(id, cCtx.String("aws-region"), logger)
		if err != nil {
			logger.Error("Failed to create CloudFront invalidator", "err", err)
			return err
		}
	}

	repo := submission.NewRepository(submissionStore, cCtx.String("submission-prefix"), logger)
	svc := distribution.NewService(repo, distributionStore, signer, invalidator, distribution.Config{
		Offset:              cCtx.Duration("timestamp-offset"),
		MaxDataAgeDays:      cCtx.Int("max-data-age-days"),
		MaxOverwriteAgeDays: cCtx.Int("max-overwrite-age-days"),
		SignatureInfo: exportfile.SignatureInfo{
			AppBundleID:        cCtx.String("app-bundle-id"),
			AndroidPackage:     cCtx.String("android-package"),
			VerificationKeyID:  cCtx.String("verification-key-id"),
			SignatureAlgorithm: kms.SignatureAlgorithmOID,
		},
	}, logger)

	result, err := svc.Run(context.Background(), time.Now())
	if err != nil {
		logger.Error("Distribution run failed", "err", err)
		return err
	}
	logger.Info("Distribution run finished",
		"written", result.Written,
		"empty", result.Empty,
		"failed", result.Failed,
		"deleted", result.Deleted)
	return nil
}
