package distribution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudfront"
	"github.com/google/uuid"
)

// CacheInvalidator invalidates downstream distribution caches after a run.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, paths []string) error
}

// CloudFrontInvalidator invalidates a CloudFront distribution.
type CloudFrontInvalidator struct {
	client         *cloudfront.CloudFront
	distributionID string
	log            *slog.Logger
}

// NewCloudFrontInvalidator creates an invalidator for the given CloudFront
// distribution id.
func NewCloudFrontInvalidator(distributionID, region string, log *slog.Logger) (*CloudFrontInvalidator, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &CloudFrontInvalidator{
		client:         cloudfront.New(sess),
		distributionID: distributionID,
		log:            log,
	}, nil
}

// Invalidate submits one invalidation covering all given path patterns.
func (c *CloudFrontInvalidator) Invalidate(ctx context.Context, paths []string) error {
	items := make([]*string, len(paths))
	for i, p := range paths {
		items[i] = aws.String(p)
	}

	out, err := c.client.CreateInvalidationWithContext(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(c.distributionID),
		InvalidationBatch: &cloudfront.InvalidationBatch{
			CallerReference: aws.String(uuid.NewString()),
			Paths: &cloudfront.Paths{
				Items:    items,
				Quantity: aws.Int64(int64(len(items))),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("CloudFront invalidation failed: %w", err)
	}

	c.log.Info("Invalidated distribution cache",
		slog.String("distribution_id", c.distributionID),
		slog.Any("paths", paths),
		slog.String("invalidation_id", aws.StringValue(out.Invalidation.Id)),
		slog.Time("submitted_at", time.Now().UTC()))

	return nil
}

// NoopInvalidator is used when no CDN sits in front of the distribution
// store, e.g. in development.
type NoopInvalidator struct{}

// Invalidate does nothing.
func (NoopInvalidator) Invalidate(ctx context.Context, paths []string) error {
	return nil
}
