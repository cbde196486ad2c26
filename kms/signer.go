package kms

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	awskms "github.com/aws/aws-sdk-go/service/kms"
	"github.com/expnotify/key-distribution-backend/interfaces"
)

// SignatureAlgorithmOID is the ASN.1 OID for ECDSA with SHA-256, the
// algorithm declared in every SignatureInfo.
const SignatureAlgorithmOID = "1.2.840.10045.4.3.2"

type signingAPI interface {
	SignWithContext(ctx aws.Context, input *awskms.SignInput, opts ...request.Option) (*awskms.SignOutput, error)
}

// AWSSigner implements interfaces.Signer through the AWS KMS asymmetric
// signing API.
type AWSSigner struct {
	client signingAPI
	keyID  string
	log    *slog.Logger
}

// NewAWSSigner creates a signer for the given KMS key id.
func NewAWSSigner(keyID, region, endpoint string, log *slog.Logger) (*AWSSigner, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &AWSSigner{
		client: awskms.New(sess),
		keyID:  keyID,
		log:    log,
	}, nil
}

// Sign produces an ECDSA P-256 signature over the SHA-256 digest of data.
func (s *AWSSigner) Sign(ctx context.Context, data []byte) (interfaces.Signature, error) {
	start := time.Now()
	digest := sha256.Sum256(data)

	out, err := s.client.SignWithContext(ctx, &awskms.SignInput{
		KeyId:            aws.String(s.keyID),
		Message:          digest[:],
		MessageType:      aws.String(awskms.MessageTypeDigest),
		SigningAlgorithm: aws.String(awskms.SigningAlgorithmSpecEcdsaSha256),
	})
	if err != nil {
		return interfaces.Signature{}, fmt.Errorf("KMS signing failed for key %s: %w", s.keyID, err)
	}

	s.log.Debug("Signed payload with KMS",
		slog.String("key_id", s.keyID),
		slog.Int("payload_size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return interfaces.Signature{
		KeyID:     s.keyID,
		Algorithm: SignatureAlgorithmOID,
		Bytes:     out.Signature,
	}, nil
}
