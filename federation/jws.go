package federation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/expnotify/key-distribution-backend/kms"
	"github.com/go-jose/go-jose/v4"
)

// UploadExposure is the shape of one exposure record inside an upload
// payload.
type UploadExposure struct {
	KeyData            string   `json:"keyData"`
	RollingStartNumber int64    `json:"rollingStartNumber"`
	TransmissionRisk   int32    `json:"transmissionRiskLevel"`
	RollingPeriod      int32    `json:"rollingPeriod"`
	Regions            []string `json:"regions"`
}

// PayloadSigner produces the JWS compact serialization of an upload batch.
// The signing key is resolved through the key source on every call so that
// rotation takes effect immediately.
type PayloadSigner struct {
	keys kms.KeySource
}

// NewPayloadSigner creates a signer backed by the given key source.
func NewPayloadSigner(keys kms.KeySource) *PayloadSigner {
	return &PayloadSigner{keys: keys}
}

// Sign serializes the exposures as a JSON array and signs it with ES256. The
// returned string is the JWS compact serialization the remote server expects
// as the upload payload.
func (s *PayloadSigner) Sign(ctx context.Context, exposures []UploadExposure) (string, error) {
	key, keyID, err := s.keys.SigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve upload signing key: %w", err)
	}

	payload, err := json.Marshal(exposures)
	if err != nil {
		return "", err
	}

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.ES256,
		Key:       jose.JSONWebKey{Key: key, KeyID: keyID},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create JWS signer: %w", err)
	}

	object, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign upload payload: %w", err)
	}
	return object.CompactSerialize()
}
