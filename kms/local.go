package kms

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/expnotify/key-distribution-backend/interfaces"
)

// LocalSigner implements interfaces.Signer with an in-process ECDSA P-256
// key. It serves development setups and tests; production uses AWSSigner.
type LocalSigner struct {
	key   *ecdsa.PrivateKey
	keyID string
}

// NewLocalSigner generates a fresh P-256 keypair.
func NewLocalSigner(keyID string) (*LocalSigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return &LocalSigner{key: key, keyID: keyID}, nil
}

// NewLocalSignerFromPEM loads a PEM-encoded EC or PKCS#8 private key.
func NewLocalSignerFromPEM(keyID string, pemBytes []byte) (*LocalSigner, error) {
	key, err := ParseECPrivateKeyPEM(pemBytes)
	if err != nil {
		return nil, err
	}
	return &LocalSigner{key: key, keyID: keyID}, nil
}

// Sign produces an ASN.1 DER ECDSA signature over the SHA-256 digest of data.
func (s *LocalSigner) Sign(ctx context.Context, data []byte) (interfaces.Signature, error) {
	digest := sha256.Sum256(data)

	sig, err := ecdsa.SignASN1(rand.Reader, s.key, digest[:])
	if err != nil {
		return interfaces.Signature{}, fmt.Errorf("local signing failed: %w", err)
	}

	return interfaces.Signature{
		KeyID:     s.keyID,
		Algorithm: SignatureAlgorithmOID,
		Bytes:     sig,
	}, nil
}

// PublicKey returns the verification key, for tests that verify signatures.
func (s *LocalSigner) PublicKey() *ecdsa.PublicKey {
	return &s.key.PublicKey
}

// ParseECPrivateKeyPEM decodes a PEM block holding an EC private key in
// either SEC 1 or PKCS#8 encoding.
func ParseECPrivateKeyPEM(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found in key material")
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not an EC key")
	}
	return key, nil
}
