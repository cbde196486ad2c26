package kms

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSignerProducesVerifiableSignature(t *testing.T) {
	signer, err := NewLocalSigner("234")
	require.NoError(t, err)

	data := []byte("export content")
	sig, err := signer.Sign(context.Background(), data)
	require.NoError(t, err)

	assert.Equal(t, "234", sig.KeyID)
	assert.Equal(t, SignatureAlgorithmOID, sig.Algorithm)

	digest := sha256.Sum256(data)
	assert.True(t, ecdsa.VerifyASN1(signer.PublicKey(), digest[:], sig.Bytes))
}

func TestNewLocalSignerFromPEM(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	signer, err := NewLocalSignerFromPEM("1", pemBytes)
	require.NoError(t, err)
	assert.True(t, signer.PublicKey().Equal(&key.PublicKey))
}

func TestParseECPrivateKeyPEMPKCS8(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	parsed, err := ParseECPrivateKeyPEM(pemBytes)
	require.NoError(t, err)
	assert.True(t, parsed.PublicKey.Equal(&key.PublicKey))
}

func TestParseECPrivateKeyPEMRejectsGarbage(t *testing.T) {
	_, err := ParseECPrivateKeyPEM([]byte("not a key"))
	assert.Error(t, err)
}
