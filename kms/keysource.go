package kms

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// KeySource resolves the federation JWS signing key at call time, KMS-style:
// callers hold a key id, not key material.
type KeySource interface {
	SigningKey(ctx context.Context) (*ecdsa.PrivateKey, string, error)
}

// StaticKeySource serves a fixed in-process key. Development and tests only.
type StaticKeySource struct {
	Key   *ecdsa.PrivateKey
	KeyID string
}

// SigningKey returns the configured key and key id.
func (s *StaticKeySource) SigningKey(ctx context.Context) (*ecdsa.PrivateKey, string, error) {
	return s.Key, s.KeyID, nil
}

// VaultKeySource reads a PEM-encoded ES256 private key from a HashiCorp
// Vault KV-v2 secret. The key is resolved on every call so that rotation
// takes effect without a restart.
type VaultKeySource struct {
	client     *api.Client
	mountPath  string
	secretPath string
	field      string
	keyID      string
	log        *slog.Logger
}

// NewVaultKeySource creates a key source reading the given secret field.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token
//   - mountPath: KV-v2 mount path (e.g. "secret")
//   - secretPath: path within the mount (e.g. "federation/signing-key")
//   - field: secret field holding the PEM key
//   - keyID: key id carried in the JWS header
func NewVaultKeySource(address, token, mountPath, secretPath, field, keyID string, log *slog.Logger) (*VaultKeySource, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultKeySource{
		client:     client,
		mountPath:  strings.TrimSuffix(mountPath, "/"),
		secretPath: strings.Trim(secretPath, "/"),
		field:      field,
		keyID:      keyID,
		log:        log,
	}, nil
}

// SigningKey fetches and parses the signing key.
func (v *VaultKeySource) SigningKey(ctx context.Context) (*ecdsa.PrivateKey, string, error) {
	secret, err := v.client.KVv2(v.mountPath).Get(ctx, v.secretPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read signing key from Vault: %w", err)
	}

	pemValue, ok := secret.Data[v.field].(string)
	if !ok {
		return nil, "", fmt.Errorf("signing key field %q missing or not a string in Vault secret", v.field)
	}

	key, err := ParseECPrivateKeyPEM([]byte(pemValue))
	if err != nil {
		return nil, "", fmt.Errorf("invalid signing key in Vault: %w", err)
	}

	v.log.Debug("Resolved federation signing key from Vault",
		slog.String("mount", v.mountPath),
		slog.String("path", v.secretPath),
		slog.String("key_id", v.keyID))

	return key, v.keyID, nil
}
