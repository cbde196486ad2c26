// Package kms provides the signing capabilities of the backend.
//
// Export archives are signed through the interfaces.Signer capability:
// AWSSigner signs through the AWS KMS asymmetric signing API in production,
// LocalSigner signs with an in-process ECDSA P-256 key for development and
// tests. Signing failures are never retried here: a failed signature aborts
// the current run, because archive writing is all-or-nothing per period.
//
// Federation upload payloads are signed as JWS (ES256) by the federation
// package; this package contributes the KeySource capability that resolves
// the signing key at call time, either from a static in-process key or from
// a HashiCorp Vault KV-v2 secret.
package kms
