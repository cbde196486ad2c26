// Package interfaces defines core interfaces and types for the exposure key
// distribution and federation backend, separating interface definitions from
// implementations.
//
// # Key Types
//
// ExposureKey is the storage and export shape of a temporary exposure key:
// 16 bytes of key material (base64 in transport), a 10-minute rolling start
// interval, a rolling period and a transmission risk level.
//
// FederationExposureKey is the federation wire shape: the same key material
// plus the issuing origin, the regions the key applies to, the test type and
// the report type.
//
// # Capability Interfaces
//
// ObjectStore: key-addressed object storage with prefix listing, backing the
// submission store and the distribution store.
//
// Signer: produces a detached signature over arbitrary bytes, identified by a
// key id. Production implementations sign through a key management service;
// tests use a local keypair.
//
// BatchStateStore: persists the federation download cursor (batch tag plus
// calendar day) and the upload watermark. An absent record is a valid initial
// state, distinct from a corrupt one.
package interfaces
