// Package storage provides key-addressed object stores with pluggable
// backends behind the interfaces.ObjectStore interface:
//
//   - S3-compatible storage for cloud deployments
//   - File system storage for local development and testing
//   - In-memory storage for tests
//
// # Storage URI Format
//
// Stores are specified using URI format:
//
//	s3://bucket-name/prefix/?region=eu-west-2&endpoint=...
//	file:///var/lib/keydist/submissions/
//	mem://
//
// Unlike content-addressed systems, object keys here are caller-chosen and
// deterministic: the distribution layout derives archive keys from period
// boundaries, and the federation acceptor derives payload keys from origin,
// date and batch tag. Prefix listing is part of the contract because both the
// submission repository and the distribution garbage collector enumerate
// objects under a prefix.
package storage
