package interfaces

import "context"

// Signature is a detached cryptographic signature over arbitrary bytes,
// identified by the signing key and algorithm that produced it.
type Signature struct {
	KeyID     string
	Algorithm string
	Bytes     []byte
}

// Signer produces signatures for export artifacts. Implementations must not
// retry internally: a signing failure aborts the current run, since archive
// writing is all-or-nothing per period.
type Signer interface {
	Sign(ctx context.Context, data []byte) (Signature, error)
}
