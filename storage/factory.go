package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/expnotify/key-distribution-backend/interfaces"
)

// Factory creates object stores from URI strings.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a new factory instance.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// StoreFor creates an object store from a location URI.
//
// Supported schemes:
//   - s3://bucket/prefix/?region=eu-west-2&endpoint=...&access_key=...&secret_key=...
//   - file:///path/to/dir
//   - mem://
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *Factory) StoreFor(locationURI string) (interfaces.ObjectStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid store location URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "s3":
		return f.createS3Store(u)
	case "file":
		return NewFileStore(u.Path, f.log)
	case "mem":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", u.Scheme)
	}
}

func (f *Factory) createS3Store(u *url.URL) (interfaces.ObjectStore, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("missing bucket name in S3 URI")
	}

	prefix := strings.TrimPrefix(u.Path, "/")
	query := u.Query()

	region := query.Get("region")
	if region == "" {
		return nil, fmt.Errorf("missing region parameter in S3 URI")
	}

	return NewS3Store(
		bucket,
		prefix,
		region,
		query.Get("endpoint"),
		query.Get("access_key"),
		query.Get("secret_key"),
		f.log,
	)
}
