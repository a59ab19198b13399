// Package archive stores finished session records in S3-compatible object storage.
package archive

import (
	"context"
	"time"
)

// Provider is the object store records are written to.
type Provider interface {
	// CheckBucket makes sure the bucket exists, creating it when missing.
	CheckBucket(ctx context.Context) error

	// PutObject uploads data under key.
	PutObject(ctx context.Context, key string, data []byte, contentType string) error

	// GeneratePresignedURL returns a temporary download link for key.
	GeneratePresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}
