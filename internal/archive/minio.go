package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/carthingy/carthingy/pkg/log"
	"github.com/carthingy/carthingy/pkg/options"
)

type minioProvider struct {
	client     *minio.Client
	bucketName string
	region     string
	logger     log.Logger
}

// NewMinIOProvider creates a Provider backed by any S3-compatible service.
func NewMinIOProvider(opts *options.S3Options, logger log.Logger) (Provider, error) {
	if logger == nil {
		logger = log.Std()
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &minioProvider{
		client:     client,
		bucketName: opts.BucketName,
		region:     opts.Region,
		logger:     logger.WithName("archive").WithValues("bucket", opts.BucketName),
	}, nil
}

func (p *minioProvider) CheckBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		p.logger.Info("Bucket does not exist, creating")
		if err := p.client.MakeBucket(ctx, p.bucketName, minio.MakeBucketOptions{Region: p.region}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (p *minioProvider) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	info, err := p.client.PutObject(ctx, p.bucketName, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	p.logger.Debug("Uploaded object", "key", key, "size", info.Size, "etag", info.ETag)
	return nil
}

func (p *minioProvider) GeneratePresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	reqParams := make(url.Values)
	reqParams.Set("response-content-type", "application/json")

	presignedURL, err := p.client.PresignedGetObject(ctx, p.bucketName, key, expiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned url: %w", err)
	}
	return presignedURL.String(), nil
}
