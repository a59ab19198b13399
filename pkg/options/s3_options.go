package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options configures the object storage session records are archived to.
type S3Options struct {
	Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey string `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL          bool   `json:"use-ssl" mapstructure:"use-ssl"`
	BucketName      string `json:"bucket-name" mapstructure:"bucket-name"`
	Region          string `json:"region" mapstructure:"region"`

	// PresignExpiry is the lifetime of the share URL returned for an archived record.
	PresignExpiry time.Duration `json:"presign-expiry" mapstructure:"presign-expiry"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		Endpoint:      "127.0.0.1:9000",
		UseSSL:        false,
		BucketName:    "vehicle-records",
		Region:        "us-east-1",
		PresignExpiry: 24 * time.Hour,
	}
}

func (o *S3Options) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.Endpoint == "" {
		errs = append(errs, errors.New("--s3.endpoint must not be empty"))
	}
	if o.BucketName == "" {
		errs = append(errs, errors.New("--s3.bucket-name must not be empty"))
	}
	if o.PresignExpiry < time.Second || o.PresignExpiry > 7*24*time.Hour {
		errs = append(errs, errors.New("--s3.presign-expiry must be between 1s and 7 days"))
	}

	return errs
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "S3 service endpoint (e.g. s3.amazonaws.com or minio.local:9000)")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "S3 access key ID")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "S3 secret access key")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Enable SSL for S3 connection")
	fs.StringVar(&o.BucketName, "s3.bucket-name", o.BucketName, "S3 bucket name for archived vehicle records")
	fs.StringVar(&o.Region, "s3.region", o.Region, "S3 region")
	fs.DurationVar(&o.PresignExpiry, "s3.presign-expiry", o.PresignExpiry, "Lifetime of share URLs for archived records")
}
