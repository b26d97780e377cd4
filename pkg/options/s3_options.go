package options

import (
	"errors"
	"strings"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options configure the bucket that receives debug dumps when the dump
// target is "s3". Any S3 compatible store works, MinIO included.
type S3Options struct {
	Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey string `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL          bool   `json:"use-ssl" mapstructure:"use-ssl"`
	Region          string `json:"region" mapstructure:"region"`
	BucketName      string `json:"bucket-name" mapstructure:"bucket-name"`

	// Prefix is prepended to every dump object name.
	Prefix string `json:"prefix" mapstructure:"prefix"`

	// CreateBucket makes the bucket on startup when it does not exist.
	CreateBucket bool `json:"create-bucket" mapstructure:"create-bucket"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		Endpoint:     "localhost:9000",
		Region:       "us-east-1",
		BucketName:   "byd-vehicle-debug",
		Prefix:       "debug/",
		CreateBucket: true,
	}
}

func (o *S3Options) Validate() []error {
	var errs []error
	if o.Endpoint == "" {
		errs = append(errs, errors.New("s3.endpoint must not be empty"))
	} else if strings.Contains(o.Endpoint, "://") {
		errs = append(errs, errors.New("s3.endpoint is host[:port] without a scheme, use s3.use-ssl for https"))
	}
	if o.BucketName == "" {
		errs = append(errs, errors.New("s3.bucket-name must not be empty"))
	}
	if strings.HasPrefix(o.Prefix, "/") {
		errs = append(errs, errors.New("s3.prefix must not start with a slash"))
	}
	return errs
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "S3 endpoint as host[:port], e.g. s3.amazonaws.com or minio.local:9000.")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "S3 access key ID.")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "S3 secret access key.")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Connect to the S3 endpoint over TLS.")
	fs.StringVar(&o.Region, "s3.region", o.Region, "S3 region.")
	fs.StringVar(&o.BucketName, "s3.bucket-name", o.BucketName, "Bucket that receives debug dumps.")
	fs.StringVar(&o.Prefix, "s3.prefix", o.Prefix, "Object name prefix for debug dumps.")
	fs.BoolVar(&o.CreateBucket, "s3.create-bucket", o.CreateBucket, "Create the bucket on startup when it is missing.")
}
