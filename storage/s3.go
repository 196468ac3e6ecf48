package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures an S3Uploader.
type S3Config struct {
	// Bucket is the name of the S3 bucket.
	Bucket string

	// Prefix is prepended to every object key, followed by the request id.
	Prefix string

	// Region is the AWS region (e.g., "us-east-1").
	Region string

	// Endpoint is the S3 endpoint URL (e.g., "http://localhost:9000" for MinIO).
	// If empty, uses the default AWS endpoint for the region.
	Endpoint string

	// AccessKeyID and SecretAccessKey are static credentials.
	// If empty, uses the default credential chain.
	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool
}

// S3Uploader puts data files at s3://<bucket>/<prefix>/<request id>/<file name>.
type S3Uploader struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// NewS3Uploader creates an uploader for the files of one dump request.
func NewS3Uploader(ctx context.Context, cfg S3Config, requestID string) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: s3 bucket name is required")
	}

	opts := []func(*config.LoadOptions) error{}

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	} else {
		opts = append(opts, config.WithRegion("us-east-1"))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.DisableLogOutputChecksumValidationSkipped = true
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Uploader{
		client:    s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:    cfg.Bucket,
		keyPrefix: path.Join(cfg.Prefix, requestID),
	}, nil
}

// Key returns the object key of a local file.
func (u *S3Uploader) Key(localPath string) string {
	return path.Join(u.keyPrefix, filepath.Base(localPath))
}

func (u *S3Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	key := u.Key(localPath)

	f, err := os.Open(localPath)
	if err != nil {
		return "", &UploadError{Op: "Upload", Key: key, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", &UploadError{Op: "Upload", Key: key, Err: err}
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", &UploadError{Op: "PutObject", Key: key, Err: err}
	}

	return "s3://" + u.bucket + "/" + key, nil
}
