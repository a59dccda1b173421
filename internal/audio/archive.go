package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrArchiveDisabled is returned by NopArchive.URL.
var ErrArchiveDisabled = errors.New("audio: archive disabled")

// PresignExpiry is how long a download URL from S3Archive.URL stays valid.
const PresignExpiry = 15 * time.Minute

// Archive mirrors stored audio to durable storage. Keys are the names
// returned by Store.Save.
type Archive interface {
	Put(ctx context.Context, key, localPath string) error
	Delete(ctx context.Context, key string) error
	// URL returns a time-limited download link for key.
	URL(ctx context.Context, key string) (string, error)
}

// NopArchive is used when no bucket is configured.
type NopArchive struct{}

func (NopArchive) Put(context.Context, string, string) error { return nil }
func (NopArchive) Delete(context.Context, string) error      { return nil }
func (NopArchive) URL(context.Context, string) (string, error) {
	return "", ErrArchiveDisabled
}

// S3Config configures S3Archive. Endpoint is optional; set it for MinIO or
// another S3-compatible server.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// objectAPI is the subset of *s3.Client used here.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Archive stores audio in an S3 bucket.
type S3Archive struct {
	bucket  string
	client  objectAPI
	presign presignAPI
}

// NewS3Archive builds a client from cfg. Static credentials are used when
// both keys are set; otherwise the SDK's default chain applies.
func NewS3Archive(ctx context.Context, cfg S3Config) (*S3Archive, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("audio: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Archive{
		bucket:  cfg.Bucket,
		client:  client,
		presign: s3.NewPresignClient(client),
	}, nil
}

// Put uploads the file at localPath under key.
func (a *S3Archive) Put(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("audio: opening %s for archive: %w", localPath, err)
	}
	defer f.Close()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(ContentType(key)),
	})
	if err != nil {
		return fmt.Errorf("audio: archiving %s: %w", key, err)
	}
	return nil
}

// Delete removes key from the bucket. S3 treats a missing key as success.
func (a *S3Archive) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("audio: deleting archived %s: %w", key, err)
	}
	return nil
}

// URL returns a presigned GET URL valid for PresignExpiry.
func (a *S3Archive) URL(ctx context.Context, key string) (string, error) {
	req, err := a.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(PresignExpiry))
	if err != nil {
		return "", fmt.Errorf("audio: presigning %s: %w", key, err)
	}
	return req.URL, nil
}
