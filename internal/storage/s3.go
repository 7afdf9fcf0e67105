// Package storage keeps uploaded file bytes in an S3 compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/internal/util"
	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/singleflight"
)

type Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// PublicEndpoint is the externally reachable endpoint used for
	// presigned download links.
	PublicEndpoint string
}

func ConfigFromEnv() Config {
	return Config{
		Region:         util.GetEnvString("AWS_REGION", "us-east-1"),
		Endpoint:       util.GetEnv("AWS_ENDPOINT"),
		AccessKey:      util.GetEnv("AWS_ACCESS_KEY"),
		SecretKey:      util.GetEnv("AWS_SECRET_KEY"),
		Bucket:         util.GetEnv("AWS_BUCKET"),
		PublicEndpoint: util.GetEnv("AWS_PUBLIC_ENDPOINT"),
	}
}

type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Bucket stores blobs under their storage locator as object key.
type Bucket struct {
	api    objectAPI
	client *s3.Client
	cfg    Config
	group  singleflight.Group
	retry  util.Backoff
}

func New(ctx context.Context, cfg Config) (*Bucket, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("AWS_BUCKET is not set")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(cfg.Endpoint))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	b := newBucket(client, cfg)
	b.client = client
	return b, nil
}

func newBucket(api objectAPI, cfg Config) *Bucket {
	return &Bucket{
		api:   api,
		cfg:   cfg,
		retry: util.Backoff{Tries: 3, Delay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
	}
}

// Put uploads content under locator. The content type is derived from the
// locator's extension.
func (b *Bucket) Put(ctx context.Context, locator string, content []byte) error {
	contentType := mime.TypeByExtension(path.Ext(locator))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	err := util.RetryErr(ctx, b.retry, func(ctx context.Context) error {
		_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(b.cfg.Bucket),
			Key:           aws.String(locator),
			Body:          bytes.NewReader(content),
			ContentLength: aws.Int64(int64(len(content))),
			ContentType:   aws.String(contentType),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", locator, err)
	}
	logger.Debug("[Storage] Stored object", "key", locator, "bytes", len(content))
	return nil
}

// Fetch downloads the object stored under locator. Concurrent fetches of the
// same key share one download.
func (b *Bucket) Fetch(ctx context.Context, locator string) ([]byte, error) {
	v, err, _ := b.group.Do(locator, func() (any, error) {
		return util.Retry(ctx, b.retry, func(ctx context.Context) ([]byte, error) {
			out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(b.cfg.Bucket),
				Key:    aws.String(locator),
			})
			if err != nil {
				var missing *types.NoSuchKey
				if errors.As(err, &missing) {
					return nil, util.Permanent{Err: fmt.Errorf("%w: object %s", ingest.ErrNotFound, locator)}
				}
				return nil, err
			}
			defer out.Body.Close()
			return io.ReadAll(out.Body)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", locator, err)
	}
	return v.([]byte), nil
}

func (b *Bucket) Delete(ctx context.Context, locator string) error {
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(locator),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", locator, err)
	}
	return nil
}

// DownloadLink presigns a GET of locator against the public endpoint. A
// path on the public endpoint is kept as prefix of the signed URL.
func (b *Bucket) DownloadLink(ctx context.Context, locator string, ttl time.Duration) (string, error) {
	if b.client == nil {
		return "", errors.New("download links need a live s3 client")
	}
	public, err := url.Parse(b.cfg.PublicEndpoint)
	if err != nil || public.Scheme == "" || public.Host == "" {
		return "", fmt.Errorf("invalid AWS_PUBLIC_ENDPOINT %q", b.cfg.PublicEndpoint)
	}
	prefix := strings.TrimSuffix(public.Path, "/")

	base := b.client.Options()
	presigner := s3.NewPresignClient(s3.NewFromConfig(
		aws.Config{
			Region:      base.Region,
			Credentials: base.Credentials,
			HTTPClient:  base.HTTPClient,
		},
		func(o *s3.Options) {
			o.BaseEndpoint = aws.String(public.Scheme + "://" + public.Host)
			o.UsePathStyle = true
		},
	))

	out, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(locator),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", locator, err)
	}
	if prefix == "" {
		return out.URL, nil
	}

	signed, err := url.Parse(out.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse presigned url: %w", err)
	}
	signed.Path = prefix + signed.Path
	return signed.String(), nil
}
