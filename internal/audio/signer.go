package audio

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Signer turns a stored recording key into a URL the provider can fetch.
type Signer interface {
	SignedURL(ctx context.Context, key string) (string, error)
}

var ErrEmptyKey = errors.New("audio: empty key")

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
	TTL       time.Duration
}

// S3Signer presigns GET requests for recordings in one bucket.
type S3Signer struct {
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

func NewS3Signer(ctx context.Context, cfg S3Config) (*S3Signer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewS3SignerFromClient(client, cfg.Bucket, cfg.TTL), nil
}

func NewS3SignerFromClient(client *s3.Client, bucket string, ttl time.Duration) *S3Signer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &S3Signer{presign: s3.NewPresignClient(client), bucket: bucket, ttl: ttl}
}

func (s *S3Signer) SignedURL(ctx context.Context, key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrEmptyKey
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// PublicSigner serves recordings from a public base URL without signing.
// Used when no bucket is configured.
type PublicSigner struct {
	base string
}

func NewPublicSigner(baseURL string) PublicSigner {
	return PublicSigner{base: strings.TrimRight(baseURL, "/")}
}

func (p PublicSigner) SignedURL(ctx context.Context, key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrEmptyKey
	}
	if u, err := url.Parse(key); err == nil && u.IsAbs() {
		return key, nil
	}
	return p.base + "/" + key, nil
}
