package audio

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestS3SignerPresignsPathStyleURL(t *testing.T) {
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String("http://minio.local:9000"),
		UsePathStyle: true,
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET"}, nil
		}),
	})
	s := NewS3SignerFromClient(client, "recordings", 15*time.Minute)

	u, err := s.SignedURL(context.Background(), "/ws1/voicedrop.mp3")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.HasPrefix(u, "http://minio.local:9000/recordings/ws1/voicedrop.mp3?") {
		t.Fatalf("unexpected url %s", u)
	}
	for _, want := range []string{"X-Amz-Signature=", "X-Amz-Expires=900"} {
		if !strings.Contains(u, want) {
			t.Fatalf("expected %q in %s", want, u)
		}
	}

	if _, err := s.SignedURL(context.Background(), " "); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestPublicSigner(t *testing.T) {
	p := NewPublicSigner("https://cdn.example/audio/")
	u, _ := p.SignedURL(context.Background(), "ws1/drop.mp3")
	if u != "https://cdn.example/audio/ws1/drop.mp3" {
		t.Fatalf("unexpected url %s", u)
	}
	abs, _ := p.SignedURL(context.Background(), "https://other.example/x.mp3")
	if abs != "https://other.example/x.mp3" {
		t.Fatalf("absolute keys pass through, got %s", abs)
	}
}
