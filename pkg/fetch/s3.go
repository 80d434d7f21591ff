package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	kinoconfig "github.com/ExpertVagabond/kino/pkg/config"
)

// s3Origin fetches manifests and segments staged in an S3-compatible
// object store, addressed by s3://bucket/key URLs.
type s3Origin struct {
	client *s3.Client
	bucket string
}

// newS3Origin builds an S3 client from the SDK's S3Config, following the
// same default-credential-chain and path-style-endpoint pattern the
// teacher's own object storage backend uses.
func newS3Origin(ctx context.Context, cfg kinoconfig.S3Config) (*s3Origin, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.UsePathStyle
		},
	}
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &s3Origin{
		client: s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
	}, nil
}

// get downloads an object addressed either by a bare key (resolved
// against the configured default bucket) or a full s3://bucket/key URL.
func (o *s3Origin) get(ctx context.Context, u *url.URL) ([]byte, error) {
	bucket, key := o.resolve(u)

	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

// resolve splits an s3:// URL into bucket and key, falling back to the
// client's configured default bucket when the URL carries only a key
// (host is empty, e.g. "s3:///path/key").
func (o *s3Origin) resolve(u *url.URL) (bucket, key string) {
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" {
		bucket = o.bucket
	}
	return bucket, key
}
