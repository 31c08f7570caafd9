// Package ingest implements S3 client construction for public data buckets.
package ingest

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewAnonymousClient builds an S3 client with anonymous credentials. The
// upstream buckets are public, so no signing is needed and no credential
// chain lookup should ever block a retrieval. An empty endpointURL keeps the
// standard AWS endpoint.
func NewAnonymousClient(ctx context.Context, region, endpointURL string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpointURL != "" {
			o.BaseEndpoint = aws.String(endpointURL)
		}
	}), nil
}

// ObjectClient adapts the raw S3 API to the narrow S3Client interface.
type ObjectClient struct {
	api *s3.Client
}

// NewObjectClient wraps api.
func NewObjectClient(api *s3.Client) *ObjectClient {
	return &ObjectClient{api: api}
}

// GetObject fetches bucket/key and returns its body stream.
func (c *ObjectClient) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// DefaultClientFactory returns a ClientFactory building fresh anonymous
// clients. The fallback path uses it to give each worker an isolated client
// when the shared ones are suspect.
func DefaultClientFactory(region, endpointURL string) ClientFactory {
	return func(ctx context.Context) (S3ListClient, S3Client, error) {
		api, err := NewAnonymousClient(ctx, region, endpointURL)
		if err != nil {
			return nil, nil, err
		}
		return api, NewObjectClient(api), nil
	}
}
