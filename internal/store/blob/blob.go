// Package blob stores raw document bytes and image thumbnails in an
// S3-compatible object store (MinIO in development). Keys are deterministic
// per document so re-running an ingest overwrites rather than duplicates.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperr "github.com/llcontext/llcd/internal/errors"
)

// Store is the object-store surface the ingest and lifecycle pipelines use.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys []string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Healthy(ctx context.Context) error
}

type Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// PathStyle must be true for MinIO.
	PathStyle bool
}

// Client wraps one bucket of an S3-compatible store.
type Client struct {
	s3     *s3.Client
	bucket string
	logger *zap.Logger
}

func New(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return &Client{s3: client, bucket: opts.Bucket, logger: logger.Named("blob")}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}
	_, err = c.s3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}
	c.logger.Info("created blob bucket", zap.String("bucket", c.bucket))
	return nil
}

// DocumentKey returns the canonical object key for a document's raw bytes.
func DocumentKey(containerID, docID uuid.UUID) string {
	return fmt.Sprintf("containers/%s/docs/%s/raw", containerID, docID)
}

// ThumbnailKey returns the object key for an image document's thumbnail.
func ThumbnailKey(containerID, docID uuid.UUID) string {
	return fmt.Sprintf("containers/%s/docs/%s/thumb", containerID, docID)
}

// ContainerPrefix returns the key prefix covering everything a container owns.
func ContainerPrefix(containerID uuid.UUID) string {
	return fmt.Sprintf("containers/%s/", containerID)
}

func (c *Client) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return apperr.Unavailable("BLOB_UNAVAILABLE", "blob store write failed", err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, apperr.NotFound("BLOB_NOT_FOUND", "object does not exist")
		}
		return nil, apperr.Unavailable("BLOB_UNAVAILABLE", "blob store read failed", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (c *Client) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objs := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		objs[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}
	_, err := c.s3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(c.bucket),
		Delete: &types.Delete{Objects: objs, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return apperr.Unavailable("BLOB_UNAVAILABLE", "blob store delete failed", err)
	}
	return nil
}

// DeletePrefix removes every object under prefix, paging through listings.
// Used by hard container deletion.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) error {
	var token *string
	for {
		page, err := c.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return apperr.Unavailable("BLOB_UNAVAILABLE", "blob store list failed", err)
		}
		keys := make([]string, 0, len(page.Contents))
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if err := c.Delete(ctx, keys); err != nil {
			return err
		}
		if !aws.ToBool(page.IsTruncated) {
			return nil
		}
		token = page.NextContinuationToken
	}
}

func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		return apperr.Unavailable("BLOB_UNAVAILABLE", "blob store unhealthy", err)
	}
	return nil
}
