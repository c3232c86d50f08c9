// Package objectstore wraps the S3 operations the pipeline needs: byte
// fetch, upload, and the idempotent copy-then-delete relocation that moves
// an image between the source, destination, and failure stores.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/example/cat-wrangler/internal/faults"
	"github.com/example/cat-wrangler/internal/logging"
)

// S3API is the subset of the S3 client the object store uses.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Client provides bucket-level object operations.
type Client struct {
	api    S3API
	logger *zap.Logger
}

// NewClient builds a client from the default AWS credential chain. Static
// credentials are used when both key arguments are non-empty.
func NewClient(ctx context.Context, region, accessKeyID, secretAccessKey string, logger *zap.Logger) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewFromAPI(s3.NewFromConfig(cfg), logger), nil
}

// NewFromAPI wraps an existing S3 client.
func NewFromAPI(api S3API, logger *zap.Logger) *Client {
	return &Client{api: api, logger: logger.Named("objectstore")}
}

// BucketExists verifies the bucket is reachable before any event is
// consumed, so a misconfigured worker fails fast.
func (c *Client) BucketExists(ctx context.Context, bucket string) error {
	const op = "objectstore.bucket_exists"

	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return faults.Integrity(op, fmt.Errorf("bucket %q does not exist", bucket))
		}
		return logging.NewOperationError(op, "", err)
	}
	c.logger.Info("verified bucket exists", zap.String("bucket", bucket))
	return nil
}

// GetBytes retrieves the full contents of an object.
func (c *Client) GetBytes(ctx context.Context, bucket, key string) ([]byte, error) {
	const op = "objectstore.get_bytes"

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, faults.Integrity(op, fmt.Errorf("object %s/%s missing", bucket, key))
		}
		return nil, faults.Transient(op, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, faults.Transient(op, err)
	}
	return data, nil
}

// Upload writes body to bucket/key.
func (c *Client) Upload(ctx context.Context, bucket, key string, body io.Reader) error {
	const op = "objectstore.upload"

	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return logging.NewOperationError(op, "", err)
	}
	return nil
}

// UploadFile uploads the file at path to bucket/key.
func (c *Client) UploadFile(ctx context.Context, bucket, key, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return faults.Validation("objectstore.upload_file", err)
	}
	return c.Upload(ctx, bucket, key, bytes.NewReader(data))
}

// Move relocates bucket/key into destBucket under the same key via
// copy-then-delete. A missing source with the object already present at the
// destination is treated as an earlier completed move, so redelivered
// events do not fail here.
func (c *Client) Move(ctx context.Context, sourceBucket, destBucket, key string) error {
	const op = "objectstore.move"

	_, err := c.api.CopyObject(ctx, &s3.CopyObjectInput{
		CopySource: aws.String(sourceBucket + "/" + key),
		Bucket:     aws.String(destBucket),
		Key:        aws.String(key),
	})
	if err != nil {
		if isObjectMissing(err) {
			if c.objectExists(ctx, destBucket, key) {
				c.logger.Info("object already moved",
					zap.String("key", key), zap.String("dest", destBucket))
				return nil
			}
			return faults.Integrity(op,
				fmt.Errorf("object %s/%s missing and not present at destination", sourceBucket, key))
		}
		return faults.Transient(op, err)
	}

	// Deleting an already deleted object is a no-op in S3, so the delete
	// is naturally idempotent.
	_, err = c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(sourceBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return faults.Transient(op, err)
	}

	c.logger.Info("moved object",
		zap.String("key", key),
		zap.String("source", sourceBucket),
		zap.String("dest", destBucket))
	return nil
}

// Exists reports whether bucket/key holds an object. Errors other than a
// missing object are transient.
func (c *Client) Exists(ctx context.Context, bucket, key string) (bool, error) {
	const op = "objectstore.exists"

	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isObjectMissing(err) {
			return false, nil
		}
		return false, faults.Transient(op, err)
	}
	return true, nil
}

func (c *Client) objectExists(ctx context.Context, bucket, key string) bool {
	ok, err := c.Exists(ctx, bucket, key)
	return err == nil && ok
}

func isObjectMissing(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}
