package cloudsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jaakkos/sharedstore/internal/domain"
)

// MinioConfig locates an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
}

// MinioContainer is a Container backed by an S3-compatible bucket.
type MinioContainer struct {
	client *minio.Client
	bucket string
}

// ErrNotConfigured is returned by container operations when no remote
// account is configured.
var ErrNotConfigured = errors.New("remote container not configured")

// NewMinioContainer returns a container for cfg. Without an endpoint, bucket
// or access key the container reports no account.
func NewMinioContainer(cfg MinioConfig) (*MinioContainer, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKey == "" {
		return &MinioContainer{bucket: cfg.Bucket}, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioContainer{client: client, bucket: cfg.Bucket}, nil
}

// translateMinioError maps S3 error codes onto the container sentinels.
func translateMinioError(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	if resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return err
}

// Get implements Container.
func (c *MinioContainer) Get(ctx context.Context, key string) ([]byte, error) {
	if c.client == nil {
		return nil, ErrNotConfigured
	}
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinioError(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateMinioError(err)
	}
	return data, nil
}

// Put implements Container.
func (c *MinioContainer) Put(ctx context.Context, key string, data []byte) error {
	if c.client == nil {
		return ErrNotConfigured
	}
	_, err := c.client.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return translateMinioError(err)
}

// Delete implements Container.
func (c *MinioContainer) Delete(ctx context.Context, key string) error {
	if c.client == nil {
		return ErrNotConfigured
	}
	err := translateMinioError(c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Check implements Container.
func (c *MinioContainer) Check(ctx context.Context) (domain.AccountStatus, error) {
	if c.client == nil {
		return domain.AccountNoAccount, nil
	}
	ok, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		if errors.Is(translateMinioError(err), ErrAccessDenied) {
			return domain.AccountRestricted, nil
		}
		return domain.AccountIndeterminate, err
	}
	if !ok {
		return domain.AccountNoAccount, nil
	}
	return domain.AccountAvailable, nil
}

// Watch implements Container with bucket notifications filtered to the key prefix.
func (c *MinioContainer) Watch(ctx context.Context, key string, onChange func()) error {
	if c.client == nil {
		return ErrNotConfigured
	}
	events := c.client.ListenBucketNotification(ctx, c.bucket, key, "", []string{
		"s3:ObjectCreated:*",
		"s3:ObjectRemoved:*",
	})
	go func() {
		for info := range events {
			if info.Err != nil {
				continue
			}
			if len(info.Records) > 0 {
				onChange()
			}
		}
	}()
	return nil
}

var _ Container = (*MinioContainer)(nil)
