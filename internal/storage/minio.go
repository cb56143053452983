package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOStore talks to any S3-compatible endpoint (Huawei OBS, LT OSS)
// through minio-go. It implements both SourceStore and TargetStore.
type MinIOStore struct {
	client *minio.Client
}

// NewMinIOStore creates a client for an S3-compatible endpoint
func NewMinIOStore(cfg Config) (*MinIOStore, error) {
	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	return &MinIOStore{client: client}, nil
}

// cleanEndpoint removes protocol and path from endpoint URL to get host:port format
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	return parsedURL.Host, nil
}

// ListObjects lists objects with prefix
func (c *MinIOStore) ListObjects(ctx context.Context, bucket, prefix string) (<-chan ObjectInfo, <-chan error) {
	objCh := make(chan ObjectInfo)
	errCh := make(chan error, 1)

	go func() {
		defer close(objCh)
		defer close(errCh)

		for obj := range c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				errCh <- obj.Err
				return
			}

			select {
			case objCh <- ObjectInfo{
				Key:          obj.Key,
				Size:         obj.Size,
				ETag:         NormalizeETag(obj.ETag),
				LastModified: obj.LastModified,
				ContentType:  obj.ContentType,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return objCh, errCh
}

// GetObject reads a whole object into memory
func (c *MinIOStore) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	return io.ReadAll(obj)
}

// GetObjectStream opens an object for streaming reads
func (c *MinIOStore) GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

// StatObject gets object metadata
func (c *MinIOStore) StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	info, err := c.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, err
	}

	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         NormalizeETag(info.ETag),
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
		Metadata:     info.UserMetadata,
	}, nil
}

// PutObject uploads an object in a single request
func (c *MinIOStore) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts PutOptions) (string, error) {
	info, err := c.client.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return "", err
	}
	return NormalizeETag(info.ETag), nil
}

// PutObjectMultipart uploads an object in partSize chunks via the Core API
func (c *MinIOStore) PutObjectMultipart(ctx context.Context, bucket, key string, reader io.Reader, size, partSize int64, opts PutOptions) (string, error) {
	putOpts := minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	}

	core := &minio.Core{Client: c.client}
	uploadID, err := core.NewMultipartUpload(ctx, bucket, key, putOpts)
	if err != nil {
		return "", fmt.Errorf("failed to initiate multipart upload: %w", err)
	}

	partCount := int(math.Ceil(float64(size) / float64(partSize)))
	parts := make([]minio.CompletePart, 0, partCount)

	for partNum := 1; partNum <= partCount; partNum++ {
		chunk := partSize
		if int64(partNum-1)*partSize+chunk > size {
			chunk = size - int64(partNum-1)*partSize
		}

		partData := make([]byte, chunk)
		n, err := io.ReadFull(reader, partData)
		if err != nil && err != io.ErrUnexpectedEOF {
			core.AbortMultipartUpload(ctx, bucket, key, uploadID)
			return "", fmt.Errorf("failed to read part %d: %w", partNum, err)
		}
		partData = partData[:n]

		part, err := core.PutObjectPart(ctx, bucket, key, uploadID, partNum,
			bytes.NewReader(partData), int64(len(partData)), minio.PutObjectPartOptions{})
		if err != nil {
			core.AbortMultipartUpload(ctx, bucket, key, uploadID)
			return "", fmt.Errorf("failed to upload part %d: %w", partNum, err)
		}

		parts = append(parts, minio.CompletePart{
			PartNumber: partNum,
			ETag:       part.ETag,
		})
	}

	info, err := core.CompleteMultipartUpload(ctx, bucket, key, uploadID, parts, minio.PutObjectOptions{})
	if err != nil {
		return "", err
	}
	return NormalizeETag(info.ETag), nil
}
