// Package storage resolves opaque media references to byte streams and
// publishes local files back to the object store. A reference is either
// an object name inside the configured bucket or an absolute http(s)
// URL.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
)

type Client struct {
	mc     *minio.Client
	bucket string
	http   *http.Client
}

func New(mc *minio.Client, bucket string) *Client {
	return &Client{
		mc:     mc,
		bucket: bucket,
		http:   http.DefaultClient,
	}
}

// Resolve returns a readable stream for sourcePath. The caller owns the
// returned ReadCloser.
func (c *Client) Resolve(ctx context.Context, sourcePath string) (io.ReadCloser, error) {
	if IsURL(sourcePath) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourcePath, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch %s: unexpected status %d", sourcePath, resp.StatusCode)
		}
		return resp.Body, nil
	}

	obj, err := c.mc.GetObject(ctx, c.bucket, sourcePath, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; surface missing objects here instead of at the
	// first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, err
	}
	return obj, nil
}

// Upload copies a local file into the bucket and returns the object
// name under which it was stored.
func (c *Client) Upload(ctx context.Context, localPath, objectName string) (string, error) {
	objectName = strings.ReplaceAll(objectName, "\\", "/")
	if _, err := c.mc.FPutObject(ctx, c.bucket, objectName, localPath, minio.PutObjectOptions{}); err != nil {
		return "", err
	}
	return objectName, nil
}

// Put streams r into the bucket, for request-time uploads.
func (c *Client) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error) {
	objectName = strings.ReplaceAll(objectName, "\\", "/")
	if _, err := c.mc.PutObject(ctx, c.bucket, objectName, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", err
	}
	return objectName, nil
}

func IsURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
