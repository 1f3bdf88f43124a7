// Package export materializes a warehouse table as a CSV file on local disk.
package export

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrTableNotFound = errors.New("table export not found")

// Exporter writes the CSV of tableID to dest and returns its size in bytes.
type Exporter interface {
	Export(ctx context.Context, tableID, dest string) (int64, error)
}

type Config struct {
	Type string // "dir" or "minio"

	Dir string

	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string
}

// New builds the exporter selected by cfg.Type.
func New(cfg Config) (Exporter, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "dir":
		if cfg.Dir == "" {
			return nil, errors.New("export dir is not set")
		}
		return &DirExporter{Root: cfg.Dir}, nil
	case "minio", "s3":
		return NewMinioExporter(cfg)
	default:
		return nil, fmt.Errorf("unknown export type %q", cfg.Type)
	}
}

// DirExporter reads exports dropped as <Root>/<tableID>.csv.
type DirExporter struct {
	Root string
}

func (e *DirExporter) Export(ctx context.Context, tableID, dest string) (int64, error) {
	src, err := os.Open(filepath.Join(e.Root, objectName(tableID)))
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
	}
	if err != nil {
		return 0, err
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, &ctxReader{ctx: ctx, r: src})
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("copy export of %s: %w", tableID, err)
	}
	return n, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// MinioExporter downloads exports from an S3-compatible bucket, stored as
// <Prefix><tableID>.csv.
type MinioExporter struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinioExporter(cfg Config) (*MinioExporter, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio export needs endpoint and bucket")
	}
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.Secure,
		Transport:    tr,
		Region:       region,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %v", err)
	}
	return &MinioExporter{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (e *MinioExporter) Export(ctx context.Context, tableID, dest string) (int64, error) {
	key := e.prefix + objectName(tableID)
	err := e.client.FGetObject(ctx, e.bucket, key, dest, minio.GetObjectOptions{})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return 0, fmt.Errorf("%w: %s/%s", ErrTableNotFound, e.bucket, key)
		}
		return 0, fmt.Errorf("download %s/%s: %w", e.bucket, key, err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func objectName(tableID string) string {
	return tableID + ".csv"
}
