package service

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/begoneskadedjur/kundportal-sub013/config"
)

// PayloadArchiver keeps raw webhook bodies for replay
type PayloadArchiver interface {
	Archive(ctx context.Context, contractID string, raw []byte) (string, error)
}

// MinioArchive stores raw webhook bodies in a MinIO bucket
type MinioArchive struct {
	client *minio.Client
	bucket string
	prefix string
	now    func() time.Time
	newID  func() string
}

func NewMinioArchive(cfg *config.ArchiveConfig) (*MinioArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioArchive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (a *MinioArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// ObjectKey builds <prefix>/YYYY/MM/DD/<contractID>/<id>.json
func ObjectKey(prefix, contractID, id string, at time.Time) string {
	contractID = strings.NewReplacer("/", "_", "..", "_").Replace(contractID)
	if contractID == "" {
		contractID = "unknown"
	}
	return path.Join(prefix, at.Format("2006/01/02"), contractID, id+".json")
}

// Archive uploads raw and returns its object key
func (a *MinioArchive) Archive(ctx context.Context, contractID string, raw []byte) (string, error) {
	key := ObjectKey(a.prefix, contractID, a.newID(), a.now())
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(raw), int64(len(raw)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive payload: %w", err)
	}
	return key, nil
}
