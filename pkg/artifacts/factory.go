package artifacts

import (
	"context"
	"fmt"
	"os"
)

// StoreType names an artifact storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv picks a backend from the environment. defaultDir is used
// by the filesystem store when DOOVER_ARTIFACT_DIR is unset.
//
// Environment variables:
//   - DOOVER_ARTIFACT_STORE: "fs" (default), "s3", or "gcs"
//   - DOOVER_ARTIFACT_DIR: filesystem store directory
//
// For S3:
//   - DOOVER_ARTIFACT_S3_BUCKET (required)
//   - DOOVER_ARTIFACT_S3_REGION or AWS_REGION
//   - DOOVER_ARTIFACT_S3_ENDPOINT, DOOVER_ARTIFACT_S3_PREFIX (optional)
//
// For GCS (builds with -tags gcp):
//   - DOOVER_ARTIFACT_GCS_BUCKET (required)
//   - DOOVER_ARTIFACT_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context, defaultDir string) (Store, error) {
	storeType := StoreType(os.Getenv("DOOVER_ARTIFACT_STORE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		dir := os.Getenv("DOOVER_ARTIFACT_DIR")
		if dir == "" {
			dir = defaultDir
		}
		return NewFileStore(dir)
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", storeType)
	}
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("DOOVER_ARTIFACT_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("DOOVER_ARTIFACT_S3_BUCKET is required for S3 storage")
	}
	region := os.Getenv("DOOVER_ARTIFACT_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("DOOVER_ARTIFACT_S3_ENDPOINT"),
		Prefix:   os.Getenv("DOOVER_ARTIFACT_S3_PREFIX"),
	})
}
