package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/medialab-backend/internal/platform/blob"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
)

// Constructor seams so tests can substitute fakes without touching real
// storage backends.
var (
	newLocalStore = blob.NewLocalStore
	newGCSStore   = blob.NewGCSStore
)

type StorageBootstrapErrorCode string

const (
	StorageBootstrapErrorInvalidMode   StorageBootstrapErrorCode = "invalid_mode"
	StorageBootstrapErrorMissingBucket StorageBootstrapErrorCode = "missing_bucket"
	StorageBootstrapErrorConnectFailed StorageBootstrapErrorCode = "connect_failed"
)

type StorageBootstrapError struct {
	Code  StorageBootstrapErrorCode
	Mode  string
	Cause error
}

func (e *StorageBootstrapError) Error() string {
	if e == nil {
		return "blob storage bootstrap failed"
	}
	return fmt.Sprintf("blob storage bootstrap failed (code=%s mode=%q): %v", e.Code, e.Mode, e.Cause)
}

func (e *StorageBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func resolveBlobStore(ctx context.Context, log *logger.Logger, cfg Config) (blob.Store, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.StorageMode))
	if mode == "" {
		mode = "local"
	}
	log.Info("Selecting blob storage provider", "mode", mode)

	switch mode {
	case "local":
		store, err := newLocalStore(log, cfg.BlobRoot)
		if err != nil {
			return nil, &StorageBootstrapError{Code: StorageBootstrapErrorConnectFailed, Mode: mode, Cause: err}
		}
		return store, nil
	case "gcs":
		if strings.TrimSpace(cfg.GCSBucket) == "" {
			return nil, &StorageBootstrapError{
				Code:  StorageBootstrapErrorMissingBucket,
				Mode:  mode,
				Cause: fmt.Errorf("GCS_BUCKET is required in gcs mode"),
			}
		}
		store, err := newGCSStore(ctx, log, blob.GCSConfig{
			Bucket:       cfg.GCSBucket,
			EmulatorHost: cfg.StorageEmulatorHost,
		})
		if err != nil {
			return nil, &StorageBootstrapError{Code: StorageBootstrapErrorConnectFailed, Mode: mode, Cause: err}
		}
		return store, nil
	default:
		return nil, &StorageBootstrapError{
			Code:  StorageBootstrapErrorInvalidMode,
			Mode:  mode,
			Cause: fmt.Errorf("unsupported storage mode %q", mode),
		}
	}
}
