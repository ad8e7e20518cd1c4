package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/medialab-backend/internal/platform/blob"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
)

func appTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func TestResolveBlobStoreDefaultsToLocal(t *testing.T) {
	store, err := resolveBlobStore(context.Background(), appTestLogger(t), Config{
		StorageMode: "",
		BlobRoot:    t.TempDir(),
	})
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestResolveBlobStoreInvalidMode(t *testing.T) {
	_, err := resolveBlobStore(context.Background(), appTestLogger(t), Config{StorageMode: "s3"})
	require.Error(t, err)

	var bootErr *StorageBootstrapError
	require.True(t, errors.As(err, &bootErr))
	assert.Equal(t, StorageBootstrapErrorInvalidMode, bootErr.Code)
}

func TestResolveBlobStoreGCSRequiresBucket(t *testing.T) {
	_, err := resolveBlobStore(context.Background(), appTestLogger(t), Config{StorageMode: "gcs"})
	require.Error(t, err)

	var bootErr *StorageBootstrapError
	require.True(t, errors.As(err, &bootErr))
	assert.Equal(t, StorageBootstrapErrorMissingBucket, bootErr.Code)
}

func TestResolveBlobStoreGCSConnectFailure(t *testing.T) {
	orig := newGCSStore
	t.Cleanup(func() { newGCSStore = orig })
	newGCSStore = func(ctx context.Context, log *logger.Logger, cfg blob.GCSConfig) (blob.Store, error) {
		return nil, fmt.Errorf("dial failed")
	}

	_, err := resolveBlobStore(context.Background(), appTestLogger(t), Config{
		StorageMode: "gcs",
		GCSBucket:   "media",
	})
	require.Error(t, err)

	var bootErr *StorageBootstrapError
	require.True(t, errors.As(err, &bootErr))
	assert.Equal(t, StorageBootstrapErrorConnectFailed, bootErr.Code)
}

func TestResolveBlobStoreGCSUsesConfiguredBucket(t *testing.T) {
	orig := newGCSStore
	t.Cleanup(func() { newGCSStore = orig })

	var gotCfg blob.GCSConfig
	newGCSStore = func(ctx context.Context, log *logger.Logger, cfg blob.GCSConfig) (blob.Store, error) {
		gotCfg = cfg
		return nil, fmt.Errorf("stop here")
	}

	_, _ = resolveBlobStore(context.Background(), appTestLogger(t), Config{
		StorageMode:         "gcs",
		GCSBucket:           "media-bucket",
		StorageEmulatorHost: "localhost:4443",
	})
	assert.Equal(t, "media-bucket", gotCfg.Bucket)
	assert.Equal(t, "localhost:4443", gotCfg.EmulatorHost)
}
