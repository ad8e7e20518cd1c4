package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/medialab-backend/internal/platform/logger"
)

type GCSConfig struct {
	Bucket       string
	EmulatorHost string
}

type gcsStore struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
}

// NewGCSStore returns a Store backed by a GCS bucket. When EmulatorHost is
// set the client talks to a local emulator without credentials; GCS writes
// publish objects atomically on writer Close, matching the Store contract.
func NewGCSStore(ctx context.Context, log *logger.Logger, cfg GCSConfig) (Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("missing GCS bucket name")
	}

	var opts []option.ClientOption
	if host := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"); host != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", host)
		opts = append(opts, option.WithoutAuthentication())
	} else {
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &gcsStore{
		log:    log.With("service", "GCSBlobStore"),
		client: client,
		bucket: bucket,
	}, nil
}

func (s *gcsStore) object(category Category, key string) (*storage.ObjectHandle, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("invalid object key %q", key)
	}
	return s.client.Bucket(s.bucket).Object(string(category) + "/" + key), nil
}

func (s *gcsStore) Upload(ctx context.Context, category Category, key string, r io.Reader) error {
	obj, err := s.object(category, key)
	if err != nil {
		return err
	}
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := obj.NewWriter(ctx2)
	if ct := ContentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (s *gcsStore) Download(ctx context.Context, category Category, key string) (io.ReadCloser, error) {
	obj, err := s.object(category, key)
	if err != nil {
		return nil, err
	}
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := obj.NewReader(ctx2)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (s *gcsStore) OpenRangeReader(ctx context.Context, category Category, key string, offset, length int64) (io.ReadCloser, error) {
	obj, err := s.object(category, key)
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		length = -1
	}
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := obj.NewRangeReader(ctx2, offset, length)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to open GCS range reader: %w", err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (s *gcsStore) Attrs(ctx context.Context, category Category, key string) (*ObjectAttrs, error) {
	obj, err := s.object(category, key)
	if err != nil {
		return nil, err
	}
	ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	attrs, err := obj.Attrs(ctx2)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read GCS object attrs: %w", err)
	}
	ct := attrs.ContentType
	if ct == "" {
		ct = ContentTypeForKey(key)
	}
	return &ObjectAttrs{
		Size:        attrs.Size,
		ContentType: ct,
		Updated:     attrs.Updated,
	}, nil
}

func (s *gcsStore) Exists(ctx context.Context, category Category, key string) (bool, error) {
	_, err := s.Attrs(ctx, category, key)
	if err == nil {
		return true, nil
	}
	if err == ErrObjectNotFound {
		return false, nil
	}
	return false, err
}

func (s *gcsStore) Delete(ctx context.Context, category Category, key string) error {
	obj, err := s.object(category, key)
	if err != nil {
		return err
	}
	ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := obj.Delete(ctx2); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("failed to delete GCS object %q: %w", key, err)
	}
	return nil
}

func (s *gcsStore) ListKeys(ctx context.Context, category Category, prefix string) ([]string, error) {
	ctx2, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	full := string(category) + "/"
	it := s.client.Bucket(s.bucket).Objects(ctx2, &storage.Query{Prefix: full + prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects: %w", err)
		}
		keys = append(keys, strings.TrimPrefix(attrs.Name, full))
	}
	return keys, nil
}

func (s *gcsStore) DeletePrefix(ctx context.Context, category Category, prefix string) error {
	keys, err := s.ListKeys(ctx, category, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(ctx, category, key); err != nil && err != ErrObjectNotFound {
			return err
		}
	}
	return nil
}
