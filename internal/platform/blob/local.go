package blob

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yungbote/medialab-backend/internal/platform/logger"
)

type localStore struct {
	log  *logger.Logger
	root string
}

// NewLocalStore returns a filesystem-backed Store rooted at root. Category
// directories are created lazily on first write; MkdirAll makes concurrent
// first-writers safe.
func NewLocalStore(log *logger.Logger, root string) (Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("blob root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}
	return &localStore{
		log:  log.With("service", "LocalBlobStore"),
		root: abs,
	}, nil
}

func (s *localStore) pathFor(category Category, key string) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, string(category), filepath.FromSlash(key)), nil
}

// Upload writes to a temp file in the destination directory, syncs it, and
// renames it into place. The final key never points at a partial write.
func (s *localStore) Upload(ctx context.Context, category Category, key string, r io.Reader) error {
	dst, err := s.pathFor(category, key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create category dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if err := ctx.Err(); err != nil {
		cleanup()
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish object: %w", err)
	}
	return nil
}

func (s *localStore) Download(ctx context.Context, category Category, key string) (io.ReadCloser, error) {
	p, err := s.pathFor(category, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

func (s *localStore) OpenRangeReader(ctx context.Context, category Category, key string, offset, length int64) (io.ReadCloser, error) {
	p, err := s.pathFor(category, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("seek object: %w", err)
		}
	}
	if length <= 0 {
		return f, nil
	}
	return &limitedFileReader{f: f, r: io.LimitReader(f, length)}, nil
}

type limitedFileReader struct {
	f *os.File
	r io.Reader
}

func (l *limitedFileReader) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedFileReader) Close() error               { return l.f.Close() }

func (s *localStore) Attrs(ctx context.Context, category Category, key string) (*ObjectAttrs, error) {
	p, err := s.pathFor(category, key)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}
	return &ObjectAttrs{
		Size:        fi.Size(),
		ContentType: ContentTypeForKey(key),
		Updated:     fi.ModTime(),
	}, nil
}

func (s *localStore) Exists(ctx context.Context, category Category, key string) (bool, error) {
	_, err := s.Attrs(ctx, category, key)
	if err == nil {
		return true, nil
	}
	if err == ErrObjectNotFound {
		return false, nil
	}
	return false, err
}

func (s *localStore) Delete(ctx context.Context, category Category, key string) error {
	p, err := s.pathFor(category, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *localStore) ListKeys(ctx context.Context, category Category, prefix string) ([]string, error) {
	base := filepath.Join(s.root, string(category))
	var keys []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return filepath.SkipAll
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *localStore) DeletePrefix(ctx context.Context, category Category, prefix string) error {
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
