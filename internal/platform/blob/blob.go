package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// Category namespaces object keys so originals and derived artifacts live in
// disjoint key spaces.
type Category string

const (
	CategoryVideo     Category = "videos"
	CategoryThumbnail Category = "thumbnails"
	CategoryAudio     Category = "audio"
	CategoryWaveform  Category = "waveforms"
	CategoryAnalysis  Category = "analysis"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
}

// Store is durable key -> bytes storage. Writes are atomic from a reader's
// perspective: a concurrent Download for the same key observes either the
// complete prior content or the complete new content, never a partial write.
type Store interface {
	Upload(ctx context.Context, category Category, key string, r io.Reader) error
	Download(ctx context.Context, category Category, key string) (io.ReadCloser, error)
	OpenRangeReader(ctx context.Context, category Category, key string, offset, length int64) (io.ReadCloser, error)
	Attrs(ctx context.Context, category Category, key string) (*ObjectAttrs, error)
	Exists(ctx context.Context, category Category, key string) (bool, error)
	Delete(ctx context.Context, category Category, key string) error
	ListKeys(ctx context.Context, category Category, prefix string) ([]string, error)
	DeletePrefix(ctx context.Context, category Category, prefix string) error
}

func ContentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	case strings.HasSuffix(s, ".mp4"), strings.HasSuffix(s, ".m4v"):
		return "video/mp4"
	case strings.HasSuffix(s, ".webm"):
		return "video/webm"
	case strings.HasSuffix(s, ".mov"):
		return "video/quicktime"
	case strings.HasSuffix(s, ".avi"):
		return "video/x-msvideo"
	case strings.HasSuffix(s, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(s, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(s, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(s, ".flac"):
		return "audio/flac"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	default:
		return ""
	}
}

// Context cancellation must not outlive the reader, so cancel is attached to
// the reader's Close instead of deferred at the call site.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func validKey(key string) bool {
	if strings.TrimSpace(key) == "" {
		return false
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return false
	}
	return true
}
