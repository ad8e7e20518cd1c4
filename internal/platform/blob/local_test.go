package blob

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/medialab-backend/internal/platform/logger"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	store, err := NewLocalStore(log, t.TempDir())
	require.NoError(t, err)
	return store
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	payload := []byte("0123456789abcdef")

	require.NoError(t, store.Upload(ctx, CategoryVideo, "abc_clip.mp4", bytes.NewReader(payload)))

	rc, err := store.Download(ctx, CategoryVideo, "abc_clip.mp4")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	attrs, err := store.Attrs(ctx, CategoryVideo, "abc_clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), attrs.Size)
}

func TestLocalStoreMissingObject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Download(ctx, CategoryVideo, "missing.mp4")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = store.Attrs(ctx, CategoryThumbnail, "missing.jpg")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	ok, err := store.Exists(ctx, CategoryAudio, "missing.wav")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStoreRangeReader(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	payload := []byte("0123456789")
	require.NoError(t, store.Upload(ctx, CategoryAudio, "clip.wav", bytes.NewReader(payload)))

	rc, err := store.OpenRangeReader(ctx, CategoryAudio, "clip.wav", 2, 4)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "2345", string(got))

	// Negative length reads to the end.
	rc, err = store.OpenRangeReader(ctx, CategoryAudio, "clip.wav", 7, -1)
	require.NoError(t, err)
	got, err = io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "789", string(got))
}

func TestLocalStoreNoPartialObjectVisible(t *testing.T) {
	log, err := logger.New("test")
	require.NoError(t, err)
	root := t.TempDir()
	store, err := NewLocalStore(log, root)
	require.NoError(t, err)
	ctx := context.Background()

	// A reader that fails mid-stream must not leave the key visible.
	failing := io.MultiReader(strings.NewReader("partial"), &failingReader{})
	err = store.Upload(ctx, CategoryVideo, "broken.mp4", failing)
	require.Error(t, err)

	ok, err := store.Exists(ctx, CategoryVideo, "broken.mp4")
	require.NoError(t, err)
	assert.False(t, ok)

	// No temp files left behind either.
	var leftovers []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), ".upload-") {
			leftovers = append(leftovers, path)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestLocalStoreListAndDeletePrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, CategoryThumbnail, "a.jpg", strings.NewReader("x")))
	require.NoError(t, store.Upload(ctx, CategoryThumbnail, "b.jpg", strings.NewReader("y")))
	require.NoError(t, store.Upload(ctx, CategoryWaveform, "a.png", strings.NewReader("z")))

	keys, err := store.ListKeys(ctx, CategoryThumbnail, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, keys)

	require.NoError(t, store.DeletePrefix(ctx, CategoryThumbnail, "a"))
	keys, err = store.ListKeys(ctx, CategoryThumbnail, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.jpg"}, keys)
}

func TestLocalStoreRejectsTraversalKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Upload(ctx, CategoryVideo, "../escape.mp4", strings.NewReader("x"))
	assert.Error(t, err)
	err = store.Upload(ctx, CategoryVideo, "/abs.mp4", strings.NewReader("x"))
	assert.Error(t, err)
}

type failingReader struct{}

func (r *failingReader) Read(p []byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
