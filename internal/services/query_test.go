package services

import (
	"bytes"
	"context"
	"image/jpeg"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/medialab-backend/internal/domain/media"
	"github.com/yungbote/medialab-backend/internal/platform/blob"
)

func TestThumbnailUnknownIDServesPlaceholder(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()
	id := uuid.New()

	// The original 404s for an unknown id.
	_, err := f.query.GetAsset(ctx, id)
	assert.ErrorIs(t, err, media.ErrNotFound)

	// The thumbnail never does.
	raw, err := f.query.Thumbnail(ctx, id)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, ThumbnailWidth, img.Bounds().Dx())
	assert.Equal(t, ThumbnailHeight, img.Bounds().Dy())
}

func TestThumbnailPendingServesPlaceholder(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()
	payload := []byte("fake video bytes")

	asset, err := f.ingest.Upload(ctx, media.AssetKindVideo, "clip.mp4", "video/mp4", int64(len(payload)), bytes.NewReader(payload))
	require.NoError(t, err)

	// Generation has not run yet; a valid JPEG still comes back.
	raw, err := f.query.Thumbnail(ctx, asset.ID)
	require.NoError(t, err)
	_, err = jpeg.Decode(bytes.NewReader(raw))
	assert.NoError(t, err)
}

func TestDerivedNonReadyHasNoBody(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()
	payload := []byte("audio bytes")

	asset, err := f.ingest.Upload(ctx, media.AssetKindAudio, "track.wav", "audio/wav", int64(len(payload)), bytes.NewReader(payload))
	require.NoError(t, err)

	res, err := f.query.Derived(ctx, asset.ID, media.DerivedKindTransientMarkers)
	require.NoError(t, err)
	assert.Equal(t, media.DerivedStatusPending, res.State.Status)
	assert.Nil(t, res.Body)
}

func TestDerivedKindNotApplicable(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()
	payload := []byte("fake video bytes")

	asset, err := f.ingest.Upload(ctx, media.AssetKindVideo, "clip.mp4", "video/mp4", int64(len(payload)), bytes.NewReader(payload))
	require.NoError(t, err)

	_, err = f.query.Derived(ctx, asset.ID, media.DerivedKindTransientMarkers)
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestDeleteRemovesEverything(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()
	payload := arbitraryBytes(1000)

	asset, err := f.ingest.Upload(ctx, media.AssetKindAudio, "track.wav", "audio/wav", int64(len(payload)), bytes.NewReader(payload))
	require.NoError(t, err)
	_, err = f.analysis.AnalyzeAndStore(ctx, asset, 0.5)
	require.NoError(t, err)

	require.NoError(t, f.query.Delete(ctx, asset.ID))

	_, err = f.query.GetAsset(ctx, asset.ID)
	assert.ErrorIs(t, err, media.ErrNotFound)

	ok, err := f.store.Exists(ctx, blob.CategoryAudio, asset.StorageKey)
	require.NoError(t, err)
	assert.False(t, ok)
	keys, err := f.store.ListKeys(ctx, blob.CategoryAnalysis, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDeleteUnknownAsset(t *testing.T) {
	f := newIngestFixture(t)
	err := f.query.Delete(context.Background(), uuid.New())
	assert.ErrorIs(t, err, media.ErrNotFound)
}
