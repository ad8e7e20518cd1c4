package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	assetRepo "github.com/yungbote/medialab-backend/internal/data/repos/assets"
	"github.com/yungbote/medialab-backend/internal/domain/media"
	"github.com/yungbote/medialab-backend/internal/pkg/dbctx"
	"github.com/yungbote/medialab-backend/internal/platform/blob"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
	"github.com/yungbote/medialab-backend/internal/realtime"
)

// DerivedResult is the read-side view of one derived entry. Body is non-nil
// only when the state is ready.
type DerivedResult struct {
	State media.DerivedState
	Attrs *blob.ObjectAttrs
	Body  io.ReadCloser
}

// QueryService serves consistent reads of originals and derived artifacts.
// It only reads the catalog and the blob store; it never waits on the
// pipeline.
type QueryService interface {
	GetAsset(ctx context.Context, id uuid.UUID) (*media.Asset, error)
	List(ctx context.Context, kind *media.AssetKind, limit, offset int) ([]media.Asset, error)

	OriginalAttrs(ctx context.Context, asset *media.Asset) (*blob.ObjectAttrs, error)
	OpenOriginal(ctx context.Context, asset *media.Asset, offset, length int64) (io.ReadCloser, error)

	Derived(ctx context.Context, id uuid.UUID, kind media.DerivedKind) (*DerivedResult, error)

	// Thumbnail never returns ErrNotFound: unknown ids and unfinished
	// generation both yield a deterministic placeholder JPEG.
	Thumbnail(ctx context.Context, id uuid.UUID) ([]byte, error)

	Delete(ctx context.Context, id uuid.UUID) error
}

type queryService struct {
	log    *logger.Logger
	store  blob.Store
	assets assetRepo.AssetRepo
	artist ThumbnailArtist
	notify func(msg realtime.SSEMessage)
}

func NewQueryService(log *logger.Logger, store blob.Store, assets assetRepo.AssetRepo, artist ThumbnailArtist, notify func(msg realtime.SSEMessage)) QueryService {
	return &queryService{
		log:    log.With("service", "QueryService"),
		store:  store,
		assets: assets,
		artist: artist,
		notify: notify,
	}
}

func (s *queryService) GetAsset(ctx context.Context, id uuid.UUID) (*media.Asset, error) {
	return s.assets.GetByID(dbctx.Context{Ctx: ctx}, id)
}

func (s *queryService) List(ctx context.Context, kind *media.AssetKind, limit, offset int) ([]media.Asset, error) {
	return s.assets.List(dbctx.Context{Ctx: ctx}, kind, limit, offset)
}

func (s *queryService) OriginalAttrs(ctx context.Context, asset *media.Asset) (*blob.ObjectAttrs, error) {
	attrs, err := s.store.Attrs(ctx, OriginalCategory(asset.Kind), asset.StorageKey)
	if err != nil {
		if errors.Is(err, blob.ErrObjectNotFound) {
			// Catalog says it exists but the bytes are gone; that breaks the
			// record-iff-bytes invariant and deserves a loud log.
			s.log.Error("Catalog entry has no backing blob", "asset_id", asset.ID, "storage_key", asset.StorageKey)
			return nil, media.ErrNotFound
		}
		return nil, fmt.Errorf("%w: stat original: %v", media.ErrStorage, err)
	}
	return attrs, nil
}

func (s *queryService) OpenOriginal(ctx context.Context, asset *media.Asset, offset, length int64) (io.ReadCloser, error) {
	rc, err := s.store.OpenRangeReader(ctx, OriginalCategory(asset.Kind), asset.StorageKey, offset, length)
	if err != nil {
		if errors.Is(err, blob.ErrObjectNotFound) {
			return nil, media.ErrNotFound
		}
		return nil, fmt.Errorf("%w: open original: %v", media.ErrStorage, err)
	}
	return rc, nil
}

func derivedCategory(kind media.DerivedKind) blob.Category {
	switch kind {
	case media.DerivedKindThumbnail:
		return blob.CategoryThumbnail
	case media.DerivedKindWaveform:
		return blob.CategoryWaveform
	default:
		return blob.CategoryAnalysis
	}
}

func (s *queryService) Derived(ctx context.Context, id uuid.UUID, kind media.DerivedKind) (*DerivedResult, error) {
	asset, err := s.assets.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, err
	}
	states, err := asset.DerivedStates()
	if err != nil {
		return nil, err
	}
	state, ok := states[kind]
	if !ok {
		return nil, fmt.Errorf("%w: derived kind %q not applicable to %s assets", media.ErrNotFound, kind, asset.Kind)
	}

	res := &DerivedResult{State: state}
	if state.Status != media.DerivedStatusReady {
		return res, nil
	}

	category := derivedCategory(kind)
	attrs, err := s.store.Attrs(ctx, category, state.StorageKey)
	if err != nil {
		if errors.Is(err, blob.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: derived artifact missing", media.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: stat derived artifact: %v", media.ErrStorage, err)
	}
	body, err := s.store.Download(ctx, category, state.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("%w: open derived artifact: %v", media.ErrStorage, err)
	}
	res.Attrs = attrs
	res.Body = body
	return res, nil
}

func (s *queryService) Thumbnail(ctx context.Context, id uuid.UUID) ([]byte, error) {
	label := ""
	if asset, err := s.assets.GetByID(dbctx.Context{Ctx: ctx}, id); err == nil {
		label = asset.OriginalName
		if states, serr := asset.DerivedStates(); serr == nil {
			state := states[media.DerivedKindThumbnail]
			if state.Status == media.DerivedStatusReady {
				if body, derr := s.store.Download(ctx, blob.CategoryThumbnail, state.StorageKey); derr == nil {
					defer body.Close()
					if raw, rerr := io.ReadAll(body); rerr == nil {
						return raw, nil
					}
				}
				s.log.Warn("Ready thumbnail unreadable, serving placeholder", "asset_id", id)
			}
		}
	}
	return s.artist.Placeholder(id, label)
}

// Delete removes blobs in reverse order of creation: derived artifacts
// first, then the original, then the catalog row, so a partial failure never
// leaves a record pointing at missing bytes.
func (s *queryService) Delete(ctx context.Context, id uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	asset, err := s.assets.GetByID(dbc, id)
	if err != nil {
		return err
	}

	states, err := asset.DerivedStates()
	if err != nil {
		return err
	}
	for kind, state := range states {
		if state.Status != media.DerivedStatusReady || state.StorageKey == "" {
			continue
		}
		if err := s.store.Delete(ctx, derivedCategory(kind), state.StorageKey); err != nil && !errors.Is(err, blob.ErrObjectNotFound) {
			return fmt.Errorf("%w: delete derived artifact %s: %v", media.ErrStorage, kind, err)
		}
	}

	if err := s.store.Delete(ctx, OriginalCategory(asset.Kind), asset.StorageKey); err != nil && !errors.Is(err, blob.ErrObjectNotFound) {
		return fmt.Errorf("%w: delete original: %v", media.ErrStorage, err)
	}

	if err := s.assets.Delete(dbc, id); err != nil {
		return err
	}

	if s.notify != nil {
		s.notify(realtime.SSEMessage{
			Channel: realtime.ChannelAssets,
			Event:   realtime.SSEEventAssetDeleted,
			Data:    map[string]any{"asset_id": id},
		})
	}
	return nil
}
