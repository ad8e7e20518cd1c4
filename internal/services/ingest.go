package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	assetRepo "github.com/yungbote/medialab-backend/internal/data/repos/assets"
	"github.com/yungbote/medialab-backend/internal/domain/media"
	"github.com/yungbote/medialab-backend/internal/pkg/dbctx"
	"github.com/yungbote/medialab-backend/internal/platform/blob"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
	"github.com/yungbote/medialab-backend/internal/realtime"
	"github.com/yungbote/medialab-backend/internal/utils"
)

// IngestService is the only mutation path that creates asset records. The
// blob write happens first; a catalog record is inserted only once the bytes
// are durably committed, and every applicable derived kind is enqueued before
// the upload call returns.
type IngestService interface {
	Upload(ctx context.Context, kind media.AssetKind, filename, mimeType string, size int64, r io.Reader) (*media.Asset, error)
}

type ingestService struct {
	log      *logger.Logger
	store    blob.Store
	assets   assetRepo.AssetRepo
	pipeline PipelineService
	notify   func(msg realtime.SSEMessage)
}

func NewIngestService(log *logger.Logger, store blob.Store, assets assetRepo.AssetRepo, pipeline PipelineService, notify func(msg realtime.SSEMessage)) IngestService {
	return &ingestService{
		log:      log.With("service", "IngestService"),
		store:    store,
		assets:   assets,
		pipeline: pipeline,
		notify:   notify,
	}
}

func OriginalCategory(kind media.AssetKind) blob.Category {
	if kind == media.AssetKindVideo {
		return blob.CategoryVideo
	}
	return blob.CategoryAudio
}

func (s *ingestService) Upload(ctx context.Context, kind media.AssetKind, filename, mimeType string, size int64, r io.Reader) (*media.Asset, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, fmt.Errorf("%w: filename is required", media.ErrInvalidInput)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: empty upload", media.ErrInvalidInput)
	}
	if len(media.DerivedKindsFor(kind)) == 0 {
		return nil, fmt.Errorf("%w: unsupported asset kind %q", media.ErrInvalidInput, kind)
	}

	id := uuid.New()
	storageKey := fmt.Sprintf("%s_%s", id, utils.SanitizeFilename(filename))
	category := OriginalCategory(kind)

	if err := s.store.Upload(ctx, category, storageKey, r); err != nil {
		return nil, fmt.Errorf("%w: write original: %v", media.ErrStorage, err)
	}

	derived, err := media.NewDerivedStates(kind)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	asset := &media.Asset{
		ID:           id,
		Kind:         kind,
		OriginalName: filename,
		MimeType:     mimeType,
		SizeBytes:    size,
		StorageKey:   storageKey,
		Derived:      derived,
		UploadedAt:   now,
		UpdatedAt:    now,
	}

	dbc := dbctx.Context{Ctx: ctx}
	if err := s.assets.Create(dbc, asset); err != nil {
		// A fresh uuid colliding means something is deeply wrong; scrub the
		// orphaned bytes and surface the conflict loudly.
		s.log.Error("Catalog insert failed after blob write", "asset_id", id, "error", err)
		if derr := s.store.Delete(ctx, category, storageKey); derr != nil && derr != blob.ErrObjectNotFound {
			s.log.Error("Failed to remove orphaned blob", "asset_id", id, "error", derr)
		}
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, dk := range media.DerivedKindsFor(kind) {
		dk := dk
		g.Go(func() error {
			_, err := s.pipeline.Enqueue(dbctx.Context{Ctx: gctx}, id, dk, nil)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("enqueue derived jobs: %w", err)
	}

	if s.notify != nil {
		s.notify(realtime.SSEMessage{
			Channel: realtime.ChannelAssets,
			Event:   realtime.SSEEventAssetUploaded,
			Data: map[string]any{
				"asset_id": id,
				"kind":     kind,
				"filename": filename,
				"size":     size,
			},
		})
	}

	s.log.Info("Asset ingested", "asset_id", id, "kind", kind, "size_bytes", size)
	return asset, nil
}
