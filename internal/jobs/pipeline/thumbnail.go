package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/yungbote/medialab-backend/internal/domain/media"
	"github.com/yungbote/medialab-backend/internal/jobs/runtime"
	"github.com/yungbote/medialab-backend/internal/pkg/dbctx"
	"github.com/yungbote/medialab-backend/internal/platform/blob"
	"github.com/yungbote/medialab-backend/internal/platform/localmedia"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
	"github.com/yungbote/medialab-backend/internal/services"
)

// ThumbnailGenerate extracts a frame with ffmpeg when the binary is present
// and falls back to the deterministic placeholder otherwise. Extraction
// failure is soft: only storage or catalog errors fail the job.
type ThumbnailGenerate struct {
	log    *logger.Logger
	store  blob.Store
	tools  localmedia.Tools
	artist services.ThumbnailArtist
}

func NewThumbnailGenerate(log *logger.Logger, store blob.Store, tools localmedia.Tools, artist services.ThumbnailArtist) *ThumbnailGenerate {
	return &ThumbnailGenerate{
		log:    log.With("job", services.JobTypeThumbnailGenerate),
		store:  store,
		tools:  tools,
		artist: artist,
	}
}

func (h *ThumbnailGenerate) Type() string { return services.JobTypeThumbnailGenerate }

func (h *ThumbnailGenerate) Run(jc *runtime.Context) error {
	assetID, ok := jc.PayloadUUID("asset_id")
	if !ok {
		return fmt.Errorf("payload missing asset_id")
	}
	dbc := dbctx.Context{Ctx: jc.Ctx}

	asset, err := jc.Assets.GetByID(dbc, assetID)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}

	jc.Progress("download", 10, "downloading original")
	body, err := h.store.Download(jc.Ctx, blob.CategoryVideo, asset.StorageKey)
	if err != nil {
		return fmt.Errorf("download original: %w", err)
	}
	raw, err := io.ReadAll(body)
	_ = body.Close()
	if err != nil {
		return fmt.Errorf("read original: %w", err)
	}

	jc.Progress("render", 40, "rendering thumbnail")
	jpegBytes, usedPlaceholder := h.renderThumbnail(jc, asset, raw)

	jc.Progress("upload", 75, "publishing thumbnail")
	key := asset.ID.String() + ".jpg"
	if err := h.store.Upload(jc.Ctx, blob.CategoryThumbnail, key, bytes.NewReader(jpegBytes)); err != nil {
		return fmt.Errorf("upload thumbnail: %w", err)
	}

	now := time.Now().UTC()
	if _, err := jc.Assets.UpdateDerived(dbc, asset.ID, media.DerivedKindThumbnail, media.DerivedState{
		Status:     media.DerivedStatusReady,
		StorageKey: key,
		ProducedAt: &now,
	}); err != nil {
		return fmt.Errorf("mark thumbnail ready: %w", err)
	}

	jc.Succeed("done", map[string]any{
		"storage_key": key,
		"placeholder": usedPlaceholder,
	})
	return nil
}

// renderThumbnail prefers a real extracted frame and degrades to the
// placeholder on any extraction problem.
func (h *ThumbnailGenerate) renderThumbnail(jc *runtime.Context, asset *media.Asset, raw []byte) ([]byte, bool) {
	if frame, err := h.extractFrame(jc, asset, raw); err == nil {
		if jpegBytes, err := h.artist.FromFrame(frame); err == nil {
			return jpegBytes, false
		} else {
			h.log.Warn("Frame normalization failed, using placeholder", "asset_id", asset.ID, "error", err)
		}
	} else {
		h.log.Debug("Frame extraction unavailable, using placeholder", "asset_id", asset.ID, "error", err)
	}

	jpegBytes, err := h.artist.Placeholder(asset.ID, asset.OriginalName)
	if err != nil {
		// Placeholder rendering is pure CPU work; if it fails there is
		// nothing sensible left to publish.
		h.log.Error("Placeholder rendering failed", "asset_id", asset.ID, "error", err)
		return minimalJPEG(), true
	}
	return jpegBytes, true
}

func (h *ThumbnailGenerate) extractFrame(jc *runtime.Context, asset *media.Asset, raw []byte) ([]byte, error) {
	if err := h.tools.AssertReady(jc.Ctx); err != nil {
		return nil, err
	}

	ext := filepath.Ext(asset.OriginalName)
	if ext == "" {
		ext = ".mp4"
	}
	srcPath, cleanupSrc, err := h.tools.WriteTempFile(jc.Ctx, raw, ext)
	if err != nil {
		return nil, err
	}
	defer cleanupSrc()

	if probe, err := h.tools.ProbeMedia(jc.Ctx, srcPath); err == nil {
		updates := map[string]interface{}{}
		if probe.DurationSeconds > 0 {
			updates["duration_seconds"] = probe.DurationSeconds
		}
		if probe.Width > 0 {
			updates["width"] = probe.Width
			updates["height"] = probe.Height
		}
		if len(updates) > 0 {
			if err := jc.Assets.SetMediaInfo(dbctx.Context{Ctx: jc.Ctx}, asset.ID, updates); err != nil {
				h.log.Warn("Failed to record probed video metadata", "asset_id", asset.ID, "error", err)
			}
		}
	}

	outPath := srcPath + ".frame.jpg"
	defer func() { _ = os.Remove(outPath) }()
	if _, err := h.tools.ExtractFrame(jc.Ctx, srcPath, outPath, localmedia.FrameOptions{
		OffsetSeconds: 1.0,
		Width:         services.ThumbnailWidth,
		Height:        services.ThumbnailHeight,
	}); err != nil {
		return nil, err
	}
	return os.ReadFile(outPath)
}

// minimalJPEG is the absolute last resort: a 1x1 black JPEG so the
// never-404 contract holds even if rendering breaks.
func minimalJPEG() []byte {
	return []byte{
		0xff, 0xd8, 0xff, 0xdb, 0x00, 0x43, 0x00, 0x10, 0x0b, 0x0c, 0x0e, 0x0c,
		0x0a, 0x10, 0x0e, 0x0d, 0x0e, 0x12, 0x11, 0x10, 0x13, 0x18, 0x28, 0x1a,
		0x18, 0x16, 0x16, 0x18, 0x31, 0x23, 0x25, 0x1d, 0x28, 0x3a, 0x33, 0x3d,
		0x3c, 0x39, 0x33, 0x38, 0x37, 0x40, 0x48, 0x5c, 0x4e, 0x40, 0x44, 0x57,
		0x45, 0x37, 0x38, 0x50, 0x6d, 0x51, 0x57, 0x5f, 0x62, 0x67, 0x68, 0x67,
		0x3e, 0x4d, 0x71, 0x79, 0x70, 0x64, 0x78, 0x5c, 0x65, 0x67, 0x63, 0xff,
		0xc0, 0x00, 0x0b, 0x08, 0x00, 0x01, 0x00, 0x01, 0x01, 0x01, 0x11, 0x00,
		0xff, 0xc4, 0x00, 0x1f, 0x00, 0x00, 0x01, 0x05, 0x01, 0x01, 0x01, 0x01,
		0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x02,
		0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0xff, 0xc4, 0x00,
		0xb5, 0x10, 0x00, 0x02, 0x01, 0x03, 0x03, 0x02, 0x04, 0x03, 0x05, 0x05,
		0x04, 0x04, 0x00, 0x00, 0x01, 0x7d, 0x01, 0x02, 0x03, 0x00, 0x04, 0x11,
		0x05, 0x12, 0x21, 0x31, 0x41, 0x06, 0x13, 0x51, 0x61, 0x07, 0x22, 0x71,
		0x14, 0x32, 0x81, 0x91, 0xa1, 0x08, 0x23, 0x42, 0xb1, 0xc1, 0x15, 0x52,
		0xd1, 0xf0, 0x24, 0x33, 0x62, 0x72, 0x82, 0x09, 0x0a, 0x16, 0x17, 0x18,
		0x19, 0x1a, 0x25, 0x26, 0x27, 0x28, 0x29, 0x2a, 0x34, 0x35, 0x36, 0x37,
		0x38, 0x39, 0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48, 0x49, 0x4a, 0x53,
		0x54, 0x55, 0x56, 0x57, 0x58, 0x59, 0x5a, 0x63, 0x64, 0x65, 0x66, 0x67,
		0x68, 0x69, 0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78, 0x79, 0x7a, 0x83,
		0x84, 0x85, 0x86, 0x87, 0x88, 0x89, 0x8a, 0x92, 0x93, 0x94, 0x95, 0x96,
		0x97, 0x98, 0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7, 0xa8, 0xa9,
		0xaa, 0xb2, 0xb3, 0xb4, 0xb5, 0xb6, 0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3,
		0xc4, 0xc5, 0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2, 0xd3, 0xd4, 0xd5, 0xd6,
		0xd7, 0xd8, 0xd9, 0xda, 0xe1, 0xe2, 0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8,
		0xe9, 0xea, 0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8, 0xf9, 0xfa,
		0xff, 0xda, 0x00, 0x08, 0x01, 0x01, 0x00, 0x00, 0x3f, 0x00, 0xfb, 0xd0,
		0xff, 0xd9,
	}
}
