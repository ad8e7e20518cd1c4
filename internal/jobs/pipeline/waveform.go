package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/yungbote/medialab-backend/internal/domain/media"
	"github.com/yungbote/medialab-backend/internal/jobs/runtime"
	"github.com/yungbote/medialab-backend/internal/pkg/dbctx"
	"github.com/yungbote/medialab-backend/internal/platform/blob"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
	"github.com/yungbote/medialab-backend/internal/services"
)

// WaveformRender downsamples the audio into an envelope and publishes it as a
// PNG under the waveforms category.
type WaveformRender struct {
	log      *logger.Logger
	store    blob.Store
	analyzer services.AnalysisService
	renderer services.WaveformRenderer
}

func NewWaveformRender(log *logger.Logger, store blob.Store, analyzer services.AnalysisService, renderer services.WaveformRenderer) *WaveformRender {
	return &WaveformRender{
		log:      log.With("job", services.JobTypeWaveformRender),
		store:    store,
		analyzer: analyzer,
		renderer: renderer,
	}
}

func (h *WaveformRender) Type() string { return services.JobTypeWaveformRender }

func (h *WaveformRender) Run(jc *runtime.Context) error {
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
	body, err := h.store.Download(jc.Ctx, blob.CategoryAudio, asset.StorageKey)
	if err != nil {
		return fmt.Errorf("download original: %w", err)
	}
	raw, err := io.ReadAll(body)
	_ = body.Close()
	if err != nil {
		return fmt.Errorf("read original: %w", err)
	}

	jc.Progress("render", 40, "rendering waveform")
	env, err := h.analyzer.Envelope(raw, services.WaveformWidth)
	if err != nil {
		return fmt.Errorf("compute envelope: %w", err)
	}
	png, err := h.renderer.Render(env)
	if err != nil {
		return fmt.Errorf("render waveform: %w", err)
	}

	jc.Progress("upload", 75, "publishing waveform")
	key := asset.ID.String() + ".png"
	if err := h.store.Upload(jc.Ctx, blob.CategoryWaveform, key, bytes.NewReader(png)); err != nil {
		return fmt.Errorf("upload waveform: %w", err)
	}

	now := time.Now().UTC()
	if _, err := jc.Assets.UpdateDerived(dbc, asset.ID, media.DerivedKindWaveform, media.DerivedState{
		Status:     media.DerivedStatusReady,
		StorageKey: key,
		ProducedAt: &now,
	}); err != nil {
		return fmt.Errorf("mark waveform ready: %w", err)
	}

	jc.Succeed("done", map[string]any{"storage_key": key})
	return nil
}
