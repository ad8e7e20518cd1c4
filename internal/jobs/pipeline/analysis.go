package pipeline

import (
	"fmt"

	"github.com/yungbote/medialab-backend/internal/jobs/runtime"
	"github.com/yungbote/medialab-backend/internal/pkg/dbctx"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
	"github.com/yungbote/medialab-backend/internal/services"
)

// AudioAnalyze runs transient detection for queued analysis jobs. The heavy
// lifting lives in AnalysisService so the synchronous analyze endpoint and
// this handler share one code path.
type AudioAnalyze struct {
	log      *logger.Logger
	analyzer services.AnalysisService
}

func NewAudioAnalyze(log *logger.Logger, analyzer services.AnalysisService) *AudioAnalyze {
	return &AudioAnalyze{
		log:      log.With("job", services.JobTypeAudioAnalyze),
		analyzer: analyzer,
	}
}

func (h *AudioAnalyze) Type() string { return services.JobTypeAudioAnalyze }

func (h *AudioAnalyze) Run(jc *runtime.Context) error {
	assetID, ok := jc.PayloadUUID("asset_id")
	if !ok {
		return fmt.Errorf("payload missing asset_id")
	}
	sensitivity, ok := jc.PayloadFloat("sensitivity")
	if !ok {
		sensitivity = 0.5
	}

	asset, err := jc.Assets.GetByID(dbctx.Context{Ctx: jc.Ctx}, assetID)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}

	jc.Progress("analyze", 20, "analyzing audio")
	result, err := h.analyzer.AnalyzeAndStore(jc.Ctx, asset, sensitivity)
	if err != nil {
		return err
	}

	jc.Succeed("done", map[string]any{
		"markers":     len(result.Markers),
		"duration":    result.Duration,
		"sample_rate": result.SampleRate,
	})
	return nil
}
