package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/medialab-backend/internal/domain/media"
	"github.com/yungbote/medialab-backend/internal/http/response"
	"github.com/yungbote/medialab-backend/internal/pkg/dbctx"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
	"github.com/yungbote/medialab-backend/internal/services"
)

type AudioHandler struct {
	mediaHandler
	log                *logger.Logger
	analyzer           services.AnalysisService
	defaultSensitivity float64
}

func NewAudioHandler(log *logger.Logger, ingest services.IngestService, query services.QueryService, pipeline services.PipelineService, analyzer services.AnalysisService, defaultSensitivity float64) *AudioHandler {
	if defaultSensitivity < 0 || defaultSensitivity > 1 {
		defaultSensitivity = 0.5
	}
	return &AudioHandler{
		mediaHandler: mediaHandler{
			kind:     media.AssetKindAudio,
			field:    "audio",
			ingest:   ingest,
			query:    query,
			pipeline: pipeline,
		},
		log:                log.With("handler", "AudioHandler"),
		analyzer:           analyzer,
		defaultSensitivity: defaultSensitivity,
	}
}

func (h *AudioHandler) Upload(c *gin.Context) { h.upload(c) }
func (h *AudioHandler) List(c *gin.Context)   { h.list(c) }
func (h *AudioHandler) Get(c *gin.Context)    { h.get(c) }
func (h *AudioHandler) Delete(c *gin.Context) { h.delete(c) }

type analyzeRequest struct {
	Sensitivity *float64 `json:"sensitivity"`
}

type analyzeResponse struct {
	Markers         []float64 `json:"markers"`
	Duration        float64   `json:"duration"`
	SampleRate      int       `json:"sample_rate"`
	PeakFrequencies []float64 `json:"peak_frequencies"`
}

// Analyze runs transient detection synchronously and records the result as
// the transient_markers artifact, so a later GET /analysis serves the same
// data.
func (h *AudioHandler) Analyze(c *gin.Context) {
	id, ok := parseAssetID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var req analyzeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_input", err)
			return
		}
	}
	sensitivity := h.defaultSensitivity
	if req.Sensitivity != nil {
		sensitivity = *req.Sensitivity
		if sensitivity < 0 || sensitivity > 1 {
			response.RespondError(c, http.StatusBadRequest, "invalid_input",
				fmt.Errorf("sensitivity must be within [0, 1], got %v", sensitivity))
			return
		}
	}

	asset, err := h.query.GetAsset(ctx, id)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	if asset.Kind != media.AssetKindAudio {
		response.RespondError(c, http.StatusNotFound, "not_found",
			fmt.Errorf("no audio asset with id %s", id))
		return
	}

	result, err := h.analyzer.AnalyzeAndStore(ctx, asset, sensitivity)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, analyzeResponse{
		Markers:         result.Markers,
		Duration:        result.Duration,
		SampleRate:      result.SampleRate,
		PeakFrequencies: result.PeakFrequencies,
	})
}

// GetAnalysis serves the stored artifact when ready and 202 while the
// pipeline is still working. A not-started entry is enqueued on first read.
func (h *AudioHandler) GetAnalysis(c *gin.Context) {
	id, ok := parseAssetID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	res, err := h.query.Derived(ctx, id, media.DerivedKindTransientMarkers)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}

	switch res.State.Status {
	case media.DerivedStatusReady:
		defer res.Body.Close()
		raw, err := io.ReadAll(res.Body)
		if err != nil {
			response.RespondError(c, http.StatusInternalServerError, "storage_error", err)
			return
		}
		c.Data(http.StatusOK, "application/json", raw)
	case media.DerivedStatusFailed:
		response.RespondError(c, http.StatusInternalServerError, "analysis_error",
			fmt.Errorf("analysis failed: %s", res.State.Reason))
	case media.DerivedStatusNotStarted:
		if _, err := h.pipeline.Enqueue(dbctx.Context{Ctx: ctx}, id, media.DerivedKindTransientMarkers, nil); err != nil {
			h.log.Warn("Failed to enqueue analysis on read", "asset_id", id, "error", err)
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
	}
}

func (h *AudioHandler) RetryAnalysis(c *gin.Context) {
	h.retry(c, media.DerivedKindTransientMarkers)
}

// Waveform serves the rendered envelope PNG once the pipeline has produced
// it.
func (h *AudioHandler) Waveform(c *gin.Context) {
	id, ok := parseAssetID(c)
	if !ok {
		return
	}
	res, err := h.query.Derived(c.Request.Context(), id, media.DerivedKindWaveform)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	if res.State.Status == media.DerivedStatusFailed {
		response.RespondError(c, http.StatusInternalServerError, "analysis_error",
			fmt.Errorf("waveform rendering failed: %s", res.State.Reason))
		return
	}
	if res.State.Status != media.DerivedStatusReady {
		c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
		return
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "storage_error", err)
		return
	}
	c.Data(http.StatusOK, "image/png", raw)
}
