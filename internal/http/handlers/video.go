package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/medialab-backend/internal/domain/media"
	"github.com/yungbote/medialab-backend/internal/http/response"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
	"github.com/yungbote/medialab-backend/internal/services"
)

type VideoHandler struct {
	mediaHandler
	log *logger.Logger
}

func NewVideoHandler(log *logger.Logger, ingest services.IngestService, query services.QueryService, pipeline services.PipelineService) *VideoHandler {
	return &VideoHandler{
		mediaHandler: mediaHandler{
			kind:     media.AssetKindVideo,
			field:    "video",
			ingest:   ingest,
			query:    query,
			pipeline: pipeline,
		},
		log: log.With("handler", "VideoHandler"),
	}
}

func (h *VideoHandler) Upload(c *gin.Context) { h.upload(c) }
func (h *VideoHandler) List(c *gin.Context)   { h.list(c) }
func (h *VideoHandler) Get(c *gin.Context)    { h.get(c) }
func (h *VideoHandler) Delete(c *gin.Context) { h.delete(c) }

// Thumbnail always serves a JPEG. Unknown ids and unfinished generation get
// the deterministic placeholder rather than an error.
func (h *VideoHandler) Thumbnail(c *gin.Context) {
	id, ok := parseAssetID(c)
	if !ok {
		return
	}
	raw, err := h.query.Thumbnail(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Thumbnail rendering failed", "asset_id", id, "error", err)
		response.RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", raw)
}

func (h *VideoHandler) RetryThumbnail(c *gin.Context) {
	h.retry(c, media.DerivedKindThumbnail)
}
