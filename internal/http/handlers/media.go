package handlers

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/medialab-backend/internal/domain/media"
	"github.com/yungbote/medialab-backend/internal/http/response"
	"github.com/yungbote/medialab-backend/internal/pkg/dbctx"
	"github.com/yungbote/medialab-backend/internal/services"
	"github.com/yungbote/medialab-backend/internal/utils"
)

// UploadResponse mirrors the shape clients already depend on.
type UploadResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Message  string `json:"message"`
}

type AssetSummary struct {
	ID              string                      `json:"id"`
	Kind            string                      `json:"kind"`
	Filename        string                      `json:"filename"`
	MimeType        string                      `json:"mime_type,omitempty"`
	Size            int64                       `json:"size"`
	UploadedAt      time.Time                   `json:"uploaded_at"`
	DurationSeconds *float64                    `json:"duration_seconds,omitempty"`
	Width           *int                        `json:"width,omitempty"`
	Height          *int                        `json:"height,omitempty"`
	SampleRate      *int                        `json:"sample_rate,omitempty"`
	Channels        *int                        `json:"channels,omitempty"`
	Derived         map[string]DerivedStateView `json:"derived"`
}

type DerivedStateView struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func summarize(a *media.Asset) AssetSummary {
	out := AssetSummary{
		ID:              a.ID.String(),
		Kind:            string(a.Kind),
		Filename:        a.OriginalName,
		MimeType:        a.MimeType,
		Size:            a.SizeBytes,
		UploadedAt:      a.UploadedAt,
		DurationSeconds: a.DurationSeconds,
		Width:           a.Width,
		Height:          a.Height,
		SampleRate:      a.SampleRate,
		Channels:        a.Channels,
		Derived:         map[string]DerivedStateView{},
	}
	if states, err := a.DerivedStates(); err == nil {
		for kind, st := range states {
			out.Derived[string(kind)] = DerivedStateView{Status: string(st.Status), Reason: st.Reason}
		}
	}
	return out
}

func parseAssetID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_input", fmt.Errorf("invalid asset id"))
		return uuid.Nil, false
	}
	return id, true
}

// parseByteRange handles the single-range form "bytes=start-end" that media
// players send. ok is false when the header is absent or malformed; malformed
// headers fall through to a full-body response rather than an error.
func parseByteRange(header string, size int64) (offset, length int64, ok bool) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "bytes=") || strings.Contains(header, ",") {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	if parts[0] == "" {
		// Suffix range: last N bytes.
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, n, true
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	end := size - 1
	if parts[1] != "" {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end - start + 1, true
}

// mediaHandler holds the pieces shared by the video and audio surfaces.
type mediaHandler struct {
	kind     media.AssetKind
	field    string
	ingest   services.IngestService
	query    services.QueryService
	pipeline services.PipelineService
}

func (h *mediaHandler) upload(c *gin.Context) {
	file, err := c.FormFile(h.field)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_input",
			fmt.Errorf("multipart field %q is required", h.field))
		return
	}
	h.uploadFile(c, file)
}

func (h *mediaHandler) uploadFile(c *gin.Context, file *multipart.FileHeader) {
	src, err := file.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_input", err)
		return
	}
	defer src.Close()

	asset, err := h.ingest.Upload(c.Request.Context(), h.kind, file.Filename,
		file.Header.Get("Content-Type"), file.Size, src)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, UploadResponse{
		ID:       asset.ID.String(),
		Filename: asset.OriginalName,
		Size:     asset.SizeBytes,
		Message:  fmt.Sprintf("%s uploaded successfully", h.kind),
	})
}

func (h *mediaHandler) list(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	kind := h.kind
	assets, err := h.query.List(c.Request.Context(), &kind, limit, offset)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	out := make([]AssetSummary, 0, len(assets))
	for i := range assets {
		out = append(out, summarize(&assets[i]))
	}
	response.RespondOK(c, out)
}

func (h *mediaHandler) get(c *gin.Context) {
	id, ok := parseAssetID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	asset, err := h.query.GetAsset(ctx, id)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	if asset.Kind != h.kind {
		response.RespondError(c, http.StatusNotFound, "not_found",
			fmt.Errorf("no %s asset with id %s", h.kind, id))
		return
	}

	attrs, err := h.query.OriginalAttrs(ctx, asset)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}

	contentType := asset.MimeType
	if contentType == "" {
		contentType = attrs.ContentType
	}
	disposition := fmt.Sprintf("inline; filename=%q", utils.SanitizeFilename(asset.OriginalName))
	headers := map[string]string{
		"Content-Disposition": disposition,
		"Accept-Ranges":       "bytes",
	}

	if offset, length, ranged := parseByteRange(c.GetHeader("Range"), attrs.Size); ranged {
		rc, err := h.query.OpenOriginal(ctx, asset, offset, length)
		if err != nil {
			response.RespondDomainError(c, err)
			return
		}
		defer rc.Close()
		headers["Content-Range"] = fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, attrs.Size)
		c.DataFromReader(http.StatusPartialContent, length, contentType, rc, headers)
		return
	}

	rc, err := h.query.OpenOriginal(ctx, asset, 0, -1)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, attrs.Size, contentType, rc, headers)
}

func (h *mediaHandler) delete(c *gin.Context) {
	id, ok := parseAssetID(c)
	if !ok {
		return
	}
	if err := h.query.Delete(c.Request.Context(), id); err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": id.String()})
}

// retry re-enqueues a derived kind. The catalog guard means a pending entry
// is left alone; callers learn whether a new job was created.
func (h *mediaHandler) retry(c *gin.Context, kind media.DerivedKind) {
	id, ok := parseAssetID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if _, err := h.query.GetAsset(ctx, id); err != nil {
		response.RespondDomainError(c, err)
		return
	}
	enqueued, err := h.pipeline.Enqueue(dbctx.Context{Ctx: ctx}, id, kind, nil)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"enqueued": enqueued})
}
