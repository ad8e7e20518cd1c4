package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	assetRepo "github.com/yungbote/medialab-backend/internal/data/repos/assets"
	jobRepo "github.com/yungbote/medialab-backend/internal/data/repos/jobs"
	"github.com/yungbote/medialab-backend/internal/data/repos/testutil"
	httpRouter "github.com/yungbote/medialab-backend/internal/http"
	httpH "github.com/yungbote/medialab-backend/internal/http/handlers"
	"github.com/yungbote/medialab-backend/internal/platform/blob"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
	"github.com/yungbote/medialab-backend/internal/realtime"
	"github.com/yungbote/medialab-backend/internal/services"
)

var (
	ginModeOnce sync.Once
)

func newTestRouter(t *testing.T) *gin.Engine {
	return newTestRouterWithSensitivity(t, 0.5)
}

func newTestRouterWithSensitivity(t *testing.T, defaultSensitivity float64) *gin.Engine {
	t.Helper()
	ginModeOnce.Do(func() { gin.SetMode(gin.TestMode) })

	log, err := logger.New("test")
	require.NoError(t, err)
	gdb := testutil.DB(t)

	store, err := blob.NewLocalStore(log, t.TempDir())
	require.NoError(t, err)

	assets := assetRepo.NewAssetRepo(gdb, log)
	jobs := jobRepo.NewJobRunRepo(gdb, log)
	pipeline := services.NewPipelineService(log, assets, jobs, nil)
	artist := services.NewThumbnailArtist(log)
	analysis := services.NewAnalysisService(log, store, assets)
	ingest := services.NewIngestService(log, store, assets, pipeline, nil)
	query := services.NewQueryService(log, store, assets, artist, nil)
	hub := realtime.NewSSEHub(log)

	return httpRouter.NewRouter(httpRouter.RouterConfig{
		Log:             log,
		HealthHandler:   httpH.NewHealthHandler(),
		VideoHandler:    httpH.NewVideoHandler(log, ingest, query, pipeline),
		AudioHandler:    httpH.NewAudioHandler(log, ingest, query, pipeline, analysis, defaultSensitivity),
		RealtimeHandler: httpH.NewRealtimeHandler(log, hub),
	})
}

func multipartBody(t *testing.T, field, filename string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func uploadAudio(t *testing.T, r *gin.Engine, filename string, payload []byte) string {
	t.Helper()
	body, contentType := multipartBody(t, "audio", filename, payload)
	req := httptest.NewRequest(http.MethodPost, "/audio", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func audioPayload(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte((i*37 + 11) % 256)
	}
	return out
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestUploadMissingFieldRejected(t *testing.T) {
	r := newTestRouter(t)
	body, contentType := multipartBody(t, "wrongfield", "clip.mp4", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/videos", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadEmptyFileRejected(t *testing.T) {
	r := newTestRouter(t)
	body, contentType := multipartBody(t, "audio", "track.wav", nil)
	req := httptest.NewRequest(http.MethodPost, "/audio", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadAndFetchAudio(t *testing.T) {
	r := newTestRouter(t)
	payload := audioPayload(1000)
	id := uploadAudio(t, r, "track.wav", payload)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "track.wav")
}

func TestGetUnknownAudio404(t *testing.T) {
	r := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio/3f1a3a3e-58f0-4f9c-9a3d-111111111111", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRangeRequestReturnsPartialContent(t *testing.T) {
	r := newTestRouter(t)
	payload := audioPayload(100)
	id := uploadAudio(t, r, "track.wav", payload)

	req := httptest.NewRequest(http.MethodGet, "/audio/"+id, nil)
	req.Header.Set("Range", "bytes=10-19")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, payload[10:20], w.Body.Bytes())
	assert.Equal(t, fmt.Sprintf("bytes 10-19/%d", len(payload)), w.Header().Get("Content-Range"))
}

func TestListAudioOrderedByUpload(t *testing.T) {
	r := newTestRouter(t)
	uploadAudio(t, r, "first.wav", audioPayload(10))
	uploadAudio(t, r, "second.wav", audioPayload(20))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var out []struct {
		Filename string `json:"filename"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "first.wav", out[0].Filename)
	assert.Equal(t, "second.wav", out[1].Filename)
}

func TestThumbnailUnknownIDStill200(t *testing.T) {
	r := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/videos/3f1a3a3e-58f0-4f9c-9a3d-222222222222/thumbnail", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	img, err := jpeg.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, services.ThumbnailWidth, img.Bounds().Dx())
	assert.Equal(t, services.ThumbnailHeight, img.Bounds().Dy())
}

func TestAnalyzeFlow(t *testing.T) {
	r := newTestRouter(t)
	id := uploadAudio(t, r, "track.wav", audioPayload(1000))

	// Before any analysis runs, the read endpoint reports pending.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio/"+id+"/analysis", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)

	// Synchronous analyze produces markers and records the artifact.
	body := bytes.NewBufferString(`{"sensitivity": 0.8}`)
	req := httptest.NewRequest(http.MethodPost, "/audio/"+id+"/analyze", body)
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Markers    []float64 `json:"markers"`
		Duration   float64   `json:"duration"`
		SampleRate int       `json:"sample_rate"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Markers)
	assert.Greater(t, resp.Duration, 0.0)
	assert.Greater(t, resp.SampleRate, 0)
	assert.True(t, sort.Float64sAreSorted(resp.Markers))
	for _, m := range resp.Markers {
		assert.GreaterOrEqual(t, m, 0.0)
		assert.LessOrEqual(t, m, resp.Duration)
	}

	// The stored artifact is now readable.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio/"+id+"/analysis", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var stored struct {
		Markers []float64 `json:"markers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, resp.Markers, stored.Markers)
}

func TestAnalyzeUsesConfiguredDefaultSensitivity(t *testing.T) {
	r := newTestRouterWithSensitivity(t, 0.9)
	id := uploadAudio(t, r, "track.wav", audioPayload(1000))

	// No body at all; the handler falls back to the configured default,
	// which the stored artifact records.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/audio/"+id+"/analyze", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio/"+id+"/analysis", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var stored struct {
		Sensitivity float64 `json:"sensitivity"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, 0.9, stored.Sensitivity)
}

func TestAnalyzeRejectsOutOfRangeSensitivity(t *testing.T) {
	r := newTestRouter(t)
	id := uploadAudio(t, r, "track.wav", audioPayload(100))

	for _, raw := range []string{`{"sensitivity": -0.1}`, `{"sensitivity": 1.5}`} {
		req := httptest.NewRequest(http.MethodPost, "/audio/"+id+"/analyze", bytes.NewBufferString(raw))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, raw)
	}
}

func TestAnalyzeUnknownID404(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/audio/3f1a3a3e-58f0-4f9c-9a3d-333333333333/analyze", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetAnalysisUnknownID404(t *testing.T) {
	r := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio/3f1a3a3e-58f0-4f9c-9a3d-444444444444/analysis", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteAudio(t *testing.T) {
	r := newTestRouter(t)
	id := uploadAudio(t, r, "track.wav", audioPayload(50))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/audio/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio/"+id, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetryEndpointReportsEnqueueState(t *testing.T) {
	r := newTestRouter(t)
	id := uploadAudio(t, r, "track.wav", audioPayload(100))

	// Upload already set the entry pending, so retry is a no-op.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/audio/"+id+"/analysis/retry", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Enqueued bool `json:"enqueued"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Enqueued)
}

func TestMalformedAssetIDRejected(t *testing.T) {
	r := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
