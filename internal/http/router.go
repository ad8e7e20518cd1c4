package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/medialab-backend/internal/http/handlers"
	httpMW "github.com/yungbote/medialab-backend/internal/http/middleware"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	VideoHandler    *httpH.VideoHandler
	AudioHandler    *httpH.AudioHandler
	RealtimeHandler *httpH.RealtimeHandler
	HealthHandler   *httpH.HealthHandler

	MaxUploadBytes int64
	CORSOrigins    string
	GinMode        string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("medialab"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	if cfg.MaxUploadBytes > 0 {
		r.MaxMultipartMemory = cfg.MaxUploadBytes
		limit := cfg.MaxUploadBytes
		r.Use(func(c *gin.Context) {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
			c.Next()
		})
	}

	if cfg.HealthHandler != nil {
		r.GET("/health", cfg.HealthHandler.HealthCheck)
	}

	if cfg.VideoHandler != nil {
		r.POST("/videos", cfg.VideoHandler.Upload)
		r.GET("/videos", cfg.VideoHandler.List)
		r.GET("/videos/:id", cfg.VideoHandler.Get)
		r.DELETE("/videos/:id", cfg.VideoHandler.Delete)
		r.GET("/videos/:id/thumbnail", cfg.VideoHandler.Thumbnail)
		r.POST("/videos/:id/thumbnail/retry", cfg.VideoHandler.RetryThumbnail)
	}

	if cfg.AudioHandler != nil {
		r.POST("/audio", cfg.AudioHandler.Upload)
		r.GET("/audio", cfg.AudioHandler.List)
		r.GET("/audio/:id", cfg.AudioHandler.Get)
		r.DELETE("/audio/:id", cfg.AudioHandler.Delete)
		r.POST("/audio/:id/analyze", cfg.AudioHandler.Analyze)
		r.GET("/audio/:id/analysis", cfg.AudioHandler.GetAnalysis)
		r.POST("/audio/:id/analysis/retry", cfg.AudioHandler.RetryAnalysis)
		r.GET("/audio/:id/waveform", cfg.AudioHandler.Waveform)
	}

	if cfg.RealtimeHandler != nil {
		r.GET("/events", cfg.RealtimeHandler.Stream)
	}

	return r
}
