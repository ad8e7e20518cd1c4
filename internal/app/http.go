package app

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/medialab-backend/internal/http"
	httpH "github.com/yungbote/medialab-backend/internal/http/handlers"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
	"github.com/yungbote/medialab-backend/internal/realtime"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Video    *httpH.VideoHandler
	Audio    *httpH.AudioHandler
	Realtime *httpH.RealtimeHandler
}

func wireHandlers(log *logger.Logger, cfg Config, services Services, hub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(),
		Video:    httpH.NewVideoHandler(log, services.Ingest, services.Query, services.Pipeline),
		Audio:    httpH.NewAudioHandler(log, services.Ingest, services.Query, services.Pipeline, services.Analysis, cfg.DefaultSensitivity),
		Realtime: httpH.NewRealtimeHandler(log, hub),
	}
}

func wireRouter(log *logger.Logger, cfg Config, handlers Handlers) *gin.Engine {
	return http.NewRouter(http.RouterConfig{
		Log:             log,
		HealthHandler:   handlers.Health,
		VideoHandler:    handlers.Video,
		AudioHandler:    handlers.Audio,
		RealtimeHandler: handlers.Realtime,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		CORSOrigins:     cfg.CORSOrigins,
		GinMode:         cfg.GinMode,
	})
}
