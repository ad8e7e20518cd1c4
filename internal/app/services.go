package app

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/medialab-backend/internal/jobs/pipeline"
	"github.com/yungbote/medialab-backend/internal/jobs/runtime"
	"github.com/yungbote/medialab-backend/internal/jobs/worker"
	"github.com/yungbote/medialab-backend/internal/platform/blob"
	"github.com/yungbote/medialab-backend/internal/platform/localmedia"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
	"github.com/yungbote/medialab-backend/internal/realtime"
	"github.com/yungbote/medialab-backend/internal/realtime/bus"
	"github.com/yungbote/medialab-backend/internal/services"
)

type Services struct {
	Pipeline services.PipelineService
	Ingest   services.IngestService
	Query    services.QueryService
	Analysis services.AnalysisService
	Waveform services.WaveformRenderer
	Artist   services.ThumbnailArtist

	Registry  *runtime.Registry
	JobWorker *worker.Worker
	Bus       bus.Bus
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, store blob.Store, repos Repos, hub *realtime.SSEHub) (Services, error) {
	log.Info("Wiring services...")

	// Everything goes through the bus; the forwarder started in App.Start
	// delivers to the local hub, so each message reaches clients exactly once
	// whether the bus is in-process or redis.
	sseBus := selectBus(log, cfg)
	notify := func(msg realtime.SSEMessage) {
		if err := sseBus.Publish(context.Background(), msg); err != nil {
			log.Warn("SSE publish failed", "channel", msg.Channel, "error", err)
		}
	}

	artist := services.NewThumbnailArtist(log)
	analysis := services.NewAnalysisService(log, store, repos.Assets)
	waveform := services.NewWaveformRenderer(log)
	pipelineSvc := services.NewPipelineService(log, repos.Assets, repos.Jobs, notify)
	ingest := services.NewIngestService(log, store, repos.Assets, pipelineSvc, notify)
	query := services.NewQueryService(log, store, repos.Assets, artist, notify)

	tools := localmedia.New(log)

	registry := runtime.NewRegistry()
	if err := registry.Register(pipeline.NewThumbnailGenerate(log, store, tools, artist)); err != nil {
		return Services{}, err
	}
	if err := registry.Register(pipeline.NewAudioAnalyze(log, analysis)); err != nil {
		return Services{}, err
	}
	if err := registry.Register(pipeline.NewWaveformRender(log, store, analysis, waveform)); err != nil {
		return Services{}, err
	}

	jobWorker := worker.New(db, log, repos.Jobs, repos.Assets, registry, notify, worker.Config{
		Concurrency: cfg.WorkerConcurrency,
		JobTimeout:  cfg.JobTimeout,
	})

	return Services{
		Pipeline:  pipelineSvc,
		Ingest:    ingest,
		Query:     query,
		Analysis:  analysis,
		Waveform:  waveform,
		Artist:    artist,
		Registry:  registry,
		JobWorker: jobWorker,
		Bus:       sseBus,
	}, nil
}

// selectBus prefers redis when configured so multiple instances share one SSE
// stream, and quietly degrades to the in-process bus otherwise.
func selectBus(log *logger.Logger, cfg Config) bus.Bus {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return bus.NewLocalBus()
	}
	b, err := bus.NewRedisBus(log, cfg.RedisAddr)
	if err != nil {
		log.Warn("Redis SSE bus unavailable, falling back to local bus", "error", err)
		return bus.NewLocalBus()
	}
	return b
}
