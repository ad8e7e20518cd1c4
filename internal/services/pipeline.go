package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	assetRepo "github.com/yungbote/medialab-backend/internal/data/repos/assets"
	jobRepo "github.com/yungbote/medialab-backend/internal/data/repos/jobs"
	jobsDomain "github.com/yungbote/medialab-backend/internal/domain/jobs"
	"github.com/yungbote/medialab-backend/internal/domain/media"
	"github.com/yungbote/medialab-backend/internal/pkg/dbctx"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
	"github.com/yungbote/medialab-backend/internal/realtime"
)

const (
	JobTypeThumbnailGenerate = "thumbnail_generate"
	JobTypeAudioAnalyze      = "audio_analyze"
	JobTypeWaveformRender    = "waveform_render"
)

func JobTypeFor(kind media.DerivedKind) (string, error) {
	switch kind {
	case media.DerivedKindThumbnail:
		return JobTypeThumbnailGenerate, nil
	case media.DerivedKindTransientMarkers:
		return JobTypeAudioAnalyze, nil
	case media.DerivedKindWaveform:
		return JobTypeWaveformRender, nil
	}
	return "", fmt.Errorf("no job type for derived kind %q", kind)
}

// PipelineService is the only enqueue path for derived-asset jobs. The
// catalog's compare-and-transition guard runs first, so concurrent enqueues
// for the same (asset, kind) collapse into one queued job.
type PipelineService interface {
	// Enqueue reports false when the entry was already pending and no new
	// job was created.
	Enqueue(dbc dbctx.Context, assetID uuid.UUID, kind media.DerivedKind, payload map[string]any) (bool, error)
}

type pipelineService struct {
	log    *logger.Logger
	assets assetRepo.AssetRepo
	jobs   jobRepo.JobRunRepo
	notify func(msg realtime.SSEMessage)
}

func NewPipelineService(log *logger.Logger, assets assetRepo.AssetRepo, jobs jobRepo.JobRunRepo, notify func(msg realtime.SSEMessage)) PipelineService {
	return &pipelineService{
		log:    log.With("service", "PipelineService"),
		assets: assets,
		jobs:   jobs,
		notify: notify,
	}
}

func (s *pipelineService) Enqueue(dbc dbctx.Context, assetID uuid.UUID, kind media.DerivedKind, payload map[string]any) (bool, error) {
	jobType, err := JobTypeFor(kind)
	if err != nil {
		return false, err
	}

	applied, err := s.assets.UpdateDerived(dbc, assetID, kind, media.DerivedState{Status: media.DerivedStatusPending})
	if err != nil {
		return false, err
	}
	if !applied {
		s.log.Debug("Enqueue skipped, job already pending", "asset_id", assetID, "derived_kind", kind)
		return false, nil
	}

	if payload == nil {
		payload = map[string]any{}
	}
	payload["asset_id"] = assetID.String()
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode job payload: %w", err)
	}

	job := &jobsDomain.JobRun{
		ID:          uuid.New(),
		JobType:     jobType,
		AssetID:     assetID,
		DerivedKind: string(kind),
		Status:      jobsDomain.StatusQueued,
		Stage:       "queued",
		Payload:     datatypes.JSON(raw),
		Result:      datatypes.JSON([]byte("{}")),
	}
	if err := s.jobs.Create(dbc, job); err != nil {
		// A pending entry with no backing job would be stuck forever; record
		// the enqueue failure on the derived state instead.
		now := time.Now().UTC()
		if _, derr := s.assets.UpdateDerived(dbc, assetID, kind, media.DerivedState{
			Status:   media.DerivedStatusFailed,
			Reason:   fmt.Sprintf("enqueue failed: %v", err),
			FailedAt: &now,
		}); derr != nil {
			s.log.Error("Failed to roll back pending state after enqueue failure", "asset_id", assetID, "error", derr)
		}
		return false, fmt.Errorf("enqueue %s: %w", jobType, err)
	}

	if s.notify != nil {
		msg := realtime.SSEMessage{
			Channel: realtime.AssetChannel(assetID),
			Event:   realtime.SSEEventDerivedPending,
			Data: map[string]any{
				"asset_id":     assetID,
				"derived_kind": kind,
				"job_id":       job.ID,
			},
		}
		s.notify(msg)
		msg.Channel = realtime.ChannelAssets
		s.notify(msg)
	}
	return true, nil
}
