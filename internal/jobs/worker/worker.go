package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	assetRepo "github.com/yungbote/medialab-backend/internal/data/repos/assets"
	jobRepo "github.com/yungbote/medialab-backend/internal/data/repos/jobs"
	"github.com/yungbote/medialab-backend/internal/domain/media"
	"github.com/yungbote/medialab-backend/internal/jobs/runtime"
	"github.com/yungbote/medialab-backend/internal/pkg/dbctx"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
	"github.com/yungbote/medialab-backend/internal/realtime"

	"gorm.io/gorm"
)

type Config struct {
	Concurrency  int
	JobTimeout   time.Duration
	PollInterval time.Duration
	StaleRunning time.Duration
}

// Worker drains the job_run queue. Each claimed job runs under its own
// timeout; a timed-out or failed job marks the matching derived entry failed
// so the catalog never stays pending forever.
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     jobRepo.JobRunRepo
	assets   assetRepo.AssetRepo
	registry *runtime.Registry
	notify   func(msg realtime.SSEMessage)
	cfg      Config
}

func New(db *gorm.DB, log *logger.Logger, repo jobRepo.JobRunRepo, assets assetRepo.AssetRepo, registry *runtime.Registry, notify func(msg realtime.SSEMessage), cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StaleRunning <= 0 {
		cfg.StaleRunning = 30 * time.Minute
	}
	return &Worker{
		db:       db,
		log:      log.With("service", "JobWorker"),
		repo:     repo,
		assets:   assets,
		registry: registry,
		notify:   notify,
		cfg:      cfg,
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker", "concurrency", w.cfg.Concurrency, "job_timeout", w.cfg.JobTimeout.String())
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		slot := i
		g.Go(func() error {
			w.runLoop(gctx, slot)
			return nil
		})
	}
	go func() { _ = g.Wait() }()
}

func (w *Worker) runLoop(ctx context.Context, slot int) {
	log := w.log.With("slot", slot)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Job worker loop stopping")
			return
		case <-ticker.C:
			for {
				claimed, err := w.runOnce(ctx, log)
				if err != nil {
					log.Error("Job claim failed", "error", err)
					break
				}
				if !claimed {
					break
				}
			}
		}
	}
}

// runOnce claims and executes at most one job. Reports whether a job was
// claimed so the loop can drain the queue without waiting on the ticker.
func (w *Worker) runOnce(ctx context.Context, log *logger.Logger) (bool, error) {
	job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.cfg.StaleRunning)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log = log.With("job_id", job.ID, "job_type", job.JobType, "asset_id", job.AssetID)

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	jc := runtime.NewContext(runCtx, w.db, log, job, w.repo, w.assets, w.notify)

	handler, ok := w.registry.Get(job.JobType)
	if !ok {
		reason := fmt.Sprintf("no handler registered for job type %q", job.JobType)
		jc.Fail("dispatch", errors.New(reason))
		w.markDerivedFailed(ctx, job.AssetID, job.DerivedKind, reason)
		return true, nil
	}

	runErr := w.safeRun(handler, jc)
	if runErr != nil {
		reason := runErr.Error()
		if errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		log.Error("Job failed", "stage", job.Stage, "error", reason)
		jc.Fail("run", errors.New(reason))
		w.markDerivedFailed(ctx, job.AssetID, job.DerivedKind, reason)
	}
	return true, nil
}

func (w *Worker) safeRun(handler runtime.Handler, jc *runtime.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler.Run(jc)
}

// markDerivedFailed uses the parent context, not the job context: a timed-out
// job must still be able to record its failure.
func (w *Worker) markDerivedFailed(ctx context.Context, assetID uuid.UUID, kind string, reason string) {
	now := time.Now().UTC()
	if _, err := w.assets.UpdateDerived(dbctx.Context{Ctx: ctx}, assetID, media.DerivedKind(kind), media.DerivedState{
		Status:   media.DerivedStatusFailed,
		Reason:   reason,
		FailedAt: &now,
	}); err != nil && !errors.Is(err, media.ErrNotFound) {
		w.log.Error("Failed to mark derived state failed", "asset_id", assetID, "derived_kind", kind, "error", err)
	}
}
