package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	jobsDomain "github.com/yungbote/medialab-backend/internal/domain/jobs"
	"github.com/yungbote/medialab-backend/internal/pkg/dbctx"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
)

var ErrJobNotFound = errors.New("job not found")

type JobRunRepo interface {
	Create(dbc dbctx.Context, job *jobsDomain.JobRun) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*jobsDomain.JobRun, error)
	ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]jobsDomain.JobRun, error)

	// ClaimNextRunnable atomically claims the oldest queued job, or a running
	// job whose heartbeat went stale (crash recovery). Failed jobs are never
	// reclaimed; retries arrive as fresh queued rows. Returns (nil, nil) when
	// nothing is runnable.
	ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*jobsDomain.JobRun, error)

	// UpdateFieldsUnlessStatus applies updates unless the job has moved into
	// one of the blocked statuses. Reports whether a row changed.
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, blockedStatuses []string, updates map[string]interface{}) (bool, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, log *logger.Logger) JobRunRepo {
	return &jobRunRepo{db: db, log: log.With("repo", "JobRunRepo")}
}

func (r *jobRunRepo) conn(dbc dbctx.Context) *gorm.DB {
	return dbc.Conn(r.db)
}

func (r *jobRunRepo) Create(dbc dbctx.Context, job *jobsDomain.JobRun) error {
	if job == nil || job.ID == uuid.Nil {
		return fmt.Errorf("job id required")
	}
	if err := r.conn(dbc).Create(job).Error; err != nil {
		return fmt.Errorf("create job run: %w", err)
	}
	return nil
}

func (r *jobRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*jobsDomain.JobRun, error) {
	var job jobsDomain.JobRun
	if err := r.conn(dbc).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job run: %w", err)
	}
	return &job, nil
}

func (r *jobRunRepo) ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]jobsDomain.JobRun, error) {
	var out []jobsDomain.JobRun
	if err := r.conn(dbc).
		Where("asset_id = ?", assetID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	return out, nil
}

func (r *jobRunRepo) ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*jobsDomain.JobRun, error) {
	var claimed *jobsDomain.JobRun

	err := r.conn(dbc).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		staleCutoff := now.Add(-staleRunning)

		q := tx.Model(&jobsDomain.JobRun{}).
			Where("status = ?", jobsDomain.StatusQueued).
			Or(tx.Where("status = ?", jobsDomain.StatusRunning).Where("heartbeat_at IS NOT NULL AND heartbeat_at < ?", staleCutoff)).
			Order("created_at ASC")
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var job jobsDomain.JobRun
		if err := q.First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("select runnable job: %w", err)
		}

		updates := map[string]interface{}{
			"status":       jobsDomain.StatusRunning,
			"stage":        "running",
			"attempts":     job.Attempts + 1,
			"locked_at":    now,
			"heartbeat_at": now,
			"updated_at":   now,
		}
		if err := tx.Model(&jobsDomain.JobRun{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("claim job: %w", err)
		}

		job.Status = jobsDomain.StatusRunning
		job.Stage = "running"
		job.Attempts++
		job.LockedAt = &now
		job.HeartbeatAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, blockedStatuses []string, updates map[string]interface{}) (bool, error) {
	if len(updates) == 0 {
		return false, nil
	}
	updates["updated_at"] = time.Now().UTC()

	q := r.conn(dbc).Model(&jobsDomain.JobRun{}).Where("id = ?", id)
	if len(blockedStatuses) > 0 {
		q = q.Where("status NOT IN ?", blockedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update job run: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
