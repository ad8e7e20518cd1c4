package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	assetRepo "github.com/yungbote/medialab-backend/internal/data/repos/assets"
	jobRepo "github.com/yungbote/medialab-backend/internal/data/repos/jobs"
	"github.com/yungbote/medialab-backend/internal/data/repos/testutil"
	jobsDomain "github.com/yungbote/medialab-backend/internal/domain/jobs"
	"github.com/yungbote/medialab-backend/internal/pkg/dbctx"
)

func seedRunningJob(t *testing.T, repo jobRepo.JobRunRepo) *jobsDomain.JobRun {
	t.Helper()
	now := time.Now().UTC()
	job := &jobsDomain.JobRun{
		ID:          uuid.New(),
		JobType:     "audio_analyze",
		AssetID:     uuid.New(),
		DerivedKind: "transient_markers",
		Status:      jobsDomain.StatusRunning,
		Attempts:    1,
		LockedAt:    &now,
		HeartbeatAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, repo.Create(dbctx.Context{Ctx: context.Background()}, job))
	return job
}

// A run that blows its deadline must still end up failed in the queue. If the
// terminal write were issued under the expired run context it would be
// dropped, leaving the row running with a stale heartbeat, and the claim
// query would eventually re-execute a job that was already reported failed.
func TestFailPersistsAfterRunContextExpires(t *testing.T) {
	log := testutil.Logger(t)
	gdb := testutil.DB(t)
	repo := jobRepo.NewJobRunRepo(gdb, log)
	assets := assetRepo.NewAssetRepo(gdb, log)
	job := seedRunningJob(t, repo)

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	jc := NewContext(expired, gdb, log, job, repo, assets, nil)
	jc.Fail("run", errors.New("timeout"))

	got, err := repo.GetByID(dbctx.Context{Ctx: context.Background()}, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobsDomain.StatusFailed, got.Status)
	assert.Equal(t, "timeout", got.Error)
	assert.Nil(t, got.LockedAt)
}

func TestSucceedPersistsAfterRunContextExpires(t *testing.T) {
	log := testutil.Logger(t)
	gdb := testutil.DB(t)
	repo := jobRepo.NewJobRunRepo(gdb, log)
	assets := assetRepo.NewAssetRepo(gdb, log)
	job := seedRunningJob(t, repo)

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	jc := NewContext(expired, gdb, log, job, repo, assets, nil)
	jc.Succeed("done", map[string]any{"ok": true})

	got, err := repo.GetByID(dbctx.Context{Ctx: context.Background()}, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobsDomain.StatusSucceeded, got.Status)
	assert.Nil(t, got.LockedAt)
}

// The canceled guard still wins over a terminal write.
func TestFailDoesNotOverwriteCanceledRun(t *testing.T) {
	log := testutil.Logger(t)
	gdb := testutil.DB(t)
	repo := jobRepo.NewJobRunRepo(gdb, log)
	assets := assetRepo.NewAssetRepo(gdb, log)
	job := seedRunningJob(t, repo)

	ctx := context.Background()
	_, err := repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, job.ID, nil, map[string]interface{}{
		"status": jobsDomain.StatusCanceled,
	})
	require.NoError(t, err)

	jc := NewContext(ctx, gdb, log, job, repo, assets, nil)
	jc.Fail("run", errors.New("late failure"))

	got, err := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobsDomain.StatusCanceled, got.Status)
}
