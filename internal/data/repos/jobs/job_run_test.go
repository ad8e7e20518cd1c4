package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/medialab-backend/internal/data/repos/testutil"
	jobsDomain "github.com/yungbote/medialab-backend/internal/domain/jobs"
	"github.com/yungbote/medialab-backend/internal/pkg/dbctx"
)

func seedJob(t *testing.T, repo JobRunRepo, status string, createdAt time.Time) *jobsDomain.JobRun {
	t.Helper()
	job := &jobsDomain.JobRun{
		ID:          uuid.New(),
		JobType:     "audio_analyze",
		AssetID:     uuid.New(),
		DerivedKind: "transient_markers",
		Status:      status,
		Stage:       "queued",
		Payload:     datatypes.JSON([]byte(`{}`)),
		Result:      datatypes.JSON([]byte(`{}`)),
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	require.NoError(t, repo.Create(dbctx.Context{Ctx: context.Background()}, job))
	return job
}

func TestClaimNextRunnableOldestFirst(t *testing.T) {
	repo := NewJobRunRepo(testutil.DB(t), testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	newer := seedJob(t, repo, jobsDomain.StatusQueued, base.Add(time.Minute))
	older := seedJob(t, repo, jobsDomain.StatusQueued, base)

	claimed, err := repo.ClaimNextRunnable(dbc, 30*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, older.ID, claimed.ID)
	assert.Equal(t, jobsDomain.StatusRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	require.NotNil(t, claimed.LockedAt)

	claimed, err = repo.ClaimNextRunnable(dbc, 30*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, newer.ID, claimed.ID)

	claimed, err = repo.ClaimNextRunnable(dbc, 30*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestClaimSkipsFailedJobs(t *testing.T) {
	repo := NewJobRunRepo(testutil.DB(t), testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	seedJob(t, repo, jobsDomain.StatusFailed, time.Now().UTC().Add(-time.Hour))

	claimed, err := repo.ClaimNextRunnable(dbc, 30*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestClaimReclaimsStaleRunning(t *testing.T) {
	gdb := testutil.DB(t)
	repo := NewJobRunRepo(gdb, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	job := seedJob(t, repo, jobsDomain.StatusRunning, time.Now().UTC().Add(-time.Hour))
	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, gdb.Model(&jobsDomain.JobRun{}).Where("id = ?", job.ID).
		Update("heartbeat_at", stale).Error)

	claimed, err := repo.ClaimNextRunnable(dbc, 30*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, 1, claimed.Attempts)
}

func TestClaimLeavesFreshRunningAlone(t *testing.T) {
	gdb := testutil.DB(t)
	repo := NewJobRunRepo(gdb, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	job := seedJob(t, repo, jobsDomain.StatusRunning, time.Now().UTC())
	now := time.Now().UTC()
	require.NoError(t, gdb.Model(&jobsDomain.JobRun{}).Where("id = ?", job.ID).
		Update("heartbeat_at", now).Error)

	claimed, err := repo.ClaimNextRunnable(dbc, 30*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestUpdateFieldsUnlessStatus(t *testing.T) {
	repo := NewJobRunRepo(testutil.DB(t), testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	job := seedJob(t, repo, jobsDomain.StatusQueued, time.Now().UTC())

	ok, err := repo.UpdateFieldsUnlessStatus(dbc, job.ID, []string{jobsDomain.StatusCanceled}, map[string]interface{}{
		"stage":    "render",
		"progress": 40,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(dbc, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "render", got.Stage)
	assert.Equal(t, 40, got.Progress)

	// Once canceled, further updates are rejected.
	ok, err = repo.UpdateFieldsUnlessStatus(dbc, job.ID, nil, map[string]interface{}{
		"status": jobsDomain.StatusCanceled,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateFieldsUnlessStatus(dbc, job.ID, []string{jobsDomain.StatusCanceled}, map[string]interface{}{
		"stage": "late-update",
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListByAsset(t *testing.T) {
	repo := NewJobRunRepo(testutil.DB(t), testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	job := seedJob(t, repo, jobsDomain.StatusQueued, time.Now().UTC())
	seedJob(t, repo, jobsDomain.StatusQueued, time.Now().UTC())

	out, err := repo.ListByAsset(dbc, job.AssetID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, job.ID, out[0].ID)
}

func TestGetByIDUnknown(t *testing.T) {
	repo := NewJobRunRepo(testutil.DB(t), testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	_, err := repo.GetByID(dbc, uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
}
