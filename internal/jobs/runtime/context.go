package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	assetRepo "github.com/yungbote/medialab-backend/internal/data/repos/assets"
	jobRepo "github.com/yungbote/medialab-backend/internal/data/repos/jobs"
	jobsDomain "github.com/yungbote/medialab-backend/internal/domain/jobs"
	"github.com/yungbote/medialab-backend/internal/pkg/dbctx"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
	"github.com/yungbote/medialab-backend/internal/realtime"
)

// Context is the execution handle for a single claimed job run. Handlers
// never touch the job_run row directly; lifecycle transitions go through
// Progress/Fail/Succeed so the canceled guard stays in one place.
type Context struct {
	Ctx     context.Context
	DB      *gorm.DB
	Log     *logger.Logger
	Job     *jobsDomain.JobRun
	Repo    jobRepo.JobRunRepo
	Assets  assetRepo.AssetRepo
	Notify  func(msg realtime.SSEMessage)
	payload map[string]any
}

// NewContext eagerly decodes the job payload. A malformed payload decodes to
// an empty map; handlers validate the fields they require.
func NewContext(ctx context.Context, db *gorm.DB, log *logger.Logger, job *jobsDomain.JobRun, repo jobRepo.JobRunRepo, assets assetRepo.AssetRepo, notify func(msg realtime.SSEMessage)) *Context {
	c := &Context{
		Ctx:    ctx,
		DB:     db,
		Log:    log,
		Job:    job,
		Repo:   repo,
		Assets: assets,
		Notify: notify,
	}
	_ = c.decodePayload()
	return c
}

// terminalCtx detaches the run context's cancellation so a terminal status
// write still lands after the job deadline expired. A timed-out run must end
// up failed in the queue, never stuck running and reclaimable.
func (c *Context) terminalCtx() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(c.Ctx)
}

func (c *Context) decodePayload() error {
	if c.Job == nil {
		return nil
	}
	if len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *Context) PayloadFloat(key string) (float64, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func (c *Context) emit(event realtime.SSEEvent, data any) {
	if c.Notify == nil || c.Job == nil {
		return
	}
	c.Notify(realtime.SSEMessage{
		Channel: realtime.AssetChannel(c.Job.AssetID),
		Event:   event,
		Data:    data,
	})
	c.Notify(realtime.SSEMessage{
		Channel: realtime.ChannelAssets,
		Event:   event,
		Data:    data,
	})
}

// Progress publishes a non-terminal status update and refreshes the
// heartbeat. Canceled jobs are not overwritten; in that case the update is
// silently dropped.
func (c *Context) Progress(stage string, pct int, msg string) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UTC()

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Job.ID, []string{jobsDomain.StatusCanceled}, map[string]interface{}{
			"stage":        stage,
			"progress":     pct,
			"heartbeat_at": now,
		})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Stage = stage
		c.Job.Progress = pct
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}

	c.emit(realtime.SSEEventDerivedPending, map[string]any{
		"job_id":       c.Job.ID,
		"asset_id":     c.Job.AssetID,
		"derived_kind": c.Job.DerivedKind,
		"stage":        stage,
		"progress":     pct,
		"message":      msg,
	})
}

// Fail marks the run terminally failed and clears the lock so the row is not
// mistaken for in-progress work.
func (c *Context) Fail(stage string, err error) {
	if c == nil {
		return
	}
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, uerr := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.terminalCtx()}, c.Job.ID, []string{jobsDomain.StatusCanceled}, map[string]interface{}{
			"status":        jobsDomain.StatusFailed,
			"stage":         stage,
			"error":         msg,
			"last_error_at": now,
			"locked_at":     nil,
		})
		if uerr != nil && c.Log != nil {
			c.Log.Error("Failed to persist job failure", "job_id", c.Job.ID, "error", uerr)
		}
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Status = jobsDomain.StatusFailed
		c.Job.Stage = stage
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.LockedAt = nil
		c.Job.UpdatedAt = now
	}

	c.emit(realtime.SSEEventDerivedFailed, map[string]any{
		"job_id":       c.Job.ID,
		"asset_id":     c.Job.AssetID,
		"derived_kind": c.Job.DerivedKind,
		"stage":        stage,
		"error":        msg,
	})
}

// Succeed marks the run terminally succeeded and persists the result payload.
func (c *Context) Succeed(finalStage string, result map[string]any) {
	if c == nil {
		return
	}
	now := time.Now().UTC()

	raw, err := json.Marshal(result)
	if err != nil {
		raw = []byte("{}")
	}

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, uerr := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.terminalCtx()}, c.Job.ID, []string{jobsDomain.StatusCanceled}, map[string]interface{}{
			"status":    jobsDomain.StatusSucceeded,
			"stage":     finalStage,
			"progress":  100,
			"result":    datatypes.JSON(raw),
			"locked_at": nil,
		})
		if uerr != nil && c.Log != nil {
			c.Log.Error("Failed to persist job success", "job_id", c.Job.ID, "error", uerr)
		}
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Status = jobsDomain.StatusSucceeded
		c.Job.Stage = finalStage
		c.Job.Progress = 100
		c.Job.Result = datatypes.JSON(raw)
		c.Job.LockedAt = nil
		c.Job.UpdatedAt = now
	}

	c.emit(realtime.SSEEventDerivedReady, map[string]any{
		"job_id":       c.Job.ID,
		"asset_id":     c.Job.AssetID,
		"derived_kind": c.Job.DerivedKind,
		"stage":        finalStage,
		"result":       result,
	})
}
