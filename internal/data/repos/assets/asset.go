package assets

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/medialab-backend/internal/domain/media"
	"github.com/yungbote/medialab-backend/internal/pkg/dbctx"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
)

// AssetRepo is the catalog: the single source of truth for what exists. All
// derived-state transitions funnel through UpdateDerived so the
// at-most-one-pending invariant holds under concurrent callers.
type AssetRepo interface {
	Create(dbc dbctx.Context, asset *media.Asset) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*media.Asset, error)
	List(dbc dbctx.Context, kind *media.AssetKind, limit, offset int) ([]media.Asset, error)
	UpdateDerived(dbc dbctx.Context, id uuid.UUID, kind media.DerivedKind, next media.DerivedState) (bool, error)
	SetMediaInfo(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type assetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssetRepo(db *gorm.DB, log *logger.Logger) AssetRepo {
	return &assetRepo{db: db, log: log.With("repo", "AssetRepo")}
}

func (r *assetRepo) conn(dbc dbctx.Context) *gorm.DB {
	return dbc.Conn(r.db)
}

func (r *assetRepo) Create(dbc dbctx.Context, asset *media.Asset) error {
	if asset == nil || asset.ID == uuid.Nil {
		return fmt.Errorf("%w: asset id required", media.ErrInvalidInput)
	}
	if err := r.conn(dbc).Create(asset).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: id %s already cataloged", media.ErrConflict, asset.ID)
		}
		return fmt.Errorf("create asset: %w", err)
	}
	return nil
}

func (r *assetRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*media.Asset, error) {
	var asset media.Asset
	if err := r.conn(dbc).First(&asset, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, media.ErrNotFound
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return &asset, nil
}

// List returns assets ordered by upload time ascending. The id tiebreak keeps
// the ordering stable when two uploads land on the same timestamp.
func (r *assetRepo) List(dbc dbctx.Context, kind *media.AssetKind, limit, offset int) ([]media.Asset, error) {
	q := r.conn(dbc).Model(&media.Asset{}).Order("uploaded_at ASC, id ASC")
	if kind != nil {
		q = q.Where("kind = ?", *kind)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var out []media.Asset
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return out, nil
}

// UpdateDerived applies a compare-and-transition on one derived entry.
// Transitioning to pending while already pending is reported as
// (false, nil): the caller's enqueue becomes a no-op instead of a duplicate
// job. Unknown ids return media.ErrNotFound.
func (r *assetRepo) UpdateDerived(dbc dbctx.Context, id uuid.UUID, kind media.DerivedKind, next media.DerivedState) (bool, error) {
	applied := false
	err := r.conn(dbc).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var asset media.Asset
		if err := q.First(&asset, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return media.ErrNotFound
			}
			return fmt.Errorf("load asset: %w", err)
		}

		states, err := asset.DerivedStates()
		if err != nil {
			return err
		}
		cur := states[kind]
		if next.Status == media.DerivedStatusPending && cur.Status == media.DerivedStatusPending {
			return nil
		}
		states[kind] = next
		if err := asset.SetDerivedStates(states); err != nil {
			return err
		}

		res := tx.Model(&media.Asset{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"derived":    asset.Derived,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("update derived state: %w", res.Error)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *assetRepo) SetMediaInfo(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	res := r.conn(dbc).Model(&media.Asset{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("set media info: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return media.ErrNotFound
	}
	return nil
}

func (r *assetRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	res := r.conn(dbc).Delete(&media.Asset{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete asset: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return media.ErrNotFound
	}
	return nil
}
