// Package store is the State Store (C1): durable, conditionally-updated
// records for projects, tasks, and agents. It is grounded on the teacher's
// internal/data/repos/jobs/job_run.go — same GORM-over-Postgres shape, same
// dbctx.Context threading, same UpdateFields/claim idioms — generalized from
// a single job_run table into the three entities spec §3 names.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agentforge/buildpipeline/internal/domain"
	"github.com/agentforge/buildpipeline/internal/platform/dbctx"
	"github.com/agentforge/buildpipeline/internal/platform/ferrors"
	"github.com/agentforge/buildpipeline/internal/platform/logger"
)

// ProjectFilter narrows ProjectRepo.List (spec §4.1 "project-by-user,
// project-by-status" indexes).
type ProjectFilter struct {
	Status *domain.ProjectStatus
	UserID string
}

type ProjectPage struct {
	Items   []*domain.Project
	LastKey string // cursor: the ID of the last item returned
}

type ProjectRepo interface {
	Create(dbc dbctx.Context, p *domain.Project) error
	Get(dbc dbctx.Context, id uuid.UUID) (*domain.Project, error)
	GetByName(dbc dbctx.Context, name string) (*domain.Project, error)
	// Update loads the current row, applies mutate, and writes it back with
	// a WHERE version = expected guard; on a lost race it returns
	// ferrors.ErrConflict so the caller can retry with bounded attempts
	// (spec §4.1 concurrency contract).
	Update(dbc dbctx.Context, id uuid.UUID, mutate func(p *domain.Project) error) (*domain.Project, error)
	List(dbc dbctx.Context, filter ProjectFilter, lastKey string, limit int) (ProjectPage, error)
	DeleteCascade(dbc dbctx.Context, id uuid.UUID) error
}

type projectRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProjectRepo(db *gorm.DB, baseLog *logger.Logger) ProjectRepo {
	return &projectRepo{db: db, log: baseLog.With("repo", "ProjectRepo")}
}

func tx(dbc dbctx.Context, fallback *gorm.DB) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return fallback
}

func (r *projectRepo) Create(dbc dbctx.Context, p *domain.Project) error {
	if p == nil {
		return fmt.Errorf("%w: nil project", ferrors.ErrInvalidArgument)
	}
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Create(p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: project_name %q", ferrors.ErrAlreadyExists, p.ProjectName)
		}
		return err
	}
	return nil
}

func (r *projectRepo) Get(dbc dbctx.Context, id uuid.UUID) (*domain.Project, error) {
	var p domain.Project
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: project %s", ferrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *projectRepo) GetByName(dbc dbctx.Context, name string) (*domain.Project, error) {
	var p domain.Project
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Where("project_name = ?", name).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: project_name %q", ferrors.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Update is the CAS mutator spec §4.1 requires: `update_project(id, mutator,
// expected_version) -> Project | Conflict`. The expected version is the
// Version the row carries after mutate: the loaded one unless mutate
// replaced it (e.g. by writing back a stale copy). A concurrent writer
// bumping version first, or a stale expected version, causes
// RowsAffected=0, surfaced as ferrors.ErrConflict.
func (r *projectRepo) Update(dbc dbctx.Context, id uuid.UUID, mutate func(p *domain.Project) error) (*domain.Project, error) {
	transaction := tx(dbc, r.db)
	var result *domain.Project
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var p domain.Project
		if err := txx.Where("id = ?", id).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: project %s", ferrors.ErrNotFound, id)
			}
			return err
		}
		if err := mutate(&p); err != nil {
			return err
		}
		expected := p.Version
		p.Version = expected + 1
		p.UpdatedAt = time.Now().UTC()
		res := txx.Model(&domain.Project{}).
			Where("id = ? AND version = ?", id, expected).
			Select("*").
			Updates(&p)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: project %s version %d", ferrors.ErrConflict, id, expected)
		}
		result = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *projectRepo) List(dbc dbctx.Context, filter ProjectFilter, lastKey string, limit int) (ProjectPage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := tx(dbc, r.db).WithContext(dbc.Ctx).Model(&domain.Project{}).Order("id ASC").Limit(limit)
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if lastKey != "" {
		q = q.Where("id > ?", lastKey)
	}
	var items []*domain.Project
	if err := q.Find(&items).Error; err != nil {
		return ProjectPage{}, err
	}
	page := ProjectPage{Items: items}
	if len(items) > 0 {
		page.LastKey = items[len(items)-1].ID.String()
	}
	return page, nil
}

// DeleteCascade removes the project and every Task/Agent row referencing
// it. Idempotent: deleting a project that no longer exists is not an error
// (spec §4.1). Uses Unscoped() to hard-delete rather than GORM's default
// soft delete (all three entities carry a DeletedAt column): ProjectName
// carries a plain uniqueIndex, so a soft-deleted Project would still
// occupy it and reject a re-Submit of the same name, breaking spec §8's
// round-trip law ("delete cascade then re-create with the same name
// succeeds").
func (r *projectRepo) DeleteCascade(dbc dbctx.Context, id uuid.UUID) error {
	transaction := tx(dbc, r.db)
	return transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Unscoped().Where("project_id = ?", id).Delete(&domain.Task{}).Error; err != nil {
			return err
		}
		if err := txx.Unscoped().Where("project_id = ?", id).Delete(&domain.Agent{}).Error; err != nil {
			return err
		}
		if err := txx.Unscoped().Where("id = ?", id).Delete(&domain.Project{}).Error; err != nil {
			return err
		}
		return nil
	})
}
