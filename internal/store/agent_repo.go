package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agentforge/buildpipeline/internal/domain"
	"github.com/agentforge/buildpipeline/internal/platform/dbctx"
	"github.com/agentforge/buildpipeline/internal/platform/ferrors"
	"github.com/agentforge/buildpipeline/internal/platform/logger"
)

// AgentRepo is the read/write surface over built agents (spec §3 "Agent").
// Created once by agent_developer_manager; this module never mutates an
// Agent afterward (invocation/session handling is an out-of-scope
// collaborator per spec §1).
type AgentRepo interface {
	Create(dbc dbctx.Context, a *domain.Agent) error
	Get(dbc dbctx.Context, id string) (*domain.Agent, error)
	ListByProject(dbc dbctx.Context, projectID uuid.UUID) ([]*domain.Agent, error)
}

type agentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAgentRepo(db *gorm.DB, baseLog *logger.Logger) AgentRepo {
	return &agentRepo{db: db, log: baseLog.With("repo", "AgentRepo")}
}

func (r *agentRepo) Create(dbc dbctx.Context, a *domain.Agent) error {
	if a == nil {
		return fmt.Errorf("%w: nil agent", ferrors.ErrInvalidArgument)
	}
	return tx(dbc, r.db).WithContext(dbc.Ctx).Create(a).Error
}

func (r *agentRepo) Get(dbc dbctx.Context, id string) (*domain.Agent, error) {
	var a domain.Agent
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: agent %s", ferrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *agentRepo) ListByProject(dbc dbctx.Context, projectID uuid.UUID) ([]*domain.Agent, error) {
	var out []*domain.Agent
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Where("project_id = ?", projectID).Find(&out).Error
	return out, err
}
