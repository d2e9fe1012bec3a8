// Package buildservice is the request-handler layer spec §3 refers to as
// the project's creator ("created by request handler") and spec §6
// describes as the core's "External Interfaces": Submit build, List
// projects, Get project, Get build dashboard, Control project, Delete
// project. The wire format (REST/SSE) and auth are out of scope (spec §1);
// this package is the validated, in-process boundary a transport layer
// would call into — every validation rule named in spec §6 lives here, not
// in a handler the spec explicitly excludes.
//
// Grounded on the teacher's internal/services/job_service.go: a thin
// service wrapping a repo with request-shaped validation and a single
// Enqueue-then-notify method, generalized from one JobService to the five
// verbs spec §6 names plus project creation.
package buildservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/agentforge/buildpipeline/internal/dashboard"
	"github.com/agentforge/buildpipeline/internal/domain"
	"github.com/agentforge/buildpipeline/internal/platform/dbctx"
	"github.com/agentforge/buildpipeline/internal/platform/ferrors"
	"github.com/agentforge/buildpipeline/internal/platform/logger"
	"github.com/agentforge/buildpipeline/internal/queue"
	"github.com/agentforge/buildpipeline/internal/stageregistry"
	"github.com/agentforge/buildpipeline/internal/store"
)

// MaxRequirementLen is spec §6's "requirement (non-empty, <= N chars)";
// the spec leaves N to the implementation, so this is the configured
// default.
const MaxRequirementLen = 8000

const DefaultPriority = 3

var projectNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// SubmitRequest mirrors spec §6 "Submit build" inputs.
type SubmitRequest struct {
	Requirement string
	ProjectName string // optional; generated from the requirement if empty
	UserID      string
	UserName    string
	Priority    int // 1-5, default 3
	Tags        []string
}

// SubmitResult mirrors spec §6's emitted payload.
type SubmitResult struct {
	ProjectID   uuid.UUID
	TaskID      uuid.UUID
	ProjectName string
	Status      domain.ProjectStatus
}

// ControlRequest mirrors spec §6 "Control project" inputs.
type ControlRequest struct {
	Action          domain.ControlFlagAction
	FromStage       string
	ClearSubsequent bool
	Reason          string
}

// Service implements spec §6's External Interfaces over C1 (store), C2
// (queue), and C9 (dashboard). It holds no HTTP/SSE concerns of its own.
type Service struct {
	Projects  store.ProjectRepo
	Queue     *queue.Queue
	Dashboard *dashboard.View
	Order     []string // pipeline stage order, for restart validation
	Log       *logger.Logger
}

func New(projects store.ProjectRepo, q *queue.Queue, dash *dashboard.View, catalog []stageregistry.StageDef, baseLog *logger.Logger) *Service {
	order := make([]string, 0, len(catalog))
	seen := make(map[string]bool, len(catalog))
	for _, d := range catalog {
		if seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		order = append(order, d.Name)
	}
	return &Service{
		Projects:  projects,
		Queue:     q,
		Dashboard: dash,
		Order:     order,
		Log:       baseLog.With("component", "buildservice.Service"),
	}
}

// Submit validates req per spec §6, creates the Project in `pending`, then
// transitions it to `queued` and only after that enqueues one build_agent
// task, so a worker never claims a task whose project is not yet queued.
func (s *Service) Submit(ctx context.Context, dbc dbctx.Context, req SubmitRequest) (SubmitResult, error) {
	requirement := strings.TrimSpace(req.Requirement)
	if requirement == "" {
		return SubmitResult{}, fmt.Errorf("%w: requirement must not be empty", ferrors.ErrInvalidArgument)
	}
	if len(requirement) > MaxRequirementLen {
		return SubmitResult{}, fmt.Errorf("%w: requirement exceeds %d characters", ferrors.ErrInvalidArgument, MaxRequirementLen)
	}

	name := strings.TrimSpace(req.ProjectName)
	if name == "" {
		name = deriveProjectName(requirement)
	}
	if !projectNameRe.MatchString(name) {
		return SubmitResult{}, fmt.Errorf("%w: project_name %q must match %s", ferrors.ErrInvalidArgument, name, projectNameRe.String())
	}

	priority := req.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	if priority < 1 || priority > 5 {
		return SubmitResult{}, fmt.Errorf("%w: priority must be 1-5, got %d", ferrors.ErrInvalidArgument, priority)
	}

	if _, err := s.Projects.GetByName(dbc, name); err == nil {
		return SubmitResult{}, fmt.Errorf("%w: project_name %q already exists", ferrors.ErrAlreadyExists, name)
	} else if !errorIsNotFound(err) {
		return SubmitResult{}, err
	}

	project := &domain.Project{
		ID:          uuid.New(),
		ProjectName: name,
		Requirement: requirement,
		UserID:      req.UserID,
		UserName:    req.UserName,
		Priority:    priority,
		Status:      domain.ProjectPending,
	}
	if len(req.Tags) > 0 {
		project.Tags = marshalTags(req.Tags)
	}
	if err := s.Projects.Create(dbc, project); err != nil {
		return SubmitResult{}, err
	}

	updated, err := s.Projects.Update(dbc, project.ID, func(p *domain.Project) error {
		p.Status = domain.ProjectQueued
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}

	task, err := s.Queue.Enqueue(dbc, domain.TaskBuildAgent, &project.ID, priority, nil)
	if err != nil {
		return SubmitResult{}, err
	}

	return SubmitResult{
		ProjectID:   updated.ID,
		TaskID:      task.ID,
		ProjectName: updated.ProjectName,
		Status:      updated.Status,
	}, nil
}

// List implements spec §6 "List projects": filter by status/user,
// cursor-based pagination.
func (s *Service) List(ctx context.Context, dbc dbctx.Context, filter store.ProjectFilter, lastKey string, limit int) (store.ProjectPage, error) {
	return s.Projects.List(dbc, filter, lastKey, limit)
}

// Get implements spec §6 "Get project": the full record with embedded
// stages.
func (s *Service) Get(ctx context.Context, dbc dbctx.Context, id uuid.UUID) (*domain.Project, error) {
	return s.Projects.Get(dbc, id)
}

// GetDashboard implements spec §6 "Get build dashboard" by delegating to
// C9; this package adds no projection logic of its own.
func (s *Service) GetDashboard(ctx context.Context, dbc dbctx.Context, id uuid.UUID) (dashboard.Snapshot, error) {
	return s.Dashboard.Get(dbc, id)
}

// Control implements spec §6 "Control project": validates the requested
// action against the project's current status (pause only from building;
// resume only from paused; stop from any non-terminal status; restart
// requires a known from_stage), then records the flag for the driver to
// observe at the next stage boundary. The transition itself happens
// asynchronously in C6 — this call only ever sets intent.
func (s *Service) Control(ctx context.Context, dbc dbctx.Context, id uuid.UUID, req ControlRequest) (*domain.Project, error) {
	switch req.Action {
	case domain.ControlPause, domain.ControlResume, domain.ControlStop, domain.ControlRestart:
	default:
		return nil, fmt.Errorf("%w: unknown control action %q", ferrors.ErrInvalidArgument, req.Action)
	}
	if req.Action == domain.ControlRestart {
		if req.FromStage == "" || !contains(s.Order, req.FromStage) {
			return nil, fmt.Errorf("%w: restart requires a known from_stage, got %q", ferrors.ErrInvalidArgument, req.FromStage)
		}
	}

	return s.Projects.Update(dbc, id, func(p *domain.Project) error {
		if err := validateControlPrecondition(p.Status, req.Action); err != nil {
			return err
		}
		requestControl(p, req)
		return nil
	})
}

// Delete implements spec §6 "Delete project": cascades to tasks, agents,
// and (by construction, since agents are deleted) any session/invocation
// rows a downstream service keyed off agent_id.
func (s *Service) Delete(ctx context.Context, dbc dbctx.Context, id uuid.UUID) error {
	return s.Projects.DeleteCascade(dbc, id)
}

func validateControlPrecondition(status domain.ProjectStatus, action domain.ControlFlagAction) error {
	switch action {
	case domain.ControlPause:
		if status != domain.ProjectBuilding {
			return fmt.Errorf("%w: pause requires status=building, got %s", ferrors.ErrConflict, status)
		}
	case domain.ControlResume:
		if status != domain.ProjectPaused {
			return fmt.Errorf("%w: resume requires status=paused, got %s", ferrors.ErrConflict, status)
		}
	case domain.ControlStop:
		switch status {
		case domain.ProjectCompleted, domain.ProjectFailed, domain.ProjectCancelled:
			return fmt.Errorf("%w: stop requires a non-terminal status, got %s", ferrors.ErrConflict, status)
		}
	case domain.ControlRestart:
		// restart is accepted from any status (spec §9: first-stage and
		// mid-stage restarts are identical in principle). ApplyRestart does
		// not check for a running later stage; the driver applies the flag
		// only at a stage boundary, before it starts the next unit.
	}
	return nil
}

func requestControl(p *domain.Project, req ControlRequest) {
	p.SetFlag(domain.ControlFlag{
		Action:          req.Action,
		FromStage:       req.FromStage,
		ClearSubsequent: req.ClearSubsequent,
		Reason:          req.Reason,
	})
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func errorIsNotFound(err error) bool {
	return err != nil && errors.Is(err, ferrors.ErrNotFound)
}

func marshalTags(tags []string) datatypes.JSON {
	b, err := json.Marshal(tags)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func deriveProjectName(requirement string) string {
	lower := strings.ToLower(requirement)
	var b strings.Builder
	lastUnderscore := true
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "agent"
	}
	if len(name) > 48 {
		name = name[:48]
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "a_" + name
	}
	return name
}
