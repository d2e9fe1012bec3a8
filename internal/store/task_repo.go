package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agentforge/buildpipeline/internal/domain"
	"github.com/agentforge/buildpipeline/internal/platform/dbctx"
	"github.com/agentforge/buildpipeline/internal/platform/ferrors"
	"github.com/agentforge/buildpipeline/internal/platform/logger"
)

// TaskRepo is the Task Queue's storage layer (C2): priority FIFO, at-least-
// once delivery, visibility-timeout leasing. Grounded directly on
// JobRunRepo.ClaimNextRunnable — same SELECT ... FOR UPDATE SKIP LOCKED
// claim, same retry-cutoff/stale-cutoff windows — with "created_at ASC"
// replaced by "priority DESC, created_at ASC" for spec §4.2's priority
// ordering.
type TaskRepo interface {
	Create(dbc dbctx.Context, t *domain.Task) error
	Get(dbc dbctx.Context, id uuid.UUID) (*domain.Task, error)
	// ClaimNextRunnable atomically selects and leases the next eligible
	// task: queued, or failed-with-retries-remaining past backoff, or
	// running-with-a-stale-heartbeat (worker crash recovery). The same
	// project_id can never be claimed twice while one lease is live,
	// because the caller excludes projects with an in-flight build task
	// before calling this (see queue.Queue.ClaimBuild). retryDelay computes
	// the backoff owed a failed task from its current retry_count (spec
	// §4.2's exponential backoff), so a task that has failed more times
	// waits longer before its next redelivery rather than a single flat
	// window for every attempt.
	ClaimNextRunnable(dbc dbctx.Context, excludeProjectIDs []uuid.UUID, maxAttempts int, retryDelay func(attempt int) time.Duration, staleRunning time.Duration) (*domain.Task, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	HasRunnableForProject(dbc dbctx.Context, projectID uuid.UUID) (bool, error)
	RunningProjectIDs(dbc dbctx.Context) ([]uuid.UUID, error)
	// LatestForProject returns the most recently created task for
	// projectID, used by the dashboard view (C9) to surface "latest task
	// status" without the caller tracking a task_id of its own.
	LatestForProject(dbc dbctx.Context, projectID uuid.UUID) (*domain.Task, error)
}

type taskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRepo(db *gorm.DB, baseLog *logger.Logger) TaskRepo {
	return &taskRepo{db: db, log: baseLog.With("repo", "TaskRepo")}
}

func (r *taskRepo) Create(dbc dbctx.Context, t *domain.Task) error {
	if t == nil {
		return fmt.Errorf("%w: nil task", ferrors.ErrInvalidArgument)
	}
	return tx(dbc, r.db).WithContext(dbc.Ctx).Create(t).Error
}

func (r *taskRepo) Get(dbc dbctx.Context, id uuid.UUID) (*domain.Task, error) {
	var t domain.Task
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: task %s", ferrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *taskRepo) ClaimNextRunnable(dbc dbctx.Context, excludeProjectIDs []uuid.UUID, maxAttempts int, retryDelay func(attempt int) time.Duration, staleRunning time.Duration) (*domain.Task, error) {
	transaction := tx(dbc, r.db)
	now := time.Now().UTC()
	staleCutoff := now.Add(-staleRunning)
	cutoffCase, cutoffArgs := retryCutoffCase(now, maxAttempts, retryDelay)

	var claimed *domain.Task
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var t domain.Task
		whereSQL := fmt.Sprintf(`
				(
				  status = ?
				  OR (status = ? AND retry_count < ? AND (last_error_at IS NULL OR last_error_at < %s))
				  OR (status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?)
				)
			`, cutoffCase)
		args := []interface{}{domain.TaskQueued, domain.TaskFailed, maxAttempts}
		args = append(args, cutoffArgs...)
		args = append(args, domain.TaskRunning, staleCutoff)
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).Where(whereSQL, args...)
		if len(excludeProjectIDs) > 0 {
			q = q.Where("project_id IS NULL OR project_id NOT IN ?", excludeProjectIDs)
		}
		qErr := q.Order("priority DESC, created_at ASC").First(&t).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&domain.Task{}).
			Where("id = ?", t.ID).
			Updates(map[string]interface{}{
				"status":       domain.TaskRunning,
				"retry_count":  gorm.Expr("retry_count + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"started_at":   now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		t.Status = domain.TaskRunning
		t.RetryCount++
		t.LockedAt = &now
		t.HeartbeatAt = &now
		t.StartedAt = &now
		t.UpdatedAt = now
		claimed = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// retryCutoffCase builds a portable `CASE retry_count WHEN ... THEN ...
// ELSE ... END` SQL fragment (works unparameterized-function-free on both
// Postgres and sqlite) mapping each possible retry_count 0..maxAttempts-1
// to the cutoff timestamp a row with that many prior failures must have
// its last_error_at before to be eligible for reclaim — i.e. spec §4.2's
// exponential backoff (base 2s, doubling, capped at 60s), not a single
// flat window applied regardless of how many times a task has already
// failed. The ELSE branch (reached only by retry_count >= maxAttempts,
// which the surrounding predicate already excludes) falls back to the
// delay for maxAttempts so the CASE is still well-defined.
func retryCutoffCase(now time.Time, maxAttempts int, retryDelay func(attempt int) time.Duration) (string, []interface{}) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var b strings.Builder
	b.WriteString("CASE retry_count")
	args := make([]interface{}, 0, maxAttempts+1)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		b.WriteString(" WHEN ? THEN ?")
		args = append(args, attempt, now.Add(-retryDelay(attempt)))
	}
	b.WriteString(" ELSE ? END")
	args = append(args, now.Add(-retryDelay(maxAttempts)))
	return b.String(), args
}

func (r *taskRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return tx(dbc, r.db).WithContext(dbc.Ctx).
		Model(&domain.Task{}).Where("id = ?", id).Updates(updates).Error
}

func (r *taskRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return tx(dbc, r.db).WithContext(dbc.Ctx).
		Model(&domain.Task{}).
		Where("id = ? AND status = ?", id, domain.TaskRunning).
		Updates(map[string]interface{}{"heartbeat_at": now, "updated_at": now}).Error
}

func (r *taskRepo) HasRunnableForProject(dbc dbctx.Context, projectID uuid.UUID) (bool, error) {
	var count int64
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Model(&domain.Task{}).
		Where("project_id = ? AND status IN ?", projectID, []domain.TaskStatus{domain.TaskQueued, domain.TaskRunning}).
		Count(&count).Error
	return count > 0, err
}

func (r *taskRepo) LatestForProject(dbc dbctx.Context, projectID uuid.UUID) (*domain.Task, error) {
	var t domain.Task
	err := tx(dbc, r.db).WithContext(dbc.Ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: task for project %s", ferrors.ErrNotFound, projectID)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RunningProjectIDs backs the single-concurrent-build-per-project mutex
// (spec §4.6, §8 property 5): the claim step excludes any project_id that
// already has a build_agent task leased.
func (r *taskRepo) RunningProjectIDs(dbc dbctx.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Model(&domain.Task{}).
		Where("status = ? AND task_type = ? AND project_id IS NOT NULL", domain.TaskRunning, domain.TaskBuildAgent).
		Pluck("project_id", &ids).Error
	return ids, err
}
