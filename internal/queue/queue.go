// Package queue is the Task Queue (C2): a thin domain API over
// store.TaskRepo's claim/lease primitives, adding spec §4.2's policy
// constants (exponential backoff base 2s capped at 60s, default
// max_retries=3, visibility timeout) and the single-concurrent-build-
// per-project mutex (spec §4.6, §8 property 5).
package queue

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/buildpipeline/internal/domain"
	"github.com/agentforge/buildpipeline/internal/platform/dbctx"
	"github.com/agentforge/buildpipeline/internal/platform/ferrors"
	"github.com/agentforge/buildpipeline/internal/platform/logger"
	"github.com/agentforge/buildpipeline/internal/store"
)

const (
	DefaultMaxRetries      = 3
	DefaultVisibilityTimeout = 2 * time.Minute
	backoffBase            = 2 * time.Second
	backoffCap              = 60 * time.Second
)

// RetryDelay is spec §4.2's exponential backoff: base 2s doubling per
// attempt, capped at 60s. attempt is 1-indexed (the first failure's
// retry_count after the claim that failed it).
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(backoffBase) * math.Pow(2, float64(attempt-1)))
	if d > backoffCap {
		return backoffCap
	}
	return d
}

type Queue struct {
	Tasks store.TaskRepo
	Log   *logger.Logger
}

func New(tasks store.TaskRepo, baseLog *logger.Logger) *Queue {
	return &Queue{Tasks: tasks, Log: baseLog.With("component", "queue.Queue")}
}

// Enqueue creates a new, immediately-runnable task.
func (q *Queue) Enqueue(dbc dbctx.Context, taskType domain.TaskType, projectID *uuid.UUID, priority int, payload []byte) (*domain.Task, error) {
	t := &domain.Task{
		ID:         uuid.New(),
		TaskType:   taskType,
		ProjectID:  projectID,
		Priority:   priority,
		MaxRetries: DefaultMaxRetries,
		Status:     domain.TaskQueued,
	}
	if len(payload) > 0 {
		t.Payload = payload
	}
	if err := q.Tasks.Create(dbc, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ClaimBuild leases the next runnable task for a worker, excluding any
// project that already has a build_agent task in flight (the
// single-concurrent-build-per-project mutex). Returns (nil, nil) when
// there is nothing to claim.
func (q *Queue) ClaimBuild(dbc dbctx.Context, maxAttempts int) (*domain.Task, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRetries
	}
	running, err := q.Tasks.RunningProjectIDs(dbc)
	if err != nil {
		return nil, err
	}
	return q.Tasks.ClaimNextRunnable(dbc, running, maxAttempts, RetryDelay, DefaultVisibilityTimeout)
}

// Heartbeat extends a claimed task's visibility timeout. A worker must
// call this more often than DefaultVisibilityTimeout or another worker
// may reclaim the task as stale (spec §4.2).
func (q *Queue) Heartbeat(dbc dbctx.Context, taskID uuid.UUID) error {
	return q.Tasks.Heartbeat(dbc, taskID)
}

// Complete marks a task terminally succeeded with its result payload.
// Terminal tasks are never re-delivered (spec §4.2).
func (q *Queue) Complete(dbc dbctx.Context, taskID uuid.UUID, result []byte) error {
	updates := map[string]interface{}{"status": domain.TaskCompleted}
	if len(result) > 0 {
		updates["result"] = result
	}
	return q.Tasks.UpdateFields(dbc, taskID, updates)
}

// Fail records a task attempt's failure. If the task has exhausted
// max_retries it is left in TaskFailed terminally; otherwise it remains
// TaskFailed but eligible for reclaim once RetryDelay(retry_count) has
// elapsed, per ClaimNextRunnable's retry-cutoff predicate.
func (q *Queue) Fail(dbc dbctx.Context, taskID uuid.UUID, errMsg string) error {
	return q.Tasks.UpdateFields(dbc, taskID, map[string]interface{}{
		"status":        domain.TaskFailed,
		"error_message": errMsg,
		"last_error_at": time.Now().UTC(),
	})
}

// Cancel marks a task as terminally cancelled; it will never be
// re-delivered regardless of retries remaining.
func (q *Queue) Cancel(dbc dbctx.Context, taskID uuid.UUID) error {
	return q.Tasks.UpdateFields(dbc, taskID, map[string]interface{}{"status": domain.TaskCancelled})
}

// EnsureSingleBuild returns ferrors.ErrConflict if projectID already has
// a runnable build_agent task, so callers can surface a clear error
// instead of silently queuing a second concurrent build.
func (q *Queue) EnsureSingleBuild(dbc dbctx.Context, projectID uuid.UUID) error {
	has, err := q.Tasks.HasRunnableForProject(dbc, projectID)
	if err != nil {
		return err
	}
	if has {
		return ferrors.ErrConflict
	}
	return nil
}
