// Package worker is the Worker Pool (C7): N goroutines polling C2's queue
// for build_agent tasks, dispatching each to the Workflow Driver (C6) for
// one bounded advance, and re-enqueuing another build_agent task when the
// driver reports more work remains.
//
// Grounded on the teacher's jobs/worker.Worker: the same poll-ticker +
// claim + heartbeat-goroutine + panic-recovery shape, generalized from a
// single job-type dispatch (runtime.Registry) to always dispatching
// build_agent tasks through workflow.Driver.Advance, since this domain's
// "job types" are stage names inside one pipeline rather than independent
// top-level jobs.
package worker

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/agentforge/buildpipeline/internal/domain"
	"github.com/agentforge/buildpipeline/internal/platform/dbctx"
	"github.com/agentforge/buildpipeline/internal/platform/logger"
	"github.com/agentforge/buildpipeline/internal/platform/otelinit"
	"github.com/agentforge/buildpipeline/internal/queue"
	"github.com/agentforge/buildpipeline/internal/workflow"
)

// Pool is the worker pool described in spec §4.7 "at least one worker
// process polling the queue". db is threaded into dbctx.Context per claim,
// same as the teacher's Worker does for its repo calls.
type Pool struct {
	db     *gorm.DB
	log    *logger.Logger
	queue  *queue.Queue
	driver *workflow.Driver

	pollInterval     time.Duration
	heartbeatInterval time.Duration
	maxAttempts      int
	staleRunning     time.Duration
}

func NewPool(db *gorm.DB, baseLog *logger.Logger, q *queue.Queue, driver *workflow.Driver) *Pool {
	return &Pool{
		db:                db,
		log:               baseLog.With("component", "worker.Pool"),
		queue:             q,
		driver:            driver,
		pollInterval:      1 * time.Second,
		heartbeatInterval: 30 * time.Second,
		maxAttempts:       queue.DefaultMaxRetries,
		staleRunning:      queue.DefaultVisibilityTimeout,
	}
}

// Start spawns WORKER_CONCURRENCY (default 4) goroutines, each running an
// independent runLoop, and returns immediately; callers stop the pool by
// cancelling ctx.
func (p *Pool) Start(ctx context.Context) {
	concurrency := getEnvInt("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}
	p.log.Info("starting build worker pool", "concurrency", concurrency)
	for i := 0; i < concurrency; i++ {
		go p.runLoop(ctx, i+1)
	}
}

func (p *Pool) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			p.tick(ctx, workerID)
		}
	}
}

func (p *Pool) tick(ctx context.Context, workerID int) {
	ctx, span := otelinit.StartSpan(ctx, "worker", "task.claim", attribute.Int("worker.id", workerID))
	defer span.End()

	dbc := dbctx.Context{Ctx: ctx, Tx: p.db}
	task, err := p.queue.ClaimBuild(dbc, p.maxAttempts)
	if err != nil {
		span.RecordError(err)
		p.log.Warn("claim build task failed", "worker_id", workerID, "error", err.Error())
		return
	}
	if task == nil {
		return
	}
	span.SetAttributes(attribute.String("task.id", task.ID.String()))
	if task.ProjectID == nil {
		p.log.Error("build_agent task missing project_id", "worker_id", workerID, "task_id", task.ID)
		_ = p.queue.Fail(dbc, task.ID, "build_agent task has no project_id")
		return
	}
	span.SetAttributes(attribute.String("project.id", task.ProjectID.String()))

	stopHB := p.startHeartbeat(ctx, task.ID)
	defer stopHB()

	p.runTask(ctx, dbc, workerID, task)
}

// runTask recovers a panicking Advance call (the driver itself already
// recovers per-stage panics; this is the outer safety net so a bug in the
// driver's bookkeeping never takes down the whole worker goroutine).
func (p *Pool) runTask(ctx context.Context, dbc dbctx.Context, workerID int, task *domain.Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("build task panicked", "worker_id", workerID, "task_id", task.ID, "panic", r)
			_ = p.queue.Fail(dbc, task.ID, "worker panic during advance")
		}
	}()

	requeue, err := p.driver.Advance(ctx, dbc, *task.ProjectID)
	if err != nil {
		p.log.Warn("advance failed", "worker_id", workerID, "project_id", task.ProjectID.String(), "error", err.Error())
		_ = p.queue.Fail(dbc, task.ID, err.Error())
		return
	}
	if err := p.queue.Complete(dbc, task.ID, nil); err != nil {
		p.log.Error("failed to mark build task complete", "task_id", task.ID, "error", err.Error())
		return
	}
	if requeue {
		if _, err := p.queue.Enqueue(dbc, domain.TaskBuildAgent, task.ProjectID, task.Priority, nil); err != nil {
			p.log.Error("failed to requeue build task", "project_id", task.ProjectID.String(), "error", err.Error())
		}
	}
}

func (p *Pool) startHeartbeat(ctx context.Context, taskID uuid.UUID) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(p.heartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				_ = p.queue.Heartbeat(dbctx.Context{Ctx: ctx, Tx: p.db}, taskID)
			}
		}
	}()
	return func() { close(done) }
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
