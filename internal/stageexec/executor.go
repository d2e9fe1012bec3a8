// Package stageexec is the Stage Executor (C5): the contract for one
// stage invocation described in spec §4.5 — run the stage body, validate
// its artifacts, roll them back on validator failure, classify errors as
// transient or deterministic, retry the transient ones up to a bounded
// budget, and report wall-clock/token/tool metrics.
package stageexec

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agentforge/buildpipeline/internal/platform/clock"
	"github.com/agentforge/buildpipeline/internal/platform/ctxutil"
	"github.com/agentforge/buildpipeline/internal/platform/ferrors"
	"github.com/agentforge/buildpipeline/internal/platform/logger"
	"github.com/agentforge/buildpipeline/internal/platform/otelinit"
	"github.com/agentforge/buildpipeline/internal/stageregistry"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Metrics is the wall-clock/token/tool-call telemetry spec §4.5 requires
// every stage invocation to report.
type Metrics struct {
	InputTokens     int
	OutputTokens    int
	ToolCalls       int
	DurationSeconds float64
}

// Result is the full outcome of one stage invocation: status, the
// produced data and artifacts, telemetry, any logs the stage body chose
// to surface, and the error message on failure.
type Result struct {
	Status       string
	Output       stageregistry.StageOutput
	Metrics      Metrics
	Logs         []string
	ErrorMessage string
}

// ArtifactRollback deletes every file a failed attempt wrote, so a
// validator failure never leaves partial output on disk (spec §4.5).
// Implemented by internal/artifact; declared here so stageexec doesn't
// import artifact's disk-layout concerns.
type ArtifactRollback interface {
	Rollback(ctx context.Context, paths []string) error
}

type Executor struct {
	Rollback ArtifactRollback
	Clock    clock.Clock
	Log      *logger.Logger

	// DefaultTimeout bounds every single attempt; StageDef carries no
	// per-stage timeout.
	DefaultTimeout time.Duration
}

func NewExecutor(rollback ArtifactRollback, baseLog *logger.Logger) *Executor {
	return &Executor{
		Rollback:       rollback,
		Clock:          clock.Real,
		Log:            baseLog.With("component", "stageexec"),
		DefaultTimeout: 10 * time.Minute,
	}
}

// Execute runs def's stage body against exec, retrying transient
// failures up to DefaultRetryPolicy's budget and validating/rolling back
// artifacts on every attempt.
func (e *Executor) Execute(ctx context.Context, exec stageregistry.Exec, def stageregistry.StageDef, fn stageregistry.StageFunc) Result {
	ctx, span := otelinit.StartSpan(ctx, "stageexec", "stage.execute",
		attribute.String("stage.name", exec.StageName),
		attribute.String("project.id", exec.ProjectID),
	)
	defer span.End()

	// Stamp trace/request identifiers into ctx the same way the teacher's
	// runtime.Context.applyTraceData does before invoking a pipeline body,
	// so every log line below this point can be correlated back to one
	// stage invocation without threading extra parameters through.
	ctx = ctxutil.WithTraceData(ctx, &ctxutil.TraceData{
		TraceID:   span.SpanContext().TraceID().String(),
		RequestID: exec.ProjectID + ":" + exec.StageName,
	})

	policy := DefaultRetryPolicy(ferrors.IsTransient)
	timeout := e.DefaultTimeout
	start := e.now()

	var lastErr error
	for attempt := 1; ; attempt++ {
		span.SetAttributes(attribute.Int("attempt", attempt))
		out, err := runWithTimeout(ctx, timeout, fn, exec)
		if err == nil {
			if def.Validator != nil {
				if verr := def.Validator(out.Artifacts); verr != nil {
					e.rollback(ctx, out.Artifacts)
					span.RecordError(verr)
					return e.failed(start, verr.Error(), nil)
				}
			}
			return e.succeeded(start, out)
		}

		lastErr = err
		e.rollback(ctx, out.Artifacts)

		if ferrors.IsDeterministic(err) {
			break
		}
		if !shouldRetry(policy, attempt, err) {
			break
		}
		delay := computeBackoff(policy, attempt)
		fields := []interface{}{"stage", exec.StageName, "attempt", attempt, "delay", delay.String(), "error", err.Error()}
		if td := ctxutil.GetTraceData(ctx); td != nil {
			fields = append(fields, "trace_id", td.TraceID, "request_id", td.RequestID)
		}
		e.Log.Warn("stage attempt failed, retrying", fields...)
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			goto done
		case <-time.After(delay):
		}
	}
done:
	span.RecordError(lastErr)
	return e.failed(start, lastErr.Error(), nil)
}

func (e *Executor) rollback(ctx context.Context, paths []string) {
	if e.Rollback == nil || len(paths) == 0 {
		return
	}
	if err := e.Rollback.Rollback(ctx, paths); err != nil {
		e.Log.Error("artifact rollback failed", "error", err.Error(), "paths", paths)
	}
}

func (e *Executor) succeeded(start time.Time, out stageregistry.StageOutput) Result {
	return Result{
		Status: StatusSucceeded,
		Output: out,
		Metrics: Metrics{
			InputTokens:     out.InputTokens,
			OutputTokens:    out.OutputTokens,
			ToolCalls:       out.ToolCalls,
			DurationSeconds: e.now().Sub(start).Seconds(),
		},
	}
}

func (e *Executor) failed(start time.Time, msg string, logs []string) Result {
	return Result{
		Status:       StatusFailed,
		Metrics:      Metrics{DurationSeconds: e.now().Sub(start).Seconds()},
		Logs:         logs,
		ErrorMessage: msg,
	}
}

func (e *Executor) now() time.Time {
	if e.Clock == nil {
		return clock.Real.Now()
	}
	return e.Clock.Now()
}
