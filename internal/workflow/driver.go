// Package workflow is the Workflow Driver (C6): it walks the stage
// catalog in dependency order, fans out agent_developer_manager's three
// sub-stages concurrently, consults the control-flag gate at every
// boundary, and persists the project's stage snapshot through one CAS
// update per advance.
//
// The topological ordering and dependency-gating logic is grounded on
// the teacher's orchestrator.DAGEngine (Kahn's algorithm, depsSatisfied/
// depsFailed). The teacher then drives each stage either inline or by
// enqueuing+polling a child job; this module has no nested Task rows for
// developer-manager's sub-stages, so parallel units run as goroutines
// under golang.org/x/sync/errgroup within the same worker process
// instead — SPEC_FULL.md's Domain Stack names errgroup for exactly this
// fan-out, and it removes a whole polling/child-job-status layer the
// teacher needs only because Temporal-style child jobs are a separate
// row.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentforge/buildpipeline/internal/controlflag"
	"github.com/agentforge/buildpipeline/internal/domain"
	"github.com/agentforge/buildpipeline/internal/platform/clock"
	"github.com/agentforge/buildpipeline/internal/platform/dbctx"
	"github.com/agentforge/buildpipeline/internal/platform/logger"
	"github.com/agentforge/buildpipeline/internal/stageexec"
	"github.com/agentforge/buildpipeline/internal/stageregistry"
	"github.com/agentforge/buildpipeline/internal/store"
)

// Driver ties the static catalog (C3) to the executor (C5) and the
// project store (C1), advancing one project by one run-unit per call.
type Driver struct {
	Projects store.ProjectRepo
	Registry *stageregistry.Registry
	Executor *stageexec.Executor
	Clock    clock.Clock
	Log      *logger.Logger

	catalog []stageregistry.StageDef
	byName  map[string]stageregistry.StageDef
	order   []string
}

func NewDriver(projects store.ProjectRepo, reg *stageregistry.Registry, exec *stageexec.Executor, baseLog *logger.Logger, catalog []stageregistry.StageDef) (*Driver, error) {
	order, err := topoOrder(catalog)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]stageregistry.StageDef, len(catalog))
	for _, d := range catalog {
		byName[d.Name] = d
	}
	return &Driver{
		Projects: projects,
		Registry: reg,
		Executor: exec,
		Clock:    clock.Real,
		Log:      baseLog.With("component", "workflow.Driver"),
		catalog:  catalog,
		byName:   byName,
		order:    order,
	}, nil
}

// Advance executes exactly one run-unit (a single stage, or a whole
// parallel group) for projectID and persists the result. It returns
// requeue=true when there is more work left for the caller (the worker,
// C7) to schedule another build_agent task for.
func (d *Driver) Advance(ctx context.Context, dbc dbctx.Context, projectID uuid.UUID) (requeue bool, err error) {
	project, err := d.Projects.Get(dbc, projectID)
	if err != nil {
		return false, err
	}

	if requeue, handled, err := d.applyControlFlag(dbc, project); handled {
		return requeue, err
	}

	switch project.Status {
	case domain.ProjectPaused, domain.ProjectCancelled, domain.ProjectCompleted, domain.ProjectFailed:
		return false, nil
	}

	unit := d.nextUnit(project)
	if unit == nil {
		_, err = d.Projects.Update(dbc, projectID, func(p *domain.Project) error {
			p.Status = domain.ProjectCompleted
			p.Progress = 100
			now := d.now()
			p.CompletedAt = &now
			return nil
		})
		return false, err
	}

	results := d.runUnit(ctx, project, unit)

	updated, err := d.Projects.Update(dbc, projectID, func(p *domain.Project) error {
		return d.commitUnit(p, unit, results)
	})
	if err != nil {
		return false, err
	}
	if updated.Status == domain.ProjectFailed || updated.Status == domain.ProjectCancelled || updated.Status == domain.ProjectPaused {
		return false, nil
	}
	return true, nil
}

// applyControlFlag consults C4 at the stage boundary (spec §4.4 point
// a). handled=true means the caller should return immediately with the
// given (requeue, err) rather than proceed to run a stage.
func (d *Driver) applyControlFlag(dbc dbctx.Context, project *domain.Project) (requeue bool, handled bool, err error) {
	decision := controlflag.Check(project)
	switch decision.Action {
	case domain.ControlNone:
		return false, false, nil
	case domain.ControlPause:
		_, err = d.Projects.Update(dbc, project.ID, func(p *domain.Project) error {
			controlflag.ApplyPause(p, p.CurrentStage)
			return nil
		})
		return false, true, err
	case domain.ControlResume:
		_, err = d.Projects.Update(dbc, project.ID, func(p *domain.Project) error {
			return controlflag.ApplyResume(p)
		})
		return true, true, err
	case domain.ControlStop:
		_, err = d.Projects.Update(dbc, project.ID, func(p *domain.Project) error {
			controlflag.ApplyStop(p)
			return nil
		})
		return false, true, err
	case domain.ControlRestart:
		_, err = d.Projects.Update(dbc, project.ID, func(p *domain.Project) error {
			return controlflag.ApplyRestart(p, decision.FromStage, decision.ClearRest, d.order)
		})
		return true, true, err
	default:
		return false, true, fmt.Errorf("workflow: unknown control flag action %q", decision.Action)
	}
}

// nextUnit finds the first run-unit (single stage or parallel group) in
// catalog order that is not yet succeeded/skipped and whose
// RequiredInputs are all satisfied. Returns nil when every stage is
// done.
func (d *Driver) nextUnit(project *domain.Project) []string {
	snapshot := snapshotIndex(project.Stages())
	units := groupBy(d.order, d.byName)
	for _, unit := range units {
		allDone := true
		for _, name := range unit {
			ss := snapshot[name]
			if ss == nil || (ss.Status != "completed" && ss.Status != "skipped") {
				allDone = false
				break
			}
		}
		if allDone {
			continue
		}
		if depsFailed(unit, d.byName, snapshot) {
			return nil
		}
		if !depsSatisfied(unit, d.byName, snapshot) {
			continue
		}
		return unit
	}
	return nil
}

// runUnit executes every stage in unit concurrently (a lone stage is
// just a group of one) under a shared errgroup context, so a sibling's
// failure cancels the others cooperatively (spec §4.6).
func (d *Driver) runUnit(ctx context.Context, project *domain.Project, unit []string) map[string]stageexec.Result {
	priorOutputs := priorOutputsOf(project.Stages())
	results := make(map[string]stageexec.Result, len(unit))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range unit {
		name := name
		g.Go(func() error {
			def := d.byName[name]
			fn, ok := d.Registry.Get(name)
			if !ok {
				res := stageexec.Result{Status: stageexec.StatusFailed, ErrorMessage: fmt.Sprintf("no handler registered for stage %q", name)}
				mu.Lock()
				results[name] = res
				mu.Unlock()
				return fmt.Errorf("%s", res.ErrorMessage)
			}
			exec := stageregistry.Exec{
				ProjectID:    project.ID.String(),
				StageName:    name,
				PriorOutputs: priorOutputs,
				Requirement:  project.Requirement,
			}
			res := d.Executor.Execute(gctx, exec, def, fn)
			mu.Lock()
			results[name] = res
			mu.Unlock()
			if res.Status == stageexec.StatusFailed && !def.Optional {
				return fmt.Errorf("stage %q failed: %s", name, res.ErrorMessage)
			}
			return nil
		})
	}
	_ = g.Wait() // per-stage failures are recorded in results; commitUnit decides project status
	return results
}

// commitUnit folds a completed run-unit's results into the project's
// stage snapshot. If a stop was requested while the unit was running,
// spec §4.4 requires discarding the just-computed result instead of
// committing it.
func (d *Driver) commitUnit(p *domain.Project, unit []string, results map[string]stageexec.Result) error {
	if f := p.Flag(); f.Action == domain.ControlStop {
		controlflag.ApplyStop(p)
		return nil
	}

	stages := p.Stages()
	index := snapshotIndex(stages)
	now := d.now()
	anyFailed := false

	for _, name := range unit {
		res := results[name]
		def := d.byName[name]
		ss := index[name]
		if ss == nil {
			stages = append(stages, domain.StageSnapshot{StageName: name, StageNumber: def.Order, DisplayName: def.DisplayName})
			ss = &stages[len(stages)-1]
			index[name] = ss
		}
		ss.StartedAt = &now
		ss.CompletedAt = &now
		ss.DurationSeconds = res.Metrics.DurationSeconds
		ss.InputTokens = res.Metrics.InputTokens
		ss.OutputTokens = res.Metrics.OutputTokens
		ss.ToolCalls = res.Metrics.ToolCalls
		for _, line := range res.Logs {
			ss.AppendLog(line)
		}
		if res.Status == stageexec.StatusSucceeded {
			ss.Status = "completed"
			ss.ErrorMessage = ""
			ss.OutputData = res.Output.Data
			if ss.OutputData == nil {
				ss.OutputData = map[string]any{}
			}
			ss.OutputData["artifacts"] = res.Output.Artifacts
		} else {
			ss.Status = "failed"
			ss.ErrorMessage = res.ErrorMessage
			if !def.Optional {
				anyFailed = true
			}
		}
	}
	p.SetStages(stages)
	p.Progress = progressOf(stages, len(d.order))
	if anyFailed {
		p.Status = domain.ProjectFailed
		p.ErrorInfo = firstError(unit, results)
		return nil
	}
	p.Status = domain.ProjectBuilding
	if next := d.nextUnit(p); len(next) > 0 {
		p.CurrentStage = next[0]
	}
	return nil
}

func (d *Driver) now() time.Time {
	if d.Clock == nil {
		return clock.Real.Now()
	}
	return d.Clock.Now()
}

func snapshotIndex(stages []domain.StageSnapshot) map[string]*domain.StageSnapshot {
	out := make(map[string]*domain.StageSnapshot, len(stages))
	for i := range stages {
		out[stages[i].StageName] = &stages[i]
	}
	return out
}

func priorOutputsOf(stages []domain.StageSnapshot) map[string]map[string]any {
	out := make(map[string]map[string]any, len(stages))
	for _, s := range stages {
		if s.Status == "completed" && s.OutputData != nil {
			out[s.StageName] = s.OutputData
		}
	}
	return out
}

func progressOf(stages []domain.StageSnapshot, total int) int {
	if total == 0 {
		return 0
	}
	done := 0
	for _, s := range stages {
		if s.Status == "completed" || s.Status == "skipped" {
			done++
		}
	}
	pct := done * 100 / total
	if pct > 99 {
		pct = 99
	}
	return pct
}

func firstError(unit []string, results map[string]stageexec.Result) string {
	for _, name := range unit {
		if r := results[name]; r.Status == stageexec.StatusFailed {
			return fmt.Sprintf("%s: %s", name, r.ErrorMessage)
		}
	}
	return ""
}

func depsSatisfied(unit []string, byName map[string]stageregistry.StageDef, snapshot map[string]*domain.StageSnapshot) bool {
	for _, name := range unit {
		for _, dep := range byName[name].RequiredInputs {
			ss := snapshot[dep]
			if ss == nil || (ss.Status != "completed" && ss.Status != "skipped") {
				return false
			}
		}
	}
	return true
}

func depsFailed(unit []string, byName map[string]stageregistry.StageDef, snapshot map[string]*domain.StageSnapshot) bool {
	for _, name := range unit {
		for _, dep := range byName[name].RequiredInputs {
			if ss := snapshot[dep]; ss != nil && ss.Status == "failed" {
				return true
			}
		}
	}
	return false
}
