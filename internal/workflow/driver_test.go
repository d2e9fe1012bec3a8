package workflow

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/agentforge/buildpipeline/internal/domain"
	"github.com/agentforge/buildpipeline/internal/stageexec"
	"github.com/agentforge/buildpipeline/internal/stageregistry"
	"github.com/agentforge/buildpipeline/internal/store"
)

func succeedingRegistry(tb testing.TB, catalog []stageregistry.StageDef) *stageregistry.Registry {
	tb.Helper()
	reg := stageregistry.NewRegistry()
	for _, def := range catalog {
		def := def
		err := reg.Register(def.Name, func(e stageregistry.Exec) (stageregistry.StageOutput, error) {
			return stageregistry.StageOutput{
				Data:      map[string]any{"stage": e.StageName},
				Artifacts: []string{e.StageName + "_output.txt"},
			}, nil
		})
		if err != nil {
			tb.Fatalf("register %s: %v", def.Name, err)
		}
	}
	return reg
}

func TestDriverAdvanceRunsPipelineToCompletion(t *testing.T) {
	db := testDB(t)
	projects := store.NewProjectRepo(db, testLogger(t))
	catalog := stageregistry.DefaultCatalog()
	reg := succeedingRegistry(t, catalog)
	exec := stageexec.NewExecutor(nil, testLogger(t))
	driver, err := NewDriver(projects, reg, exec, testLogger(t), catalog)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}

	dbc := testCtx(db)
	p := &domain.Project{
		ID:          uuid.New(),
		ProjectName: "demo-agent",
		Requirement: "build a support ticket triage agent",
		Status:      domain.ProjectQueued,
	}
	if err := projects.Create(dbc, p); err != nil {
		t.Fatalf("create project: %v", err)
	}

	ctx := context.Background()
	const maxAdvances = 20
	i := 0
	for ; i < maxAdvances; i++ {
		requeue, err := driver.Advance(ctx, dbc, p.ID)
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if !requeue {
			break
		}
	}
	if i >= maxAdvances {
		t.Fatalf("pipeline did not converge within %d advances", maxAdvances)
	}

	final, err := projects.Get(dbc, p.ID)
	if err != nil {
		t.Fatalf("get final project: %v", err)
	}
	if final.Status != domain.ProjectCompleted {
		t.Fatalf("expected completed, got %s (error_info=%s)", final.Status, final.ErrorInfo)
	}
	if final.Progress != 100 {
		t.Fatalf("expected progress=100, got %d", final.Progress)
	}

	stages := final.Stages()
	byName := map[string]domain.StageSnapshot{}
	for _, s := range stages {
		byName[s.StageName] = s
	}
	for _, name := range []string{
		stageregistry.StageOrchestrator,
		stageregistry.StageRequirementsAnalyzer,
		stageregistry.StageSystemArchitect,
		stageregistry.StageAgentDesigner,
		stageregistry.StageToolDeveloper,
		stageregistry.StagePromptEngineer,
		stageregistry.StageAgentCodeDeveloper,
		stageregistry.StageAgentDeployer,
	} {
		if byName[name].Status != "completed" {
			t.Fatalf("expected stage %q completed, got %s", name, byName[name].Status)
		}
	}
}

func TestDriverAdvanceHonorsPauseFlag(t *testing.T) {
	db := testDB(t)
	projects := store.NewProjectRepo(db, testLogger(t))
	catalog := stageregistry.DefaultCatalog()
	reg := succeedingRegistry(t, catalog)
	exec := stageexec.NewExecutor(nil, testLogger(t))
	driver, err := NewDriver(projects, reg, exec, testLogger(t), catalog)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}

	dbc := testCtx(db)
	p := &domain.Project{
		ID:          uuid.New(),
		ProjectName: "demo-agent-2",
		Requirement: "build a billing reconciliation agent",
		Status:      domain.ProjectQueued,
	}
	p.SetFlag(domain.ControlFlag{Action: domain.ControlPause})
	if err := projects.Create(dbc, p); err != nil {
		t.Fatalf("create project: %v", err)
	}

	ctx := context.Background()
	requeue, err := driver.Advance(ctx, dbc, p.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if requeue {
		t.Fatal("expected no requeue right after pausing")
	}
	got, err := projects.Get(dbc, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.ProjectPaused {
		t.Fatalf("expected paused, got %s", got.Status)
	}

	requeue, err = driver.Advance(ctx, dbc, p.ID)
	if err != nil {
		t.Fatalf("advance while paused: %v", err)
	}
	if requeue {
		t.Fatal("expected paused project to not be requeued")
	}
}

func TestDriverAdvanceHonorsStopFlag(t *testing.T) {
	db := testDB(t)
	projects := store.NewProjectRepo(db, testLogger(t))
	catalog := stageregistry.DefaultCatalog()
	reg := succeedingRegistry(t, catalog)
	exec := stageexec.NewExecutor(nil, testLogger(t))
	driver, err := NewDriver(projects, reg, exec, testLogger(t), catalog)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}

	dbc := testCtx(db)
	p := &domain.Project{
		ID:          uuid.New(),
		ProjectName: "demo-agent-3",
		Requirement: "build a churn-prediction agent",
		Status:      domain.ProjectBuilding,
	}
	p.SetFlag(domain.ControlFlag{Action: domain.ControlStop})
	if err := projects.Create(dbc, p); err != nil {
		t.Fatalf("create project: %v", err)
	}

	ctx := context.Background()
	requeue, err := driver.Advance(ctx, dbc, p.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if requeue {
		t.Fatal("expected no requeue after stop")
	}
	got, err := projects.Get(dbc, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.ProjectCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}
