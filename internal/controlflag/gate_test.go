package controlflag

import (
	"testing"

	"github.com/agentforge/buildpipeline/internal/domain"
)

var order = []string{"orchestrator", "requirements_analyzer", "system_architect", "agent_designer", "agent_deployer"}

func TestCheckReadsFlagWithoutMutating(t *testing.T) {
	p := &domain.Project{Status: domain.ProjectBuilding}
	p.SetFlag(domain.ControlFlag{Action: domain.ControlPause})
	d := Check(p)
	if d.Action != domain.ControlPause {
		t.Fatalf("expected pause action, got %s", d.Action)
	}
	if p.Status != domain.ProjectBuilding {
		t.Fatalf("Check must not mutate project status, got %s", p.Status)
	}
}

func TestApplyPause(t *testing.T) {
	p := &domain.Project{Status: domain.ProjectBuilding}
	p.SetFlag(domain.ControlFlag{Action: domain.ControlPause})
	ApplyPause(p, "system_architect")
	if p.Status != domain.ProjectPaused {
		t.Fatalf("expected paused, got %s", p.Status)
	}
	if p.CurrentStage != "system_architect" {
		t.Fatalf("expected current_stage preserved, got %s", p.CurrentStage)
	}
	if p.Flag().Action != domain.ControlNone {
		t.Fatalf("expected flag cleared after pause applied, got %s", p.Flag().Action)
	}
}

func TestApplyResumeRequiresPaused(t *testing.T) {
	p := &domain.Project{Status: domain.ProjectBuilding}
	if err := ApplyResume(p); err == nil {
		t.Fatal("expected error resuming a non-paused project")
	}
}

func TestApplyResumeFromPaused(t *testing.T) {
	p := &domain.Project{Status: domain.ProjectPaused}
	if err := ApplyResume(p); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if p.Status != domain.ProjectBuilding {
		t.Fatalf("expected building, got %s", p.Status)
	}
}

func TestApplyStop(t *testing.T) {
	p := &domain.Project{Status: domain.ProjectBuilding}
	ApplyStop(p)
	if p.Status != domain.ProjectCancelled {
		t.Fatalf("expected cancelled, got %s", p.Status)
	}
}

func TestApplyRestartClearsFromStageOnly(t *testing.T) {
	p := &domain.Project{Status: domain.ProjectFailed}
	p.SetStages([]domain.StageSnapshot{
		{StageName: "orchestrator", Status: "completed", OutputData: map[string]any{"a": 1}},
		{StageName: "requirements_analyzer", Status: "completed"},
		{StageName: "system_architect", Status: "failed", ErrorMessage: "boom"},
		{StageName: "agent_designer", Status: "pending"},
	})
	if err := ApplyRestart(p, "system_architect", false, order); err != nil {
		t.Fatalf("restart: %v", err)
	}
	stages := p.Stages()
	byName := map[string]domain.StageSnapshot{}
	for _, s := range stages {
		byName[s.StageName] = s
	}
	if byName["system_architect"].Status != "pending" {
		t.Fatalf("expected system_architect reset to pending, got %s", byName["system_architect"].Status)
	}
	if byName["system_architect"].ErrorMessage != "" {
		t.Fatal("expected error message cleared on restarted stage")
	}
	if byName["orchestrator"].Status != "completed" {
		t.Fatal("expected earlier completed stage left untouched")
	}
	if byName["agent_designer"].Status != "pending" {
		t.Fatal("expected later never-run stage left as pending")
	}
	if p.Status != domain.ProjectQueued {
		t.Fatalf("expected queued after restart, got %s", p.Status)
	}
	if p.CurrentStage != "system_architect" {
		t.Fatalf("expected current_stage=system_architect, got %s", p.CurrentStage)
	}
}

func TestApplyRestartClearSubsequent(t *testing.T) {
	p := &domain.Project{Status: domain.ProjectFailed}
	p.SetStages([]domain.StageSnapshot{
		{StageName: "orchestrator", Status: "completed"},
		{StageName: "requirements_analyzer", Status: "completed"},
		{StageName: "system_architect", Status: "failed"},
		{StageName: "agent_designer", Status: "pending"},
		{StageName: "agent_deployer", Status: "pending"},
	})
	if err := ApplyRestart(p, "requirements_analyzer", true, order); err != nil {
		t.Fatalf("restart: %v", err)
	}
	for _, s := range p.Stages() {
		if s.StageName == "orchestrator" {
			if s.Status != "completed" {
				t.Fatal("expected stage before fromStage left untouched")
			}
			continue
		}
		if s.Status != "pending" {
			t.Fatalf("expected stage %q reset to pending with clearSubsequent, got %s", s.StageName, s.Status)
		}
	}
}

func TestApplyRestartUnknownStage(t *testing.T) {
	p := &domain.Project{}
	if err := ApplyRestart(p, "no_such_stage", false, order); err == nil {
		t.Fatal("expected error for unknown fromStage")
	}
}

func TestRequestFlagRoundTrip(t *testing.T) {
	p := &domain.Project{}
	RequestFlag(p, domain.ControlRestart, "agent_designer", true, "user requested rerun")
	f := p.Flag()
	if f.Action != domain.ControlRestart || f.FromStage != "agent_designer" || !f.ClearSubsequent {
		t.Fatalf("unexpected flag round-trip: %+v", f)
	}
}
