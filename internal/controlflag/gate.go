// Package controlflag is the Control-Flag Gate (C4): spec §4.4's
// none/pause/resume/stop/restart state machine, consulted at stage
// boundaries and at developer-manager fan-in.
//
// Grounded on the teacher's rollback.PauseJob/ResumePausedJobs — same
// idea (a side-channel flag that suspends or resumes a running job) —
// generalized from a single hardcoded "structural_freeze" stage into the
// full flag vocabulary spec §4.4 requires, including restart-from-stage.
package controlflag

import (
	"fmt"
	"time"

	"github.com/agentforge/buildpipeline/internal/domain"
)

// Decision is what the driver (C6) should do after consulting the gate.
type Decision struct {
	Action    domain.ControlFlagAction
	FromStage string
	ClearRest bool
}

// Check reads the project's control flag and returns what the caller
// should do about it. It does not mutate the project; callers apply the
// resulting transition via store.ProjectRepo.Update so the whole
// read-decide-write cycle stays inside one CAS attempt.
func Check(p *domain.Project) Decision {
	f := p.Flag()
	return Decision{Action: f.Action, FromStage: f.FromStage, ClearRest: f.ClearSubsequent}
}

// ApplyPause transitions a project into the paused state (spec §4.4):
// status=paused, current_stage left pointing at the stage that would run
// next, control flag cleared back to none so a future resume isn't
// immediately re-observed as a stale pause.
func ApplyPause(p *domain.Project, nextStage string) {
	p.Status = domain.ProjectPaused
	p.CurrentStage = nextStage
	p.SetFlag(domain.ControlFlag{Action: domain.ControlNone})
}

// ApplyResume transitions paused -> building so the driver re-enqueues a
// build_agent task for the project.
func ApplyResume(p *domain.Project) error {
	if p.Status != domain.ProjectPaused {
		return fmt.Errorf("controlflag: resume requires status=paused, got %s", p.Status)
	}
	p.Status = domain.ProjectBuilding
	p.SetFlag(domain.ControlFlag{Action: domain.ControlNone})
	return nil
}

// ApplyStop marks the project cancelled. Per spec §4.4 a stop discards
// the in-flight stage's result (the caller must not commit it) but does
// not cascade-delete anything; state is retained for audit.
func ApplyStop(p *domain.Project) {
	p.Status = domain.ProjectCancelled
	p.SetFlag(domain.ControlFlag{Action: domain.ControlNone})
}

// ApplyRestart resets fromStage (and, if clearSubsequent, every later
// stage in catalog order) back to pending and strips their artifacts
// from the snapshot, then re-enqueues the project. order must list every
// stage name in pipeline order so "later than fromStage" is well defined.
func ApplyRestart(p *domain.Project, fromStage string, clearSubsequent bool, order []string) error {
	idx := indexOf(order, fromStage)
	if idx < 0 {
		return fmt.Errorf("controlflag: unknown stage %q", fromStage)
	}
	stages := p.Stages()
	reset := map[string]bool{fromStage: true}
	if clearSubsequent {
		for _, name := range order[idx+1:] {
			reset[name] = true
		}
	}
	for i := range stages {
		if !reset[stages[i].StageName] {
			continue
		}
		stages[i].Status = "pending"
		stages[i].StartedAt = nil
		stages[i].CompletedAt = nil
		stages[i].DurationSeconds = 0
		stages[i].InputTokens = 0
		stages[i].OutputTokens = 0
		stages[i].ToolCalls = 0
		stages[i].OutputData = nil
		stages[i].ErrorMessage = ""
		stages[i].Logs = nil
	}
	p.SetStages(stages)
	p.Status = domain.ProjectQueued
	p.CurrentStage = fromStage
	p.SetFlag(domain.ControlFlag{Action: domain.ControlNone})
	return nil
}

// RequestFlag records a caller's intent (spec §4.4's four verbs) onto
// the project without acting on it yet; the driver observes and applies
// it at the next boundary check.
func RequestFlag(p *domain.Project, action domain.ControlFlagAction, fromStage string, clearSubsequent bool, reason string) {
	p.SetFlag(domain.ControlFlag{
		Action:          action,
		FromStage:       fromStage,
		ClearSubsequent: clearSubsequent,
		Reason:          reason,
		RequestedAt:     time.Now().UTC(),
	})
}

func indexOf(order []string, name string) int {
	for i, s := range order {
		if s == name {
			return i
		}
	}
	return -1
}
