package dashboard

import (
	"testing"

	"github.com/google/uuid"

	"github.com/agentforge/buildpipeline/internal/domain"
)

func TestEventFromProject(t *testing.T) {
	p := &domain.Project{
		ID:           uuid.New(),
		Status:       domain.ProjectBuilding,
		CurrentStage: "system_architect",
		Progress:     42,
	}
	evt := EventFromProject(p)
	if evt.ProjectID != p.ID.String() {
		t.Fatalf("project_id = %q, want %q", evt.ProjectID, p.ID.String())
	}
	if evt.Status != "building" {
		t.Fatalf("status = %q, want building", evt.Status)
	}
	if evt.Stage != "system_architect" {
		t.Fatalf("stage = %q", evt.Stage)
	}
	if evt.Progress != 42 {
		t.Fatalf("progress = %d, want 42", evt.Progress)
	}
}

func TestNewRedisNotifierRequiresAddr(t *testing.T) {
	if _, err := NewRedisNotifier("", "", testLogger(t)); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
