// Package dashboard is the Build Dashboard View (C9): a pure read-side
// projection that merges a Project's embedded stage snapshot with its
// latest task status into the single struct spec §4.9 describes, plus
// aggregated metrics and an ETA estimate.
//
// Grounded on the teacher's chat/index read-models (a projection package
// that only ever reads, never writes, store state) generalized from chat
// history into a build's current status.
package dashboard

import (
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/buildpipeline/internal/artifact"
	"github.com/agentforge/buildpipeline/internal/domain"
	"github.com/agentforge/buildpipeline/internal/platform/dbctx"
	"github.com/agentforge/buildpipeline/internal/store"
)

// AggregatedMetrics sums the telemetry of every stage in the snapshot,
// whatever its status (spec §4.9).
type AggregatedMetrics struct {
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
	TotalToolCalls    int     `json:"total_tool_calls"`
	TotalDuration     float64 `json:"total_duration_seconds"`
}

// Snapshot is the read-only view spec §4.9 returns for a given project_id:
// metadata, ordered stages, aggregated metrics, current stage, the latest
// task's status, error info, and whether a workflow_report artifact
// exists.
type Snapshot struct {
	ProjectID        uuid.UUID              `json:"project_id"`
	ProjectName      string                 `json:"project_name"`
	Requirement      string                 `json:"requirement"`
	Status           domain.ProjectStatus   `json:"status"`
	Progress         int                    `json:"progress"`
	CurrentStage     string                 `json:"current_stage,omitempty"`
	Stages           []domain.StageSnapshot `json:"stages"`
	Metrics          AggregatedMetrics      `json:"metrics"`
	ETA              *time.Duration         `json:"-"`
	ETASeconds       *float64               `json:"eta_seconds,omitempty"`
	LatestTaskStatus domain.TaskStatus      `json:"latest_task_status,omitempty"`
	ErrorInfo        string                 `json:"error_info,omitempty"`
	HasWorkflowReport bool                  `json:"has_workflow_report"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// View composes C1's repositories with the artifact layout to answer spec
// §4.9's "Get build dashboard" query. It performs no writes.
type View struct {
	Projects store.ProjectRepo
	Tasks    store.TaskRepo
	Layout   artifact.Layout
}

func New(projects store.ProjectRepo, tasks store.TaskRepo, layout artifact.Layout) *View {
	return &View{Projects: projects, Tasks: tasks, Layout: layout}
}

// Get assembles the dashboard snapshot for projectID. A stale read (the
// project row one replication lag behind) is tolerated per spec §4.9.
func (v *View) Get(dbc dbctx.Context, projectID uuid.UUID) (Snapshot, error) {
	project, err := v.Projects.Get(dbc, projectID)
	if err != nil {
		return Snapshot{}, err
	}
	stages := project.Stages()

	snap := Snapshot{
		ProjectID:         project.ID,
		ProjectName:       project.ProjectName,
		Requirement:       project.Requirement,
		Status:            project.Status,
		Progress:          project.Progress,
		CurrentStage:      project.CurrentStage,
		Stages:            stages,
		Metrics:           aggregate(stages),
		ErrorInfo:         project.ErrorInfo,
		HasWorkflowReport: hasWorkflowReport(v.Layout, project.ProjectName),
		CreatedAt:         project.CreatedAt,
		UpdatedAt:         project.UpdatedAt,
	}

	if eta := estimateETA(stages); eta != nil {
		snap.ETA = eta
		secs := eta.Seconds()
		snap.ETASeconds = &secs
	}

	if latest, err := v.Tasks.LatestForProject(dbc, projectID); err == nil && latest != nil {
		snap.LatestTaskStatus = latest.Status
	}

	return snap, nil
}

func aggregate(stages []domain.StageSnapshot) AggregatedMetrics {
	var m AggregatedMetrics
	for _, s := range stages {
		m.TotalInputTokens += s.InputTokens
		m.TotalOutputTokens += s.OutputTokens
		m.TotalToolCalls += s.ToolCalls
		m.TotalDuration += s.DurationSeconds
	}
	return m
}

// estimateETA extrapolates remaining wall-clock from the average duration
// of stages completed so far, applied to the stages still pending. Returns
// nil when there is no completed stage yet to extrapolate from, or nothing
// left pending.
func estimateETA(stages []domain.StageSnapshot) *time.Duration {
	var completedCount int
	var completedSeconds float64
	var pendingCount int
	for _, s := range stages {
		switch s.Status {
		case "completed":
			completedCount++
			completedSeconds += s.DurationSeconds
		case "pending", "running":
			pendingCount++
		}
	}
	if completedCount == 0 || pendingCount == 0 {
		return nil
	}
	avg := completedSeconds / float64(completedCount)
	eta := time.Duration(avg * float64(pendingCount) * float64(time.Second))
	return &eta
}

// hasWorkflowReport classifies whether a workflow_report artifact exists
// for the UI (spec §4.9), checking both extensions the disk layout (spec
// §6) allows.
func hasWorkflowReport(layout artifact.Layout, projectName string) bool {
	for _, ext := range []string{"md", "html"} {
		if _, err := os.Stat(layout.WorkflowReport(projectName, ext)); err == nil {
			return true
		}
	}
	return false
}
