// Package domain holds the gorm-mapped entities of the Build Pipeline
// Orchestrator: Project, Task, and Agent (spec §3). Project embeds its stage
// snapshot as a JSON column rather than a child table — readers fetch the
// whole project in one query, writers update it in a single conditional
// update, exactly the "artifact records... intentionally embedded" guidance
// in spec §9.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ProjectStatus string

const (
	ProjectPending   ProjectStatus = "pending"
	ProjectQueued    ProjectStatus = "queued"
	ProjectBuilding  ProjectStatus = "building"
	ProjectCompleted ProjectStatus = "completed"
	ProjectFailed    ProjectStatus = "failed"
	ProjectPaused    ProjectStatus = "paused"
	ProjectCancelled ProjectStatus = "cancelled"
)

type ControlFlagAction string

const (
	ControlNone    ControlFlagAction = "none"
	ControlPause   ControlFlagAction = "pause"
	ControlResume  ControlFlagAction = "resume"
	ControlStop    ControlFlagAction = "stop"
	ControlRestart ControlFlagAction = "restart"
)

// ControlFlag is the user-requested transition observed at stage boundaries
// (spec §4.4). It travels as one JSON value rather than a handful of
// nullable scalar columns, so Restart's two extra parameters (FromStage,
// ClearSubsequent) move with the action atomically.
type ControlFlag struct {
	Action          ControlFlagAction `json:"action"`
	FromStage       string            `json:"from_stage,omitempty"`
	ClearSubsequent bool              `json:"clear_subsequent,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	RequestedAt     time.Time         `json:"requested_at,omitempty"`
}

// StageSnapshot is one entry of Project.StagesSnapshot (spec §3 "Stage
// snapshot entry"). Logs is a bounded ring so a runaway stage can't grow the
// Project row without limit; see AppendLog.
type StageSnapshot struct {
	StageName       string         `json:"stage_name"`
	StageNumber     int            `json:"stage_number"`
	DisplayName     string         `json:"display_name"`
	Status          string         `json:"status"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	InputTokens     int            `json:"input_tokens,omitempty"`
	OutputTokens    int            `json:"output_tokens,omitempty"`
	ToolCalls       int            `json:"tool_calls,omitempty"`
	OutputData      map[string]any `json:"output_data,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Logs            []string       `json:"logs,omitempty"`
	Attempts        int            `json:"attempts,omitempty"`
	NextRunAt       *time.Time     `json:"next_run_at,omitempty"`
}

const maxStageLogLines = 200

// AppendLog bounds the per-stage log so a chatty sub-agent cannot grow the
// embedded snapshot without limit.
func (s *StageSnapshot) AppendLog(line string) {
	s.Logs = append(s.Logs, line)
	if len(s.Logs) > maxStageLogLines {
		s.Logs = s.Logs[len(s.Logs)-maxStageLogLines:]
	}
}

// Artifacts reads output_data.artifacts, the canonical location for the
// list of file paths this stage committed (spec §8 property 3).
func (s *StageSnapshot) Artifacts() []string {
	if s.OutputData == nil {
		return nil
	}
	raw, ok := s.OutputData["artifacts"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// Project is the unit of a build (spec §3). Version is the optimistic
// concurrency counter consumed by store.ProjectRepo.Update.
type Project struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"project_id"`
	ProjectName  string         `gorm:"column:project_name;uniqueIndex;not null" json:"project_name"`
	Requirement  string         `gorm:"column:requirement;type:text;not null" json:"requirement"`
	UserID       string         `gorm:"column:user_id;index" json:"user_id,omitempty"`
	UserName     string         `gorm:"column:user_name" json:"user_name,omitempty"`
	Priority     int            `gorm:"column:priority;not null;default:3" json:"priority"`
	Tags         datatypes.JSON `gorm:"column:tags;type:jsonb" json:"tags,omitempty"`
	Status       ProjectStatus  `gorm:"column:status;not null;index" json:"status"`
	Progress     int            `gorm:"column:progress;not null;default:0" json:"progress"`
	CurrentStage string         `gorm:"column:current_stage" json:"current_stage,omitempty"`
	// ControlFlag and StagesSnapshot are raw JSON columns (teacher's
	// datatypes.JSON convention, e.g. JobRun.Payload/Result) rather than
	// normalized tables; see Flag/SetFlag and Stages/SetStages.
	ControlFlag    datatypes.JSON `gorm:"column:control_flag;type:jsonb" json:"control_flag"`
	StagesSnapshot datatypes.JSON `gorm:"column:stages_snapshot;type:jsonb" json:"stages_snapshot"`
	ErrorInfo      string         `gorm:"column:error_info;type:text" json:"error_info,omitempty"`
	Version        int            `gorm:"column:version;not null;default:1" json:"-"`
	CreatedAt      time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	StartedAt      *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Project) TableName() string { return "project" }

// Stages decodes the embedded snapshot list. A decode failure (e.g. an
// empty column on a freshly created project) yields an empty slice rather
// than an error — callers always get a usable, possibly-empty list.
func (p *Project) Stages() []StageSnapshot {
	if len(p.StagesSnapshot) == 0 {
		return nil
	}
	var out []StageSnapshot
	if err := json.Unmarshal(p.StagesSnapshot, &out); err != nil {
		return nil
	}
	return out
}

func (p *Project) SetStages(s []StageSnapshot) {
	b, _ := json.Marshal(s)
	p.StagesSnapshot = datatypes.JSON(b)
}

func (p *Project) Flag() ControlFlag {
	var f ControlFlag
	if len(p.ControlFlag) == 0 {
		return f
	}
	_ = json.Unmarshal(p.ControlFlag, &f)
	return f
}

func (p *Project) SetFlag(f ControlFlag) {
	b, _ := json.Marshal(f)
	p.ControlFlag = datatypes.JSON(b)
}
