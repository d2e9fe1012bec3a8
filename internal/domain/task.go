package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TaskType string

const (
	TaskBuildAgent   TaskType = "build_agent"
	TaskDeployAgent  TaskType = "deploy_agent"
	TaskInvokeAgent  TaskType = "invoke_agent"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is a unit of work on C2's priority queue (spec §3). It is grounded
// on the teacher's job_run table: Payload/Result are raw JSON, leasing is a
// locked_at/heartbeat_at pair, and retries are counted in-row rather than
// re-delivered with a fresh row.
type Task struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"task_id"`
	TaskType    TaskType       `gorm:"column:task_type;not null;index" json:"task_type"`
	ProjectID   *uuid.UUID     `gorm:"type:uuid;column:project_id;index" json:"project_id,omitempty"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`
	Priority    int            `gorm:"column:priority;not null;default:3;index" json:"priority"`
	RetryCount  int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	MaxRetries  int            `gorm:"column:max_retries;not null;default:3" json:"max_retries"`
	Status      TaskStatus     `gorm:"column:status;not null;index" json:"status"`
	WorkerID    string         `gorm:"column:worker_id;index" json:"worker_id,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at;index" json:"-"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"-"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at;index" json:"-"`
	Result      datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	ErrorMessage string        `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	StartedAt   *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Task) TableName() string { return "task" }
