package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DeploymentType string

const (
	DeploymentLocal     DeploymentType = "local"
	DeploymentAgentCore DeploymentType = "agentcore"
)

type AgentStatus string

const (
	AgentRunning   AgentStatus = "running"
	AgentOffline   AgentStatus = "offline"
	AgentError     AgentStatus = "error"
	AgentDeploying AgentStatus = "deploying"
)

// Agent is the artifact of a successful build (spec §3), created once by
// the agent_developer_manager stage and never mutated by the pipeline
// afterward — only invocation bookkeeping (counters, LastInvokedAt) changes,
// and that is outside this module's scope per spec §1's Non-goals.
type Agent struct {
	ID                 string         `gorm:"column:id;primaryKey" json:"agent_id"` // "<project_id>:<agent_name>"
	ProjectID          uuid.UUID      `gorm:"type:uuid;column:project_id;index;not null" json:"project_id"`
	AgentName          string         `gorm:"column:agent_name;not null" json:"agent_name"`
	DeploymentType     DeploymentType `gorm:"column:deployment_type;not null" json:"deployment_type"`
	Status             AgentStatus    `gorm:"column:status;not null;index" json:"status"`
	Capabilities       datatypes.JSON `gorm:"column:capabilities;type:jsonb" json:"capabilities,omitempty"`
	Tools              datatypes.JSON `gorm:"column:tools;type:jsonb" json:"tools,omitempty"`
	PromptPath         string         `gorm:"column:prompt_path" json:"prompt_path"`
	CodePath           string         `gorm:"column:code_path" json:"code_path"`
	TotalInvocations   int64          `gorm:"column:total_invocations;not null;default:0" json:"total_invocations"`
	SuccessInvocations int64          `gorm:"column:successful_invocations;not null;default:0" json:"successful_invocations"`
	FailedInvocations  int64          `gorm:"column:failed_invocations;not null;default:0" json:"failed_invocations"`
	AvgDurationMs      float64        `gorm:"column:avg_duration_ms;not null;default:0" json:"avg_duration_ms"`
	LastInvokedAt      *time.Time     `gorm:"column:last_invoked_at" json:"last_invoked_at,omitempty"`
	DeploymentMeta      datatypes.JSON `gorm:"column:deployment_meta;type:jsonb" json:"deployment_meta,omitempty"`
	CreatedAt          time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Agent) TableName() string { return "agent" }
