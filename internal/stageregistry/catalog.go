package stageregistry

// StageDef is one row of the static pipeline catalog (spec §4.3): name,
// display name, position, which parallel group (if any) it belongs to,
// which prior stages' output it needs, what artifact categories it
// produces, and the validator that gates its artifacts before commit.
type StageDef struct {
	Name           string
	DisplayName    string
	Order          int
	ParallelGroup  string
	RequiredInputs []string
	Produces       []string
	Validator      func(artifacts []string) error
	Optional       bool
}

const (
	StageOrchestrator         = "orchestrator"
	StageRequirementsAnalyzer = "requirements_analyzer"
	StageSystemArchitect      = "system_architect"
	StageAgentDesigner        = "agent_designer"
	StageDeveloperManager     = "agent_developer_manager"
	StageToolDeveloper        = "tool_developer"
	StagePromptEngineer       = "prompt_engineer"
	StageAgentCodeDeveloper   = "agent_code_developer"
	StageAgentDeployer        = "agent_deployer"
)

// DeveloperManagerSubstages lists the three stages that run concurrently
// under agent_developer_manager's fan-out/fan-in (spec §4.3 item 5,
// §4.6's parallel_group semantics).
var DeveloperManagerSubstages = []string{StageToolDeveloper, StagePromptEngineer, StageAgentCodeDeveloper}

// DefaultCatalog returns the fixed ordering described in spec §4.3. The
// validators are intentionally permissive placeholders here: each
// requires at least one artifact to have been written (the artifact's
// category is not checked), which is the minimum C5 needs to decide pass/fail without
// this package knowing anything about file contents.
func DefaultCatalog() []StageDef {
	return []StageDef{
		{
			Name:        StageOrchestrator,
			DisplayName: "Orchestrator",
			Order:       1,
			Produces:    []string{"project_config"},
			Validator:   requireAtLeastOne,
		},
		{
			Name:           StageRequirementsAnalyzer,
			DisplayName:    "Requirements Analyzer",
			Order:          2,
			RequiredInputs: []string{StageOrchestrator},
			Produces:       []string{"requirements_doc"},
			Validator:      requireAtLeastOne,
		},
		{
			Name:           StageSystemArchitect,
			DisplayName:    "System Architect",
			Order:          3,
			RequiredInputs: []string{StageRequirementsAnalyzer},
			Produces:       []string{"architecture_doc"},
			Validator:      requireAtLeastOne,
		},
		{
			Name:           StageAgentDesigner,
			DisplayName:    "Agent Designer",
			Order:          4,
			RequiredInputs: []string{StageSystemArchitect},
			Produces:       []string{"agent_design_doc"},
			Validator:      requireAtLeastOne,
		},
		{
			Name:           StageToolDeveloper,
			DisplayName:    "Tool Developer",
			Order:          5,
			ParallelGroup:  StageDeveloperManager,
			RequiredInputs: []string{StageAgentDesigner},
			Produces:       []string{"tool_code"},
			Validator:      requireAtLeastOne,
		},
		{
			Name:           StagePromptEngineer,
			DisplayName:    "Prompt Engineer",
			Order:          5,
			ParallelGroup:  StageDeveloperManager,
			RequiredInputs: []string{StageAgentDesigner},
			Produces:       []string{"prompt"},
			Validator:      requireAtLeastOne,
		},
		{
			Name:           StageAgentCodeDeveloper,
			DisplayName:    "Agent Code Developer",
			Order:          5,
			ParallelGroup:  StageDeveloperManager,
			RequiredInputs: []string{StageAgentDesigner},
			Produces:       []string{"agent_code"},
			Validator:      requireAtLeastOne,
		},
		{
			Name:           StageDeveloperManager,
			DisplayName:    "Agent Developer Manager",
			Order:          5,
			RequiredInputs: DeveloperManagerSubstages,
			Produces:       []string{"developer_manager_report"},
			Validator:      requireAtLeastOne,
		},
		{
			Name:           StageAgentDeployer,
			DisplayName:    "Agent Deployer",
			Order:          6,
			RequiredInputs: DeveloperManagerSubstages,
			Produces:       []string{"deployment_manifest"},
			Validator:      requireAtLeastOne,
			Optional:       true,
		},
	}
}

func requireAtLeastOne(artifacts []string) error {
	if len(artifacts) == 0 {
		return errNoArtifacts
	}
	return nil
}

var errNoArtifacts = stageCatalogError("stage produced no artifacts")

type stageCatalogError string

func (e stageCatalogError) Error() string { return string(e) }
