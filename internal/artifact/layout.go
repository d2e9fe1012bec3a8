// Package artifact is the Artifact Writer (C8): the transactional
// begin/put/commit/abort protocol spec §4.8 defines for persisting a
// stage's generated files to the on-disk layout spec §6 names as a
// contract consumed by downstream runtime/deployment services.
//
// Grounded on the teacher's localmedia.Tools: the same os.MkdirAll/
// os.WriteFile/exec-free, stdlib-only file handling, generalized from
// "convert one media file, return its path" into a commit protocol with a
// scratch area and an atomic move into place, since C8 additionally needs
// all-or-nothing visibility across a whole stage's file set (spec §8
// property 3, "artifact atomicity").
package artifact

import "path/filepath"

// Layout computes the deterministic paths spec §6 names, rooted at root
// (typically a configured data directory).
type Layout struct {
	Root string
}

func NewLayout(root string) Layout { return Layout{Root: root} }

func (l Layout) ProjectDir(projectName string) string {
	return filepath.Join(l.Root, "projects", projectName)
}

func (l Layout) ProjectConfig(projectName string) string {
	return filepath.Join(l.ProjectDir(projectName), "config.yaml")
}

func (l Layout) ProjectStatus(projectName string) string {
	return filepath.Join(l.ProjectDir(projectName), "status.yaml")
}

func (l Layout) ProjectReadme(projectName string) string {
	return filepath.Join(l.ProjectDir(projectName), "README.md")
}

func (l Layout) ProjectRequirements(projectName string) string {
	return filepath.Join(l.ProjectDir(projectName), "requirements.txt")
}

func (l Layout) WorkflowReport(projectName, ext string) string {
	return filepath.Join(l.ProjectDir(projectName), "workflow_report."+ext)
}

// StageReport is the per-stage JSON manifest under
// projects/<name>/agents/<agent>/<stage>.json (spec §6's "agents/<agent_name>/
// requirements_analyzer.json" family).
func (l Layout) StageReport(projectName, agentName, stageName string) string {
	return filepath.Join(l.ProjectDir(projectName), "agents", agentName, stageName+".json")
}

func (l Layout) GeneratedAgentCode(projectName, agentName string) string {
	return filepath.Join(l.Root, "agents", "generated_agents", projectName, agentName+".py")
}

func (l Layout) GeneratedAgentPrompt(projectName, agentName string) string {
	return filepath.Join(l.Root, "prompts", "generated_agents_prompts", projectName, agentName+".yaml")
}

func (l Layout) GeneratedTool(projectName, module, tool string) string {
	return filepath.Join(l.Root, "tools", "generated_tools", projectName, module, tool+".py")
}

// scratchDir is where put() stages bytes before commit() moves them into
// place; every project+stage gets a disjoint scratch prefix so concurrent
// stages (the developer-manager fan-out) never collide.
func (l Layout) scratchDir(projectName, stageName string) string {
	return filepath.Join(l.Root, ".scratch", projectName, stageName)
}
