package stageregistry

import "testing"

func TestDefaultCatalogOrderAndDeps(t *testing.T) {
	catalog := DefaultCatalog()
	if len(catalog) != 9 {
		t.Fatalf("expected 9 stage defs (6 sequential + 3 parallel substages), got %d", len(catalog))
	}
	byName := make(map[string]StageDef, len(catalog))
	for _, d := range catalog {
		byName[d.Name] = d
	}
	for _, name := range []string{StageOrchestrator, StageRequirementsAnalyzer, StageSystemArchitect, StageAgentDesigner, StageAgentDeployer} {
		if _, ok := byName[name]; !ok {
			t.Fatalf("expected stage %q in default catalog", name)
		}
	}
	for _, name := range DeveloperManagerSubstages {
		d, ok := byName[name]
		if !ok {
			t.Fatalf("expected developer-manager substage %q in catalog", name)
		}
		if d.ParallelGroup != StageDeveloperManager {
			t.Fatalf("substage %q: expected parallel group %q, got %q", name, StageDeveloperManager, d.ParallelGroup)
		}
		if len(d.RequiredInputs) != 1 || d.RequiredInputs[0] != StageAgentDesigner {
			t.Fatalf("substage %q: expected RequiredInputs=[%q], got %v", name, StageAgentDesigner, d.RequiredInputs)
		}
	}
	deployer := byName[StageAgentDeployer]
	if !deployer.Optional {
		t.Fatal("expected agent_deployer to be optional")
	}
	if len(deployer.RequiredInputs) != 3 {
		t.Fatalf("expected agent_deployer to require all 3 substages, got %v", deployer.RequiredInputs)
	}
}

func TestRequireAtLeastOneValidator(t *testing.T) {
	if err := requireAtLeastOne(nil); err == nil {
		t.Fatal("expected error for empty artifact list")
	}
	if err := requireAtLeastOne([]string{"a.txt"}); err != nil {
		t.Fatalf("expected nil error for non-empty artifact list, got %v", err)
	}
}
