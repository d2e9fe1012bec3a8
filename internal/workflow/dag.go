package workflow

import (
	"fmt"

	"github.com/agentforge/buildpipeline/internal/stageregistry"
)

// topoOrder runs Kahn's algorithm over the catalog's RequiredInputs
// edges, grounded on the teacher's orchestrator.validateDAG: same
// indegree-counting, same "stable by input order" tie-break, generalized
// from the teacher's ad-hoc Stage.Deps field to stageregistry.StageDef's
// RequiredInputs.
func topoOrder(defs []stageregistry.StageDef) ([]string, error) {
	seen := map[string]bool{}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("workflow: stage missing name")
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("workflow: duplicate stage %q", d.Name)
		}
		seen[d.Name] = true
	}
	for _, d := range defs {
		for _, dep := range d.RequiredInputs {
			if !seen[dep] {
				return nil, fmt.Errorf("workflow: stage %q requires unknown stage %q", d.Name, dep)
			}
		}
	}

	indeg := map[string]int{}
	adj := map[string][]string{}
	for _, d := range defs {
		indeg[d.Name] = 0
	}
	for _, d := range defs {
		for _, dep := range d.RequiredInputs {
			indeg[d.Name]++
			adj[dep] = append(adj[dep], d.Name)
		}
	}

	order := make([]string, 0, len(defs))
	added := map[string]bool{}
	for {
		progressed := false
		for _, d := range defs {
			if added[d.Name] || indeg[d.Name] != 0 {
				continue
			}
			added[d.Name] = true
			order = append(order, d.Name)
			for _, next := range adj[d.Name] {
				indeg[next]--
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	if len(order) != len(defs) {
		return nil, fmt.Errorf("workflow: cycle detected in stage catalog")
	}
	return order, nil
}

// groupBy collapses a topo order into run units: a lone stage, or every
// entry of the order sharing a non-empty ParallelGroup, gathered at the
// position of the group's first member and dispatched together (spec §4.3's "expands into three
// parallel sub-stages" for agent_developer_manager).
func groupBy(order []string, byName map[string]stageregistry.StageDef) [][]string {
	var units [][]string
	handled := map[string]bool{}
	for _, name := range order {
		if handled[name] {
			continue
		}
		def := byName[name]
		if def.ParallelGroup == "" {
			units = append(units, []string{name})
			handled[name] = true
			continue
		}
		var group []string
		for _, candidate := range order {
			if handled[candidate] {
				continue
			}
			if byName[candidate].ParallelGroup == def.ParallelGroup {
				group = append(group, candidate)
				handled[candidate] = true
			}
		}
		units = append(units, group)
	}
	return units
}
