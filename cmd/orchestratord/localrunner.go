// The sub-agent bodies behind each stage (requirements analysis,
// architecture design, code generation, ...) are an explicit collaborator
// boundary, not part of this module (SPEC_FULL.md §1, §5): only
// internal/subagent.Runner and its stageregistry adapter belong here. What
// follows is the minimal, deterministic Runner this binary registers so the
// pipeline is runnable end to end without a model attached — it writes one
// placeholder artifact per stage through the same artifact.Writer protocol a
// real Runner would use, and nothing else. Swap fixedRunner for a real
// Runner per stage to attach actual sub-agents; everything upstream of
// Runner is indifferent to the swap.
package main

import (
	"context"
	"fmt"

	"github.com/agentforge/buildpipeline/internal/artifact"
	"github.com/agentforge/buildpipeline/internal/subagent"
)

// fixedRunner produces one artifact of the given category under the
// project's directory and reports a fixed, nominal token/tool count.
type fixedRunner struct {
	writer   *artifact.Writer
	category string
}

func newFixedRunner(writer *artifact.Writer, category string) subagent.Runner {
	return &fixedRunner{writer: writer, category: category}
}

func (r *fixedRunner) Run(ctx context.Context, req subagent.Request, cancel subagent.Cancel, onEvent func(subagent.StageEvent)) (subagent.Result, error) {
	if cancel != nil && cancel.Cancelled() {
		return subagent.Result{}, fmt.Errorf("subagent: %s cancelled before start", req.StageName)
	}

	h, err := r.writer.Begin(ctx, req.ProjectID, req.StageName, nil)
	if err != nil {
		return subagent.Result{}, err
	}

	// project_config is the one catalog entry shaped like config.yaml
	// (spec §6); every other stage reports a plain JSON stage manifest.
	var writeErr error
	if r.category == "project_config" {
		writeErr = h.PutYAML(ctx, r.writer.Layout.ProjectConfig(req.ProjectID), map[string]any{
			"project_id": req.ProjectID,
			"stage":      req.StageName,
		})
	} else {
		path := r.writer.Layout.StageReport(req.ProjectID, "pipeline", req.StageName)
		body := []byte(fmt.Sprintf("{\"stage\":%q,\"category\":%q}\n", req.StageName, r.category))
		writeErr = h.Put(ctx, path, body)
	}
	if writeErr != nil {
		_ = h.Abort(ctx)
		return subagent.Result{}, writeErr
	}
	committed, err := h.Commit(ctx)
	if err != nil {
		return subagent.Result{}, err
	}

	if onEvent != nil {
		onEvent(subagent.StageEvent{Type: subagent.EventDone, Text: "stage complete"})
	}
	return subagent.Result{
		Data:         map[string]any{"category": r.category},
		Artifacts:    committed,
		InputTokens:  1,
		OutputTokens: 1,
		ToolCalls:    0,
	}, nil
}
