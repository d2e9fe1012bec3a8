package stageregistry

import (
	"context"

	"github.com/agentforge/buildpipeline/internal/subagent"
)

// FromRunner adapts a subagent.Runner into the StageFunc the dispatch
// table expects, so the one out-of-scope collaborator (spec §1, §5)
// plugs into C3/C5/C6 without either side knowing about the other's
// types. The adapter carries no retry/timeout/telemetry logic of its own
// — that is entirely stageexec's job (C5); stageexec's runWithTimeout
// already bounds and recovers the call from outside, the same way the
// teacher's safeRunInline bounds a StageFunc that takes no context of
// its own, so FromRunner runs the Runner against context.Background()
// and relies on the enclosing timeout to abandon it on expiry.
func FromRunner(r subagent.Runner) StageFunc {
	return func(exec Exec) (StageOutput, error) {
		req := subagent.Request{
			ProjectID:    exec.ProjectID,
			StageName:    exec.StageName,
			Requirement:  exec.Requirement,
			PriorOutputs: exec.PriorOutputs,
			ProjectDir:   exec.ProjectDir,
		}
		ctx := context.Background()
		res, err := r.Run(ctx, req, subagent.FromContext(ctx), nil)
		if err != nil {
			return StageOutput{}, err
		}
		return StageOutput{
			Data:         res.Data,
			Artifacts:    res.Artifacts,
			InputTokens:  res.InputTokens,
			OutputTokens: res.OutputTokens,
			ToolCalls:    res.ToolCalls,
		}, nil
	}
}
