// Package subagent is the one out-of-scope boundary this module models as
// a Go interface rather than implementing (spec §1, §5): the LLM prompt
// execution behind each stage body. The core — stage registry, executor,
// driver, worker pool — is exercised and tested entirely against Runner
// without ever invoking a real model.
//
// Grounded on the teacher's runtime.Context: "pipelines never touch
// job_run directly, they go through this object" becomes "stage bodies
// never touch Project/DB directly, they go through Runner+StageEvent".
package subagent

import "context"

// EventType enumerates the finite set of events a Runner may emit while it
// works (spec §9 "Streaming SSE of sub-agent output"). The pipeline's
// correctness never depends on anyone consuming these; they exist so an
// external transport can tail a lazy, finite sequence for progress UI.
type EventType string

const (
	EventText       EventType = "text"
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventMetrics    EventType = "metrics"
	EventDone       EventType = "done"
)

// StageEvent is one item of a Runner's event stream.
type StageEvent struct {
	Type      EventType
	Text      string
	ToolName  string
	ToolInput map[string]any
	ToolOut   map[string]any
	Metrics   map[string]any
}

// Request is everything a Runner needs to execute one stage invocation:
// the same read-only view stageregistry.Exec gives a StageFunc, so an
// stageregistry.FromRunner-wrapped Runner slots directly into the stage registry's dispatch
// table.
type Request struct {
	ProjectID    string
	StageName    string
	Requirement  string
	PriorOutputs map[string]map[string]any
	ProjectDir   string
}

// Result is what a Runner reports back: the generated data/artifacts, and
// the telemetry C5 folds into stageexec.Result.Metrics.
type Result struct {
	Data         map[string]any
	Artifacts    []string
	InputTokens  int
	OutputTokens int
	ToolCalls    int
}

// Cancel is the cooperative cancellation handle passed to a Runner (spec
// §4.7, §5: "a stop flag... is surfaced to the sub-agent via a
// cancellation handle"). A Runner is expected to observe it at tool-call
// boundaries; hard cancellation is never guaranteed.
type Cancel interface {
	// Cancelled reports whether the caller has asked this invocation to
	// stop. A Runner should check this between tool calls and return
	// promptly (with whatever partial Result it has) once true.
	Cancelled() bool
}

// Runner is the sub-agent body contract: prepare, run, and stream events.
// Every concrete implementation (requirements analysis, architecture
// design, code generation, ...) lives outside this module's scope per
// spec §1 — only this interface, and the adapter that turns it into a
// stageregistry.StageFunc, belong to the core.
type Runner interface {
	// Run executes one stage invocation to completion (or until ctx is
	// cancelled / cancel.Cancelled() is observed), emitting StageEvents to
	// onEvent as it goes. onEvent may be nil; a Runner must tolerate that.
	Run(ctx context.Context, req Request, cancel Cancel, onEvent func(StageEvent)) (Result, error)
}

type ctxCancel struct {
	ctx context.Context
}

func (c ctxCancel) Cancelled() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// FromContext adapts a plain context.Context into the Cancel handle a
// Runner expects, so callers that only have ctx (most of them) don't need
// to construct one by hand.
func FromContext(ctx context.Context) Cancel { return ctxCancel{ctx: ctx} }
