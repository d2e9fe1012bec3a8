// Package stageregistry is the Stage Registry (C3): the static ordered
// catalog of build-pipeline stages and the dispatch table that maps a
// stage name to the code that executes it.
//
// The dispatch half is grounded directly on the teacher's
// internal/jobs/runtime.Registry: a job_type -> Handler map, one handler
// per type, duplicate or nil registration rejected at startup rather than
// silently tolerated. Here the key is a stage name instead of a job type,
// and the handler is a stage body rather than a whole pipeline.
package stageregistry

import "fmt"

// StageFunc is the business logic behind one stage. It receives the
// project id, the stage name it was invoked as (sub-stages of
// agent_developer_manager share one StageFunc type but register under
// distinct names), and the accumulated output_data of every prior stage
// keyed by stage name. It returns the stage's own output_data plus any
// artifact paths it wrote, or an error.
type StageFunc func(exec Exec) (StageOutput, error)

// Exec is the read-only view of pipeline state a StageFunc is allowed to
// see. It deliberately does not expose the Project row or a DB handle:
// stage bodies report results through their return value, never by
// writing storage directly (mirrors the teacher's "pipelines never touch
// job_run directly" rule from runtime.Context).
type Exec struct {
	ProjectID    string
	StageName    string
	PriorOutputs map[string]map[string]any
	ProjectDir   string
	Requirement  string
}

// StageOutput is the data half of stageexec.Result; the executor
// (C5) wraps this with status/duration/logs bookkeeping the stage body
// itself doesn't own. InputTokens/OutputTokens/ToolCalls are the token and
// tool-call counts the stage body itself observed (e.g. relayed from a
// subagent.Result) — the executor folds these into Result.Metrics
// alongside the wall-clock duration it measures itself (spec §4.5).
type StageOutput struct {
	Data         map[string]any
	Artifacts    []string
	InputTokens  int
	OutputTokens int
	ToolCalls    int
}

// Registry is a name -> StageFunc dispatch table, built once at process
// startup and read concurrently by every worker goroutine.
type Registry struct {
	handlers map[string]StageFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]StageFunc)}
}

// Register binds name to fn. Re-registering the same name is a wiring
// error and is rejected the same way the teacher rejects a duplicate
// job_type handler: fail fast at startup, never silently pick one.
func (r *Registry) Register(name string, fn StageFunc) error {
	if fn == nil {
		return fmt.Errorf("stageregistry: nil handler for %q", name)
	}
	if name == "" {
		return fmt.Errorf("stageregistry: empty stage name")
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("stageregistry: handler already registered for stage %q", name)
	}
	r.handlers[name] = fn
	return nil
}

// Get returns the handler bound to name, or (nil, false) if none was
// registered. A worker treats a miss as a fatal configuration error, not
// a retryable one.
func (r *Registry) Get(name string) (StageFunc, bool) {
	fn, ok := r.handlers[name]
	return fn, ok
}
