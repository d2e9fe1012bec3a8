package stageexec

import (
	"context"
	"fmt"
	"time"

	"github.com/agentforge/buildpipeline/internal/stageregistry"
)

// runWithTimeout runs fn on its own goroutine and enforces timeout via
// context cancellation, grounded on the teacher's orchestrator.
// safeRunInline: same goroutine+buffered-channel+select shape, the only
// way to bound a call that doesn't itself accept a context. A timed-out
// goroutine is abandoned, not killed — the caller must treat the stage
// as failed and must not trust any later write it makes.
func runWithTimeout(ctx context.Context, timeout time.Duration, fn stageregistry.StageFunc, exec stageregistry.Exec) (stageregistry.StageOutput, error) {
	if timeout <= 0 {
		return safeRun(fn, exec)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out stageregistry.StageOutput
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := safeRun(fn, exec)
		ch <- result{out: out, err: err}
	}()
	select {
	case <-tctx.Done():
		return stageregistry.StageOutput{}, fmt.Errorf("stage %q timed out after %s: %w", exec.StageName, timeout, tctx.Err())
	case r := <-ch:
		return r.out, r.err
	}
}

// safeRun recovers a panicking stage body and converts it into a plain
// error, same guarantee the teacher's worker loop gives every job
// handler (see worker.Worker.runLoop's deferred recover).
func safeRun(fn stageregistry.StageFunc, exec stageregistry.Exec) (out stageregistry.StageOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %q panicked: %v", exec.StageName, r)
		}
	}()
	return fn(exec)
}
