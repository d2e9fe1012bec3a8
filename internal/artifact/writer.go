package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/agentforge/buildpipeline/internal/platform/logger"
)

// Handle is one in-flight commit for a single stage invocation, returned
// by Writer.Begin. A stage writes every file it produces via Put, then
// calls Commit to atomically publish them or Abort to discard them.
type Handle struct {
	projectName string
	stageName   string
	scratchDir  string
	priorPaths  []string

	mu        sync.Mutex
	staged    map[string]string // final path -> scratch path
	committed bool
	result    []string
}

// Writer is C8: the transactional begin/put/commit/abort protocol spec
// §4.8 names. The staging and move protocol uses only the standard library
// (os/path/filepath), as the teacher's own file-handling code
// (localmedia.Tools) does; the one third-party import, gopkg.in/yaml.v3,
// serves PutYAML's encoding.
type Writer struct {
	Layout Layout
	Log    *logger.Logger
}

func NewWriter(layout Layout, baseLog *logger.Logger) *Writer {
	return &Writer{Layout: layout, Log: baseLog.With("component", "artifact.Writer")}
}

// Begin opens a new commit for stageName under projectName. priorPaths is
// the stage's previously-committed artifact set (read from
// Project.stages_snapshot by the caller); on Commit, any prior path not
// re-written by this run is unlinked, implementing spec §4.8's restart
// policy ("first unlink prior files recorded for that stage, then write
// new ones").
func (w *Writer) Begin(ctx context.Context, projectName, stageName string, priorPaths []string) (*Handle, error) {
	scratch := w.Layout.scratchDir(projectName, stageName)
	if err := os.RemoveAll(scratch); err != nil {
		return nil, fmt.Errorf("artifact: clear scratch dir: %w", err)
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create scratch dir: %w", err)
	}
	return &Handle{
		projectName: projectName,
		stageName:   stageName,
		scratchDir:  scratch,
		priorPaths:  priorPaths,
		staged:      make(map[string]string),
	}, nil
}

// Put stages bytes for finalPath (one of Layout's computed paths) into the
// handle's scratch area. Writing the same finalPath twice within one
// commit fails it, per spec §4.8's "within a commit, duplicate paths fail
// the commit".
func (h *Handle) Put(ctx context.Context, finalPath string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.committed {
		return fmt.Errorf("artifact: cannot Put after Commit")
	}
	if _, exists := h.staged[finalPath]; exists {
		return fmt.Errorf("artifact: duplicate path in one commit: %s", finalPath)
	}
	scratchPath := filepath.Join(h.scratchDir, fmt.Sprintf("%d", len(h.staged)))
	if err := os.MkdirAll(filepath.Dir(scratchPath), 0o755); err != nil {
		return fmt.Errorf("artifact: stage scratch file: %w", err)
	}
	if err := os.WriteFile(scratchPath, data, 0o644); err != nil {
		return fmt.Errorf("artifact: stage scratch file: %w", err)
	}
	h.staged[finalPath] = scratchPath
	return nil
}

// PutYAML marshals v and stages it the same way Put does. The config- and
// status-shaped artifacts under a project directory (config.yaml,
// status.yaml, spec §6) are YAML rather than the JSON every other
// artifact category uses, so stage bodies that produce them go through
// this instead of marshaling by hand.
func (h *Handle) PutYAML(ctx context.Context, finalPath string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("artifact: marshal yaml for %s: %w", finalPath, err)
	}
	return h.Put(ctx, finalPath, data)
}

// Commit atomically moves every staged file into place, unlinks any prior
// artifact of this stage not rewritten in this run, and returns the final
// path set. Calling Commit again on an already-committed handle is a
// no-op returning the same path set (spec §4.8 idempotency).
func (h *Handle) Commit(ctx context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.committed {
		return h.result, nil
	}

	kept := make(map[string]bool, len(h.staged))
	for finalPath, scratchPath := range h.staged {
		if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
			return nil, fmt.Errorf("artifact: create destination dir for %s: %w", finalPath, err)
		}
		if err := os.Rename(scratchPath, finalPath); err != nil {
			return nil, fmt.Errorf("artifact: commit %s: %w", finalPath, err)
		}
		kept[finalPath] = true
	}
	for _, prior := range h.priorPaths {
		if kept[prior] {
			continue
		}
		if err := os.Remove(prior); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact: unlink stale artifact %s: %w", prior, err)
		}
	}

	result := make([]string, 0, len(kept))
	for p := range kept {
		result = append(result, p)
	}
	h.committed = true
	h.result = result
	_ = os.RemoveAll(h.scratchDir)
	return result, nil
}

// Abort discards every staged file without touching the destination
// layout or any prior artifact.
func (h *Handle) Abort(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.committed {
		return nil
	}
	return os.RemoveAll(h.scratchDir)
}

// Rollback implements stageexec.ArtifactRollback: it deletes the given
// already-committed paths, the outcome of a validator rejecting a stage
// that had already committed its files (spec §4.5/§7 "artifacts rolled
// back" on deterministic failure).
func (w *Writer) Rollback(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("artifact: rollback %s: %w", p, err)
		}
	}
	return firstErr
}
