package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FailureArtifact is written when a run rolls back.
type FailureArtifact struct {
	Error    string    `json:"error"`
	Stack    string    `json:"stack"`
	Log      []string  `json:"log"`
	RunID    string    `json:"runId"`
	Phase    string    `json:"phase"`
	Warnings []Warning `json:"warnings"`
}

// Writer persists run artifacts as timestamped JSON files in Dir.
type Writer struct {
	Dir string
}

// WriteSuccess persists the step messages, warnings and outcomes of a committed run.
func (w Writer) WriteSuccess(run *Run) (string, error) {
	snap := run.Snapshot()
	return w.write("migration", snap.StartedAt, snap.RunID, snap)
}

// WriteFailure persists {error, stack, log} for a rolled back run.
func (w Writer) WriteFailure(run *Run, cause error, stack []byte) (string, error) {
	snap := run.Snapshot()
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return w.write("migration-error", snap.StartedAt, snap.RunID, FailureArtifact{
		Error:    msg,
		Stack:    string(stack),
		Log:      snap.Messages,
		RunID:    snap.RunID,
		Phase:    snap.Phase,
		Warnings: snap.Warnings,
	})
}

func (w Writer) write(prefix string, startedAt time.Time, runID string, v any) (string, error) {
	dir := w.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}

	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode artifact: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%s.json", prefix, startedAt.UTC().Format("20060102T150405Z"), runID[:8])
	path := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	defer os.Remove(tmp.Name()) // nolint:errcheck

	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	return path, nil
}
