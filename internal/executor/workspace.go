package executor

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"snippet-runner/internal/toolchain"
)

// Workspace is the ephemeral build directory of exactly one request.
type Workspace struct {
	Dir    string
	logger zerolog.Logger
}

// newWorkspace creates a uniquely named directory under root (os.TempDir()
// when empty) holding the toolchain manifest and the source unit. On any
// failure the partial directory is removed before returning.
func newWorkspace(root, execID string, tc toolchain.Toolchain, source string, logger zerolog.Logger) (*Workspace, error) {
	fail := func(msg string, err error) error {
		return &StageError{ExecID: execID, Stage: StageWorkspace, Err: ErrWorkspaceIO, Message: msg + ": " + err.Error()}
	}

	dir, err := os.MkdirTemp(root, "snippet-"+execID+"-*")
	if err != nil {
		return nil, fail("Failed to create temp directory", err)
	}
	ws := &Workspace{Dir: dir, logger: logger}

	manifest := filepath.Join(dir, tc.ManifestName())
	if err := os.WriteFile(manifest, []byte(tc.Manifest(unitName(execID))), 0o600); err != nil {
		ws.Close()
		return nil, fail("Failed to create "+tc.ManifestName(), err)
	}

	src := filepath.Join(dir, tc.SourcePath())
	if err := os.MkdirAll(filepath.Dir(src), 0o700); err != nil {
		ws.Close()
		return nil, fail("Failed to write "+tc.SourcePath(), err)
	}
	if err := os.WriteFile(src, []byte(source), 0o600); err != nil {
		ws.Close()
		return nil, fail("Failed to write "+tc.SourcePath(), err)
	}

	logger.Debug().Str("dir", dir).Msg("workspace materialized")
	return ws, nil
}

// Close removes the workspace. Failures are logged and never surface to the
// caller.
func (w *Workspace) Close() {
	if err := os.RemoveAll(w.Dir); err != nil {
		w.logger.Error().Err(err).Str("dir", w.Dir).Msg("workspace cleanup failed")
	}
}

// unitName derives a package name valid for every toolchain manifest.
func unitName(execID string) string {
	id := strings.ReplaceAll(execID, "-", "")
	if len(id) > 12 {
		id = id[:12]
	}
	return "snippet_" + id
}
