package executor

import (
	"errors"
	"fmt"
)

// Stage names one ordered phase of the pipeline.
type Stage string

const (
	StageSize      Stage = "size"
	StageWorkspace Stage = "workspace"
	StageBuild     Stage = "build"
	StageRun       Stage = "run"
	StageCheck     Stage = "check"
)

// Failure taxonomy. Every pipeline failure wraps exactly one of these.
var (
	ErrSizeExceeded    = errors.New("code size exceeded")
	ErrWorkspaceIO     = errors.New("workspace i/o failure")
	ErrBuildLaunch     = errors.New("compiler could not be started")
	ErrBuildTimeout    = errors.New("compilation timed out")
	ErrBuildDiagnostic = errors.New("compiler reported errors")
	ErrRunSpawn        = errors.New("program could not be started")
	ErrRunFailure      = errors.New("program exited with failure")
	ErrRunTimeout      = errors.New("program exceeded its time budget")
	ErrWatchdogTimeout = errors.New("snippet watchdog fired")
	ErrCanceled        = errors.New("request canceled before completion")

	// ErrLimitSetup is a spawn failure: the program started but its resource
	// ceilings could not be applied, so it was killed.
	ErrLimitSetup = fmt.Errorf("%w: resource limits not applied", ErrRunSpawn)
	// ErrMemoryExceeded is a run failure caused by the memory ceiling.
	ErrMemoryExceeded = fmt.Errorf("%w: memory ceiling exceeded", ErrRunFailure)
)

// StageError carries a taxonomy error together with the caller-facing
// message for the stage that produced it.
type StageError struct {
	ExecID  string
	Stage   Stage
	Err     error
	Message string
}

func (e *StageError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("execution %s: %s: %s", e.ExecID, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// statusOf maps a pipeline error onto the public status. Both timeout kinds
// look the same to callers.
func statusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrRunTimeout), errors.Is(err, ErrWatchdogTimeout):
		return StatusTimeout
	default:
		return StatusError
	}
}

// kindOf returns a metrics label for err.
func kindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSizeExceeded):
		return "size_exceeded"
	case errors.Is(err, ErrWorkspaceIO):
		return "workspace_io"
	case errors.Is(err, ErrBuildLaunch):
		return "build_launch"
	case errors.Is(err, ErrBuildTimeout):
		return "build_timeout"
	case errors.Is(err, ErrBuildDiagnostic):
		return "build_diagnostic"
	case errors.Is(err, ErrLimitSetup):
		return "limit_setup"
	case errors.Is(err, ErrRunSpawn):
		return "run_spawn"
	case errors.Is(err, ErrMemoryExceeded):
		return "memory_exceeded"
	case errors.Is(err, ErrRunFailure):
		return "run_failure"
	case errors.Is(err, ErrRunTimeout):
		return "run_timeout"
	case errors.Is(err, ErrWatchdogTimeout):
		return "watchdog_timeout"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	default:
		return "internal"
	}
}

// IsTimeout returns true if the error is either timeout kind.
func IsTimeout(err error) bool {
	return statusOf(err) == StatusTimeout
}
