package executor

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusSuccess},
		{ErrSizeExceeded, StatusError},
		{ErrWorkspaceIO, StatusError},
		{ErrBuildLaunch, StatusError},
		{ErrBuildTimeout, StatusError},
		{ErrBuildDiagnostic, StatusError},
		{ErrRunSpawn, StatusError},
		{ErrLimitSetup, StatusError},
		{ErrRunFailure, StatusError},
		{ErrMemoryExceeded, StatusError},
		{ErrRunTimeout, StatusTimeout},
		{ErrWatchdogTimeout, StatusTimeout},
		{ErrCanceled, StatusError},
		{&StageError{Stage: StageRun, Err: ErrWatchdogTimeout}, StatusTimeout},
		{fmt.Errorf("wrapped: %w", ErrRunTimeout), StatusTimeout},
	}
	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.want {
			t.Errorf("statusOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrSizeExceeded, "size_exceeded"},
		{ErrBuildTimeout, "build_timeout"},
		{ErrLimitSetup, "limit_setup"},
		{ErrRunSpawn, "run_spawn"},
		{ErrMemoryExceeded, "memory_exceeded"},
		{ErrRunFailure, "run_failure"},
		{ErrWatchdogTimeout, "watchdog_timeout"},
		{ErrCanceled, "canceled"},
		{errors.New("other"), "internal"},
	}
	for _, tt := range tests {
		if got := kindOf(tt.err); got != tt.want {
			t.Errorf("kindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestSubtypes(t *testing.T) {
	if !errors.Is(ErrLimitSetup, ErrRunSpawn) {
		t.Error("ErrLimitSetup should be a spawn failure")
	}
	if !errors.Is(ErrMemoryExceeded, ErrRunFailure) {
		t.Error("ErrMemoryExceeded should be a run failure")
	}
	if errors.Is(ErrRunFailure, ErrMemoryExceeded) {
		t.Error("plain run failures are not memory failures")
	}
}

func TestStageError(t *testing.T) {
	err := &StageError{ExecID: "abc", Stage: StageBuild, Err: ErrBuildDiagnostic, Message: "Compilation error: x"}
	if got, want := err.Error(), "execution abc: build: compiler reported errors"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrBuildDiagnostic) {
		t.Error("StageError should unwrap to its sentinel")
	}
	if !IsTimeout(&StageError{Stage: StageRun, Err: ErrRunTimeout}) {
		t.Error("IsTimeout(run timeout) = false")
	}

	rebound := rebind(err, "def")
	var se *StageError
	if !errors.As(rebound, &se) || se.ExecID != "def" {
		t.Errorf("rebind() = %v, want exec id def", rebound)
	}
	if err.ExecID != "abc" {
		t.Error("rebind must not modify the shared error")
	}
}
