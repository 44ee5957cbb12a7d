package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"snippet-runner/internal/monitor"
	"snippet-runner/internal/toolchain"
)

// runKind tags how the program's lifetime ended.
type runKind int

const (
	// runExited: the program exited on its own with exitCode.
	runExited runKind = iota
	// runWatchdog: the in-program watchdog fired and exited with the sentinel.
	runWatchdog
	// runTimedOut: the outer budget elapsed and the process group was killed.
	runTimedOut
	// runCanceled: the caller went away and the process group was killed.
	runCanceled
)

func (k runKind) String() string {
	switch k {
	case runExited:
		return "exited"
	case runWatchdog:
		return "watchdog"
	case runTimedOut:
		return "timed_out"
	case runCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// runOutcome is what the run stage observed.
type runOutcome struct {
	kind     runKind
	exitCode int
	signal   string
	stdout   string
	stderr   string
}

// run executes the artifact under a single budget covering spawn, stdin
// write, and wait. When the budget elapses the whole process group is killed.
// A non-nil error means the program never ran to completion under its limits.
func (e *Executor) run(ctx context.Context, j *job, ws *Workspace, artifact string, input *string, timeout time.Duration) (runOutcome, error) {
	ctx, span := e.tracer.StartSpan(ctx, "run", monitor.AttrExecID.String(j.id))
	start := time.Now()
	defer func() { e.recordStage("run", time.Since(start)) }()

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(rctx, artifact) // #nosec G204 -- artifact is the freshly built binary in this workspace
	cmd.Dir = ws.Dir
	cmd.Env = programEnv(ws.Dir, e.memory, e.cfg.EnforceMemory)
	cmd.WaitDelay = 2 * time.Second
	setProcessGroup(cmd)

	stdout := newCappedBuffer(maxStdoutBytes)
	stderr := newCappedBuffer(maxStderrBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	var stdin io.WriteCloser
	if input != nil {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			err = j.fail(StageRun, ErrRunSpawn, "Failed to spawn process: "+err.Error())
			monitor.EndSpan(span, err)
			return runOutcome{}, err
		}
		stdin = pipe
	}

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			err = j.fail(StageRun, ErrCanceled, "Execution cancelled")
			monitor.EndSpan(span, err)
			return runOutcome{}, err
		}
		err = j.fail(StageRun, ErrRunSpawn, "Failed to spawn process: "+err.Error())
		monitor.EndSpan(span, err)
		return runOutcome{}, err
	}

	if err := applyRlimits(cmd.Process.Pid, e.rlimits); err != nil {
		_ = killProcessGroup(cmd)
		_ = cmd.Wait()
		j.logger.Error().Err(err).Msg("resource limits could not be applied, program killed")
		err = j.fail(StageRun, ErrLimitSetup, "Failed to apply resource limits: "+err.Error())
		monitor.EndSpan(span, err)
		return runOutcome{}, err
	}

	if stdin != nil {
		// The write is bounded by the budget: a kill closes the read end.
		if _, err := io.WriteString(stdin, *input); err != nil {
			j.logger.Debug().Err(err).Msg("stdin write incomplete")
		}
		if err := stdin.Close(); err != nil {
			j.logger.Debug().Err(err).Msg("stdin close failed")
		}
	}

	waitErr := cmd.Wait()
	_ = killProcessGroup(cmd) // reap anything the program left behind

	out := runOutcome{stdout: stdout.String(), stderr: stderr.String()}
	switch {
	case ctx.Err() != nil:
		out.kind = runCanceled
		out.exitCode = -1
	case rctx.Err() != nil:
		out.kind = runTimedOut
		out.exitCode = -1
	case waitErr == nil, errors.Is(waitErr, exec.ErrWaitDelay):
		out.kind = runExited
	default:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			err := j.fail(StageRun, ErrRunSpawn, "Failed to spawn process: "+waitErr.Error())
			monitor.EndSpan(span, err)
			return runOutcome{}, err
		}
		out.kind = runExited
		out.exitCode = exitErr.ExitCode()
		out.signal = signalOf(exitErr.ProcessState)
		if out.exitCode == toolchain.SentinelExitCode {
			out.kind = runWatchdog
		}
	}

	span.SetAttributes(monitor.AttrExitCode.Int(out.exitCode))
	monitor.EndSpan(span, nil)
	j.logger.Debug().
		Str("outcome", out.kind.String()).
		Int("exit_code", out.exitCode).
		Dur("took", time.Since(start)).
		Msg("run complete")
	return out, nil
}

// classify maps a run outcome onto the failure taxonomy.
func (e *Executor) classify(j *job, out runOutcome, timeout time.Duration) error {
	switch out.kind {
	case runTimedOut:
		return j.fail(StageRun, ErrRunTimeout, fmt.Sprintf("Code execution timed out after %d seconds", int(timeout/time.Second)))
	case runCanceled:
		return j.fail(StageRun, ErrCanceled, "Execution cancelled")
	case runWatchdog:
		return j.fail(StageRun, ErrWatchdogTimeout, out.stderr)
	}

	if out.exitCode == 0 {
		return nil
	}

	msg := out.stderr
	if strings.TrimSpace(msg) == "" {
		if out.signal != "" {
			msg = "Process terminated by signal: " + out.signal
		} else {
			msg = fmt.Sprintf("Process exited with code %d", out.exitCode)
		}
	}
	if e.cfg.EnforceMemory && e.tc.MemoryExhausted(out.stderr) {
		return j.fail(StageRun, ErrMemoryExceeded, msg)
	}
	return j.fail(StageRun, ErrRunFailure, msg)
}
