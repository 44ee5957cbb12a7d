package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"snippet-runner/internal/monitor"
	"snippet-runner/internal/toolchain"
)

// compileResult is the outcome of one compiler invocation.
type compileResult struct {
	stdout   string
	stderr   string
	timedOut bool
	canceled bool  // the caller went away before the compiler finished
	launch   error // compiler could not be started
	exitErr  error // compiler ran and failed
}

// diagnostics returns the compiler's report, preferring stderr.
func (c compileResult) diagnostics() string {
	if s := strings.TrimSpace(c.stderr); s != "" {
		return s
	}
	return strings.TrimSpace(c.stdout)
}

// compile runs a toolchain command inside dir under budget. The compiler's
// whole process group is killed when the budget elapses.
func compile(ctx context.Context, dir string, c toolchain.Command, budget time.Duration) compileResult {
	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	cmd := exec.CommandContext(cctx, c.Name, c.Args...) // #nosec G204 -- command comes from the toolchain, not from the request
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.WaitDelay = 2 * time.Second
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return compileResult{canceled: true}
		}
		return compileResult{launch: err}
	}
	err := cmd.Wait()
	_ = killProcessGroup(cmd)

	res := compileResult{stdout: stdout.String(), stderr: stderr.String()}
	switch {
	case ctx.Err() != nil:
		res.canceled = true
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		res.timedOut = true
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.exitErr = err
		} else if !errors.Is(err, exec.ErrWaitDelay) {
			res.launch = err
		}
	}
	return res
}

// build compiles the workspace and returns the artifact path. With the
// artifact cache enabled, identical source units are compiled once.
func (e *Executor) build(ctx context.Context, j *job, ws *Workspace, source string) (string, bool, error) {
	ctx, span := e.tracer.StartSpan(ctx, "build", monitor.AttrExecID.String(j.id))
	start := time.Now()

	artifact := e.tc.ArtifactPath(ws.Dir)
	var (
		cached bool
		err    error
	)
	if e.cache != nil {
		// Concurrent identical requests share this compile, so it must not
		// die with the caller that happened to start it.
		shared := context.WithoutCancel(ctx)
		cached, err = e.cache.Build(fingerprint(e.tc, source), artifact, func() error {
			return e.compileWorkspace(shared, j, ws)
		})
	} else {
		err = e.compileWorkspace(ctx, j, ws)
	}

	e.recordStage("build", time.Since(start))
	span.SetAttributes(monitor.AttrCacheHit.Bool(cached))
	monitor.EndSpan(span, err)

	if err != nil {
		return "", false, rebind(err, j.id)
	}
	j.logger.Debug().Bool("cached", cached).Dur("took", time.Since(start)).Msg("build complete")
	return artifact, cached, nil
}

func (e *Executor) compileWorkspace(ctx context.Context, j *job, ws *Workspace) error {
	res := compile(ctx, ws.Dir, e.tc.BuildCommand(ws.Dir), e.cfg.BuildTimeout)
	switch {
	case res.launch != nil:
		return j.fail(StageBuild, ErrBuildLaunch, fmt.Sprintf("Failed to execute %s build: %v", e.tc.Compiler(), res.launch))
	case res.canceled:
		return j.fail(StageBuild, ErrCanceled, "Compilation cancelled")
	case res.timedOut:
		return j.fail(StageBuild, ErrBuildTimeout, "Compilation timed out")
	case res.exitErr != nil:
		diag := res.diagnostics()
		if diag == "" {
			diag = res.exitErr.Error()
		}
		return j.fail(StageBuild, ErrBuildDiagnostic, "Compilation error: "+diag)
	}
	return nil
}

// rebind attributes a stage error produced on behalf of another request (a
// shared cached build) to execID.
func rebind(err error, execID string) error {
	var se *StageError
	if errors.As(err, &se) && se.ExecID != execID {
		cp := *se
		cp.ExecID = execID
		return &cp
	}
	return err
}
