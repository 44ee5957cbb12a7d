package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"snippet-runner/internal/monitor"
)

// Validate compile-checks a snippet without producing or running an
// artifact. It never returns an error; failures become Errors entries.
func (e *Executor) Validate(ctx context.Context, req ValidationRequest) ValidationResult {
	start := time.Now()
	j := e.newJob(req.Code)
	j.logger.Debug().Int("code_bytes", len(req.Code)).Msg("validation requested")

	ctx, span := e.tracer.StartSpan(ctx, "check",
		monitor.AttrExecID.String(j.id),
		monitor.AttrToolchain.String(e.tc.Name()),
	)
	defer span.End()

	source := e.tc.WrapForCheck(req.Code)
	key := fingerprint(e.tc, source)
	if e.cache != nil {
		if v, ok := e.cache.Verdict(key); ok {
			span.SetAttributes(monitor.AttrCacheHit.Bool(true))
			e.recordValidation(v)
			return v
		}
	}

	res, cacheable := e.check(ctx, j, source)
	if cacheable && e.cache != nil {
		e.cache.StoreVerdict(key, res)
	}

	e.recordStage("check", time.Since(start))
	e.recordValidation(res)
	j.logger.Info().Bool("valid", res.IsValid).Dur("took", time.Since(start)).Msg("validation completed")
	return res
}

// check runs the compile-only command. Only verdicts that depend solely on
// the source are cacheable.
func (e *Executor) check(ctx context.Context, j *job, source string) (ValidationResult, bool) {
	invalid := func(msg string) ValidationResult {
		return ValidationResult{IsValid: false, Errors: []string{msg}, Warnings: []string{}}
	}

	ws, err := newWorkspace(e.cfg.WorkspaceRoot, j.id, e.tc, source, j.logger)
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return invalid(se.Message), false
		}
		return invalid(err.Error()), false
	}
	defer ws.Close()

	res := compile(ctx, ws.Dir, e.tc.CheckCommand(ws.Dir), e.cfg.CheckTimeout)
	switch {
	case res.launch != nil:
		return invalid(fmt.Sprintf("Failed to execute %s check: %v", e.tc.Compiler(), res.launch)), false
	case res.canceled:
		return invalid("Syntax check cancelled"), false
	case res.timedOut:
		return invalid("Syntax check timed out"), false
	case res.exitErr != nil:
		diag := res.diagnostics()
		if diag == "" {
			diag = res.exitErr.Error()
		}
		return invalid(diag), true
	}
	return ValidationResult{IsValid: true, Errors: []string{}, Warnings: []string{}}, true
}

func (e *Executor) recordValidation(v ValidationResult) {
	if e.metrics != nil {
		e.metrics.RecordValidation(e.tc.Name(), v.IsValid)
	}
}
