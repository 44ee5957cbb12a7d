package executor

import (
	"context"
	"crypto/sha256"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"snippet-runner/internal/config"
	"snippet-runner/internal/monitor"
	"snippet-runner/internal/toolchain"
)

const watchdogGrace = 500 * time.Millisecond

// Options carries the optional collaborators of an Executor.
type Options struct {
	Metrics  *monitor.Metrics
	Tracer   *monitor.Tracer
	Detector *monitor.PatternDetector
	Cache    *ArtifactCache
}

// Executor is the snippet execution engine. It is safe for concurrent use;
// each call owns its workspace and shares only read-only configuration.
type Executor struct {
	cfg      config.ExecutorConfig
	tc       toolchain.Toolchain
	memory   toolchain.MemoryPolicy
	rlimits  []specs.POSIXRlimit
	metrics  *monitor.Metrics
	tracer   *monitor.Tracer
	detector *monitor.PatternDetector
	cache    *ArtifactCache
	active   atomic.Int64
}

// New creates an Executor for one toolchain.
func New(cfg config.ExecutorConfig, tc toolchain.Toolchain, opts Options) *Executor {
	e := &Executor{
		cfg:      cfg,
		tc:       tc,
		memory:   tc.MemoryControls(cfg.MemoryLimitMB),
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		detector: opts.Detector,
		cache:    opts.Cache,
	}
	if e.tracer == nil {
		e.tracer = monitor.NewTracer(true)
	}
	if rlimitsSupported {
		e.rlimits = programLimits(e.memory, cfg.MemoryLimitMB, cfg.EnforceMemory)
	} else if cfg.EnforceMemory {
		log.Warn().Str("os", runtime.GOOS).Msg("rlimits unsupported on this platform, memory ceiling is advisory")
	}
	return e
}

// job is the per-request context threaded through the stages.
type job struct {
	id     string
	hash   string
	logger zerolog.Logger
}

func (e *Executor) newJob(code string) *job {
	id := uuid.New().String()
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(code)))
	return &job{
		id:   id,
		hash: hash,
		logger: log.With().
			Str("exec_id", id).
			Str("toolchain", e.tc.Name()).
			Str("code_hash", hash[:16]).
			Logger(),
	}
}

func (j *job) fail(stage Stage, sentinel error, msg string) *StageError {
	return &StageError{ExecID: j.id, Stage: stage, Err: sentinel, Message: msg}
}

// Execute runs one snippet through size check, workspace, build and run. It
// never returns an error: every failure is encoded in the result.
func (e *Executor) Execute(ctx context.Context, req ExecutionRequest) ExecutionResult {
	start := time.Now()
	j := e.newJob(req.Code)
	j.logger.Info().Int("code_bytes", len(req.Code)).Msg("execution requested")

	if err := checkSize(j.id, req.Code, e.cfg.MaxCodeSizeKB); err != nil {
		res := assemble(outcome{id: j.id, hash: j.hash, err: err}, 0)
		e.finish(j, res, err)
		return res
	}

	e.active.Add(1)
	defer e.active.Add(-1)
	if e.metrics != nil {
		e.metrics.ActiveExecutions.Inc()
		defer e.metrics.ActiveExecutions.Dec()
		e.metrics.CodeSizeBytes.Observe(float64(len(req.Code)))
	}
	e.scanCode(req.Code)

	ctx, span := e.tracer.StartSpan(ctx, "execute",
		monitor.AttrExecID.String(j.id),
		monitor.AttrToolchain.String(e.tc.Name()),
		monitor.AttrCodeHash.String(j.hash[:16]),
	)

	o := e.pipeline(ctx, j, req)
	res := assemble(o, time.Since(start))

	span.SetAttributes(monitor.AttrStatus.String(string(res.Status)))
	monitor.EndSpan(span, o.err)
	e.finish(j, res, o.err)
	return res
}

func (e *Executor) pipeline(ctx context.Context, j *job, req ExecutionRequest) outcome {
	o := outcome{id: j.id, hash: j.hash}

	timeout := resolveTimeout(req.TimeoutOverride, e.cfg.DefaultTimeout, e.cfg.MaxTimeout)
	watchdog := 0
	if e.cfg.Watchdog {
		watchdog = int(timeout / time.Second)
	}
	source := e.tc.Wrap(req.Code, watchdog)

	// An injected watchdog gets a head start so it, not the kill, ends the run.
	budget := timeout
	if watchdog > 0 && !e.tc.HasEntryPoint(req.Code) {
		budget += watchdogGrace
	}

	ws, err := newWorkspace(e.cfg.WorkspaceRoot, j.id, e.tc, source, j.logger)
	if err != nil {
		o.err = err
		return o
	}
	defer ws.Close()

	artifact, cached, err := e.build(ctx, j, ws, source)
	o.cached = cached
	if err != nil {
		o.err = err
		return o
	}

	out, err := e.run(ctx, j, ws, artifact, req.Input, budget)
	if err != nil {
		o.err = err
		return o
	}
	o.err = e.classify(j, out, timeout)
	// A killed program reports only why it was killed.
	if out.kind != runTimedOut && out.kind != runCanceled {
		o.stdout = out.stdout
		o.stderr = out.stderr
	}
	return o
}

func (e *Executor) finish(j *job, res ExecutionResult, err error) {
	ev := j.logger.Info()
	if err != nil {
		ev = j.logger.Warn().Str("failure", kindOf(err))
	}
	ev.Str("status", string(res.Status)).
		Float64("elapsed_s", res.ElapsedSeconds).
		Bool("cached", res.Cached).
		Msg("execution completed")

	if e.metrics == nil {
		return
	}
	e.metrics.RecordExecution(e.tc.Name(), string(res.Status), res.ElapsedSeconds)
	if err != nil {
		e.metrics.RecordError(kindOf(err))
	}
	e.metrics.OutputSizeBytes.Observe(float64(len(res.Stdout) + len(res.Stderr)))
	if e.detector != nil {
		for _, d := range e.detector.AnalyzeOutput(res.Stdout) {
			e.metrics.RecordSecurityEvent(d.Pattern)
		}
	}
}

func (e *Executor) scanCode(code string) {
	if e.detector == nil {
		return
	}
	for _, d := range e.detector.AnalyzeCode(code) {
		if e.metrics != nil {
			e.metrics.RecordSecurityEvent(d.Pattern)
		}
	}
}

func (e *Executor) recordStage(stage string, d time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordStage(stage, d.Seconds())
	}
}

// Info reports the process-wide execution policy.
func (e *Executor) Info() Info {
	return Info{
		Toolchain:             e.tc.Name(),
		Version:               e.tc.Version(),
		DefaultTimeoutSeconds: int(e.cfg.DefaultTimeout / time.Second),
		MaxTimeoutSeconds:     int(e.cfg.MaxTimeout / time.Second),
		MemoryLimitMB:         e.cfg.MemoryLimitMB,
		MemoryEnforced:        e.cfg.EnforceMemory && rlimitsSupported,
		MaxCodeSizeKB:         e.cfg.MaxCodeSizeKB,
		Libraries:             e.tc.Libraries(),
	}
}

// ActiveCount returns the number of pipelines currently past the size check.
func (e *Executor) ActiveCount() int64 {
	return e.active.Load()
}
