package executor

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	maxStdoutBytes = 1 << 20
	maxStderrBytes = 256 * 1024
)

// outcome is everything the pipeline learned about one execution.
type outcome struct {
	id     string
	hash   string
	stdout string
	stderr string
	err    error
	cached bool
}

// checkSize rejects snippets over the configured ceiling before any
// filesystem or process work.
func checkSize(execID, code string, maxKB int64) error {
	sizeKB := float64(len(code)) / 1024.0
	if sizeKB <= float64(maxKB) {
		return nil
	}
	return &StageError{
		ExecID:  execID,
		Stage:   StageSize,
		Err:     ErrSizeExceeded,
		Message: fmt.Sprintf("Code size (%.1fKB) exceeds maximum allowed size (%dKB)", sizeKB, maxKB),
	}
}

// resolveTimeout honors an override only inside (0, max]. Anything else,
// including values above the ceiling, silently falls back to the default.
func resolveTimeout(override *int, def, max time.Duration) time.Duration {
	if override == nil || *override <= 0 {
		return def
	}
	d := time.Duration(*override) * time.Second
	if d > max {
		return def
	}
	return d
}

// assemble folds an outcome into the response shape. It performs no I/O.
func assemble(o outcome, elapsed time.Duration) ExecutionResult {
	res := ExecutionResult{
		ID:             o.id,
		CodeHash:       o.hash,
		Stdout:         strings.TrimSpace(o.stdout),
		Stderr:         strings.TrimSpace(o.stderr),
		ElapsedSeconds: elapsed.Seconds(),
		Status:         statusOf(o.err),
		Cached:         o.cached,
	}
	var se *StageError
	if errors.As(o.err, &se) {
		res.Stderr = strings.TrimSpace(se.Message)
	}
	return res
}

// cappedBuffer keeps the first max bytes written to it and drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.buf.Len()
	switch {
	case room <= 0:
		if len(p) > 0 {
			b.truncated = true
		}
	case len(p) > room:
		b.buf.Write(p[:room])
		b.truncated = true
	default:
		b.buf.Write(p)
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n... [output truncated]"
	}
	return b.buf.String()
}
