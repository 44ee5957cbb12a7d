package executor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestCheckSize(t *testing.T) {
	assert.NoError(t, checkSize("id", strings.Repeat("a", 50*1024), 50), "exactly at the ceiling is allowed")

	err := checkSize("id", strings.Repeat("a", 51*1024), 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSizeExceeded))

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageSize, se.Stage)
	assert.Equal(t, "Code size (51.0KB) exceeds maximum allowed size (50KB)", se.Message)
}

func TestResolveTimeout(t *testing.T) {
	def, max := 30*time.Second, 60*time.Second

	tests := []struct {
		name     string
		override *int
		want     time.Duration
	}{
		{"absent", nil, def},
		{"one second", intPtr(1), time.Second},
		{"within range", intPtr(45), 45 * time.Second},
		{"at ceiling", intPtr(60), 60 * time.Second},
		{"above ceiling clamps to default", intPtr(61), def},
		{"far above ceiling", intPtr(3600), def},
		{"zero", intPtr(0), def},
		{"negative", intPtr(-5), def},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveTimeout(tt.override, def, max))
		})
	}
}

func TestAssemble(t *testing.T) {
	t.Run("success trims output", func(t *testing.T) {
		res := assemble(outcome{id: "x", stdout: "  hello\n\n", stderr: "\n"}, 1500*time.Millisecond)
		assert.Equal(t, StatusSuccess, res.Status)
		assert.Equal(t, "hello", res.Stdout)
		assert.Empty(t, res.Stderr)
		assert.InDelta(t, 1.5, res.ElapsedSeconds, 1e-9)
		assert.Equal(t, "x", res.ID)
	})

	t.Run("size short circuit", func(t *testing.T) {
		err := checkSize("x", strings.Repeat("a", 2048), 1)
		res := assemble(outcome{id: "x", err: err}, 0)
		assert.Equal(t, StatusError, res.Status)
		assert.Zero(t, res.ElapsedSeconds)
		assert.Contains(t, res.Stderr, "exceeds maximum allowed size (1KB)")
	})

	t.Run("run failure keeps stdout", func(t *testing.T) {
		err := &StageError{Stage: StageRun, Err: ErrRunFailure, Message: "  Error: boom\n"}
		res := assemble(outcome{stdout: "partial\n", err: err}, time.Second)
		assert.Equal(t, StatusError, res.Status)
		assert.Equal(t, "partial", res.Stdout)
		assert.Equal(t, "Error: boom", res.Stderr)
	})

	t.Run("timeouts", func(t *testing.T) {
		for _, sentinel := range []error{ErrRunTimeout, ErrWatchdogTimeout} {
			res := assemble(outcome{err: &StageError{Stage: StageRun, Err: sentinel, Message: "t"}}, time.Second)
			assert.Equal(t, StatusTimeout, res.Status, sentinel.Error())
		}
	})
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(5)
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", b.String())

	n, err = b.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n, "writes always report full length")

	_, _ = b.Write([]byte("more"))
	assert.Equal(t, "abcde\n... [output truncated]", b.String())
}
