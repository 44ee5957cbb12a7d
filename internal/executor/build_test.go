package executor

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"snippet-runner/internal/toolchain"
)

func TestCompile_TimeoutVersusCancel(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	slow := toolchain.Command{Name: "sleep", Args: []string{"10"}}

	t.Run("budget elapses", func(t *testing.T) {
		res := compile(context.Background(), t.TempDir(), slow, 100*time.Millisecond)
		assert.True(t, res.timedOut)
		assert.False(t, res.canceled)
	})

	t.Run("caller cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(100*time.Millisecond, cancel)

		start := time.Now()
		res := compile(ctx, t.TempDir(), slow, time.Minute)
		assert.True(t, res.canceled)
		assert.False(t, res.timedOut, "a cancelled caller is not a compile timeout")
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("detached from caller", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res := compile(context.WithoutCancel(ctx), t.TempDir(), toolchain.Command{Name: "sleep", Args: []string{"0"}}, 5*time.Second)
		assert.False(t, res.canceled)
		assert.False(t, res.timedOut)
		assert.NoError(t, res.launch)
		assert.NoError(t, res.exitErr)
	})
}
