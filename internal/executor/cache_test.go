package executor

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snippet-runner/internal/monitor"
	"snippet-runner/internal/toolchain"
)

func newTestCache(t *testing.T, max int) *ArtifactCache {
	t.Helper()
	c, err := NewArtifactCache(t.TempDir(), max, monitor.NewMetrics())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeArtifact(path, content string) func() error {
	return func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return err
		}
		return os.WriteFile(path, []byte(content), 0o700)
	}
}

func TestArtifactCache_MissThenHit(t *testing.T) {
	c := newTestCache(t, 4)

	first := filepath.Join(t.TempDir(), "bin", "main")
	cached, err := c.Build("k1", first, writeArtifact(first, "binary-1"))
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 1, c.Len())

	second := filepath.Join(t.TempDir(), "bin", "main")
	cached, err = c.Build("k1", second, func() error {
		t.Fatal("compile must not run on a hit")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, cached)

	data, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "binary-1", string(data))
}

func TestArtifactCache_FailuresNotStored(t *testing.T) {
	c := newTestCache(t, 4)
	boom := errors.New("boom")

	_, err := c.Build("k", filepath.Join(t.TempDir(), "main"), func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())
}

func TestArtifactCache_Eviction(t *testing.T) {
	c := newTestCache(t, 2)

	for _, key := range []string{"a", "b", "c"} {
		dst := filepath.Join(t.TempDir(), "main")
		_, err := c.Build(key, dst, writeArtifact(dst, key))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len())

	_, err := os.Stat(filepath.Join(c.dir, "a"))
	assert.True(t, os.IsNotExist(err), "evicted artifact should be removed from disk")

	var compiled bool
	dst := filepath.Join(t.TempDir(), "main")
	_, err = c.Build("a", dst, func() error {
		compiled = true
		return writeArtifact(dst, "a")()
	})
	require.NoError(t, err)
	assert.True(t, compiled, "evicted key must be rebuilt")
}

func TestArtifactCache_CollapsesConcurrentBuilds(t *testing.T) {
	c := newTestCache(t, 4)

	var compiles atomic.Int32
	release := make(chan struct{})

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dst := filepath.Join(t.TempDir(), "main")
			_, err := c.Build("same", dst, func() error {
				compiles.Add(1)
				<-release
				return writeArtifact(dst, "shared")()
			})
			if err != nil {
				t.Errorf("Build() = %v", err)
				return
			}
			data, _ := os.ReadFile(dst)
			results[i] = string(data)
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), compiles.Load(), "identical builds should compile once")
	for i, r := range results {
		assert.Equal(t, "shared", r, "caller %d", i)
	}
}

func TestArtifactCache_Verdicts(t *testing.T) {
	c := newTestCache(t, 2)

	_, ok := c.Verdict("k")
	assert.False(t, ok)

	c.StoreVerdict("k", ValidationResult{IsValid: false, Errors: []string{"bad"}})
	v, ok := c.Verdict("k")
	require.True(t, ok)
	assert.False(t, v.IsValid)
	assert.Equal(t, []string{"bad"}, v.Errors)
	assert.NotNil(t, v.Warnings)

	v.Errors[0] = "mutated"
	again, _ := c.Verdict("k")
	assert.Equal(t, "bad", again.Errors[0], "callers get their own copy")
}

func TestFingerprint(t *testing.T) {
	rust := &toolchain.Rust{}
	goTC := toolchain.NewGo(t.TempDir())

	assert.Equal(t, fingerprint(rust, "x"), fingerprint(rust, "x"))
	assert.NotEqual(t, fingerprint(rust, "x"), fingerprint(rust, "y"))
	assert.NotEqual(t, fingerprint(rust, "x"), fingerprint(goTC, "x"))
	assert.Len(t, fingerprint(rust, "x"), 64)
}

func TestLRU(t *testing.T) {
	var evicted []string
	l := newLRU(2, func(k string, _ int) { evicted = append(evicted, k) })

	l.add("a", 1)
	l.add("b", 2)
	_, _ = l.get("a") // a is now most recent
	l.add("c", 3)

	assert.Equal(t, []string{"b"}, evicted)
	_, ok := l.get("b")
	assert.False(t, ok)
	v, ok := l.get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	l.add("a", 10)
	v, _ = l.get("a")
	assert.Equal(t, 10, v)
	assert.Equal(t, 2, l.len())
}
