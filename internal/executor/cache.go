package executor

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"snippet-runner/internal/monitor"
	"snippet-runner/internal/toolchain"
)

// fingerprint identifies a wrapped source unit for one toolchain version.
func fingerprint(tc toolchain.Toolchain, source string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", tc.Name(), tc.Version())
	io.WriteString(h, source)
	return hex.EncodeToString(h.Sum(nil))
}

// ArtifactCache reuses compiled artifacts across requests with identical
// source units. It covers the build phase only; run output is never cached.
// Concurrent builds of the same unit are collapsed into one.
type ArtifactCache struct {
	dir     string
	metrics *monitor.Metrics

	mu        sync.Mutex
	artifacts *lru[string]
	verdicts  *lru[ValidationResult]
	group     singleflight.Group
}

// NewArtifactCache creates a cache holding at most maxEntries artifacts in a
// fresh directory under root (os.TempDir() when empty).
func NewArtifactCache(root string, maxEntries int, metrics *monitor.Metrics) (*ArtifactCache, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "snippet-artifacts-*")
	if err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	if maxEntries < 1 {
		maxEntries = 1
	}

	c := &ArtifactCache{dir: dir, metrics: metrics}
	c.artifacts = newLRU(maxEntries, func(key, path string) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("key", key).Msg("evicting cached artifact failed")
		}
	})
	c.verdicts = newLRU[ValidationResult](maxEntries*4, nil)
	return c, nil
}

// Build places the artifact for key at dst. On a miss, compile is run to
// produce dst and the result is stored. It reports whether dst came from
// the cache.
func (c *ArtifactCache) Build(key, dst string, compile func() error) (bool, error) {
	if c.fetch(key, dst) {
		c.record("hit")
		return true, nil
	}

	built := false
	_, err, _ := c.group.Do(key, func() (any, error) {
		built = true
		if err := compile(); err != nil {
			return nil, err
		}
		c.store(key, dst)
		return nil, nil
	})
	if built {
		c.record("miss")
		return false, err
	}
	if err != nil {
		c.record("shared")
		return true, err
	}
	// Another request compiled this unit while we waited.
	if c.fetch(key, dst) {
		c.record("shared")
		return true, nil
	}
	c.record("miss")
	return false, compile()
}

// Verdict returns a cached validation result.
func (c *ArtifactCache) Verdict(key string) (ValidationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.verdicts.get(key)
	if !ok {
		return ValidationResult{}, false
	}
	v.Errors = append([]string(nil), v.Errors...)
	v.Warnings = []string{}
	return v, true
}

// StoreVerdict caches a validation result.
func (c *ArtifactCache) StoreVerdict(key string, v ValidationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verdicts.add(key, v)
}

// Len returns the number of cached artifacts.
func (c *ArtifactCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifacts.len()
}

// Close removes every cached artifact.
func (c *ArtifactCache) Close() error {
	return os.RemoveAll(c.dir)
}

func (c *ArtifactCache) fetch(key, dst string) bool {
	c.mu.Lock()
	src, ok := c.artifacts.get(key)
	if !ok {
		c.mu.Unlock()
		return false
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		c.mu.Unlock()
		return false
	}
	// A hard link is taken under the lock so eviction cannot race it.
	if err := os.Link(src, dst); err == nil {
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()
	return copyExecutable(src, dst) == nil
}

func (c *ArtifactCache) store(key, src string) {
	path := filepath.Join(c.dir, key)
	if err := copyExecutable(src, path); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("caching artifact failed")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts.add(key, path)
}

func (c *ArtifactCache) record(result string) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(result)
	}
}

func copyExecutable(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}
	in, err := os.Open(src) // #nosec G304 -- path is inside a workspace or the cache dir
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o700) // #nosec G302 -- artifact must be executable
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// lru is a size-bounded least-recently-used map. It is not synchronized.
type lru[V any] struct {
	max     int
	ll      *list.List
	items   map[string]*list.Element
	onEvict func(key string, value V)
}

type lruEntry[V any] struct {
	key   string
	value V
}

func newLRU[V any](max int, onEvict func(string, V)) *lru[V] {
	return &lru[V]{
		max:     max,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
		onEvict: onEvict,
	}
}

func (c *lru[V]) get(key string) (V, bool) {
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*lruEntry[V]).value, true
	}
	var zero V
	return zero, false
}

func (c *lru[V]) add(key string, value V) {
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*lruEntry[V]).value = value
		return
	}
	c.items[key] = c.ll.PushFront(&lruEntry[V]{key: key, value: value})
	for c.ll.Len() > c.max {
		oldest := c.ll.Back()
		entry := oldest.Value.(*lruEntry[V])
		c.ll.Remove(oldest)
		delete(c.items, entry.key)
		if c.onEvict != nil {
			c.onEvict(entry.key, entry.value)
		}
	}
}

func (c *lru[V]) len() int {
	return c.ll.Len()
}
