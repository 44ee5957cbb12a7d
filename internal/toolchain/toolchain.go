package toolchain

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// SentinelExitCode is the exit status the generated watchdog uses to report
// that it terminated the program itself.
const SentinelExitCode = 124

// Command is a compiler invocation rooted in a workspace directory.
type Command struct {
	Name string
	Args []string
	Env  []string // appended to the service environment; later keys win
}

// MemoryPolicy describes how a memory ceiling is applied to a compiled
// program of this toolchain.
type MemoryPolicy struct {
	// AddressSpace caps RLIMIT_AS at the ceiling.
	AddressSpace bool
	// Env is added to the program environment (soft runtime limits).
	Env []string
}

// Toolchain turns snippets of one language into buildable units and knows how
// to compile and check them.
type Toolchain interface {
	// Name returns the toolchain identifier (e.g. "rust", "go").
	Name() string

	// Version returns the declared language version.
	Version() string

	// Compiler returns the compiler driver binary, used in launch messages.
	Compiler() string

	// ManifestName is the build manifest file name at the workspace root.
	ManifestName() string

	// Manifest returns the manifest contents declaring a single executable.
	Manifest(unit string) string

	// SourcePath is the source file location relative to the workspace root.
	SourcePath() string

	// HasEntryPoint reports whether the snippet defines its own program entry.
	HasEntryPoint(snippet string) bool

	// Wrap produces the full source unit for execution. Bare snippets get a
	// watchdog firing after timeoutSeconds (none when 0) and a failure
	// boundary; self-contained snippets only get the standard prelude.
	Wrap(snippet string, timeoutSeconds int) string

	// WrapForCheck produces a source unit for compile-only checking.
	WrapForCheck(snippet string) string

	// BuildCommand compiles the workspace into ArtifactPath(dir).
	BuildCommand(dir string) Command

	// CheckCommand type-checks the workspace without producing an artifact.
	CheckCommand(dir string) Command

	// ArtifactPath is where BuildCommand leaves the executable.
	ArtifactPath(dir string) string

	// Libraries lists the standard library surface made available.
	Libraries() []string

	// MemoryControls returns the ceiling policy for compiled programs.
	MemoryControls(limitMB int64) MemoryPolicy

	// MemoryExhausted reports whether program stderr shows an allocation failure.
	MemoryExhausted(stderr string) bool
}

// Options configures toolchain construction.
type Options struct {
	// GoCacheDir is the shared Go build cache. Empty picks a per-user default.
	GoCacheDir string
}

// Registry maps toolchain names to their implementations.
type Registry struct {
	toolchains map[string]Toolchain
}

// NewRegistry creates a registry with all supported toolchains.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		toolchains: make(map[string]Toolchain),
	}
	r.Register(&Rust{})
	r.Register(NewGo(opts.GoCacheDir))
	return r
}

// Register adds a toolchain to the registry.
func (r *Registry) Register(tc Toolchain) {
	r.toolchains[tc.Name()] = tc
}

// Get returns the toolchain with the given name.
func (r *Registry) Get(name string) (Toolchain, error) {
	tc, ok := r.toolchains[name]
	if !ok {
		return nil, fmt.Errorf("unsupported toolchain: %q (supported: %s)", name, strings.Join(r.Names(), ", "))
	}
	return tc, nil
}

// Names returns all registered toolchain names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.toolchains))
	for name := range r.toolchains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Available checks that the toolchain's compiler driver is on PATH.
func Available(tc Toolchain) error {
	if _, err := exec.LookPath(tc.Compiler()); err != nil {
		return fmt.Errorf("%s compiler %q not found in PATH: %w", tc.Name(), tc.Compiler(), err)
	}
	return nil
}

func defaultGoCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "snippet-runner", "go-build")
	}
	return filepath.Join(os.TempDir(), "snippet-runner-go-build")
}
