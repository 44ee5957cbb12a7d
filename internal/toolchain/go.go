package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Go builds snippets as a single-file main module with the local go command.
type Go struct {
	cacheDir string
}

// NewGo returns the go toolchain using cacheDir as the shared build cache.
func NewGo(cacheDir string) *Go {
	if cacheDir == "" {
		cacheDir = defaultGoCacheDir()
	}
	return &Go{cacheDir: cacheDir}
}

// Every prelude import is pinned by a blank use so bare snippets that ignore
// some of them still compile.
const goPrelude = `package main

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	_ = bufio.NewReader
	_ = errors.New
	_ = fmt.Sprint
	_ = math.Abs
	_ = os.Exit
	_ = sort.Ints
	_ = strconv.Itoa
	_ = strings.TrimSpace
	_ = time.Now
)
`

const goWatchdog = `	go func() {
		time.Sleep({{TIMEOUT}} * time.Second)
		fmt.Fprintln(os.Stderr, "` + watchdogMessage + `")
		os.Exit(124)
	}()

`

const goBare = `{{PRELUDE}}
func main() {
{{WATCHDOG}}	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", r)
			os.Exit(1)
		}
	}()

{{SNIPPET}}
}
`

const goCheck = `{{PRELUDE}}
func main() {
{{SNIPPET}}
}
`

func (g *Go) Name() string { return "go" }

func (g *Go) Version() string { return "1.21" }

func (g *Go) Compiler() string { return "go" }

func (g *Go) ManifestName() string { return "go.mod" }

func (g *Go) Manifest(unit string) string {
	return "module " + unit + "\n\ngo 1.21\n"
}

func (g *Go) SourcePath() string { return "main.go" }

func (g *Go) HasEntryPoint(snippet string) bool { return hasGoMain(snippet) }

func (g *Go) Wrap(snippet string, timeoutSeconds int) string {
	if g.HasEntryPoint(snippet) {
		return g.selfContained(snippet)
	}
	watchdog := ""
	if timeoutSeconds > 0 {
		watchdog = render(goWatchdog, placeholderTimeout, seconds(timeoutSeconds))
	}
	return render(goBare,
		placeholderPrelude, goPrelude,
		placeholderWatchdog, watchdog,
		placeholderSnippet, snippet,
	)
}

func (g *Go) WrapForCheck(snippet string) string {
	if g.HasEntryPoint(snippet) {
		return g.selfContained(snippet)
	}
	return render(goCheck,
		placeholderPrelude, goPrelude,
		placeholderSnippet, snippet,
	)
}

// selfContained leaves imports to the snippet; only a missing package clause
// is supplied.
func (g *Go) selfContained(snippet string) string {
	if _, hasPackage := goFile(snippet); hasPackage {
		return snippet + "\n"
	}
	return "package main\n\n" + snippet + "\n"
}

func (g *Go) env(dir string) []string {
	return []string{
		"GOCACHE=" + g.cacheDir,
		"GOPATH=" + filepath.Join(dir, ".gopath"),
		"GOTOOLCHAIN=local",
		"GOFLAGS=-mod=mod",
		"GOPROXY=off",
		"GOWORK=off",
		"GOENV=off",
		"CGO_ENABLED=0",
	}
}

func (g *Go) BuildCommand(dir string) Command {
	return Command{
		Name: "go",
		Args: []string{"build", "-o", g.ArtifactPath(dir), "."},
		Env:  g.env(dir),
	}
}

func (g *Go) CheckCommand(dir string) Command {
	return Command{
		Name: "go",
		Args: []string{"build", "-o", os.DevNull, "."},
		Env:  g.env(dir),
	}
}

func (g *Go) ArtifactPath(dir string) string {
	return filepath.Join(dir, "bin", "main")
}

func (g *Go) Libraries() []string {
	return []string{"bufio", "errors", "fmt", "math", "os", "sort", "strconv", "strings", "time"}
}

// MemoryControls returns only a soft GOMEMLIMIT. The Go runtime reserves far
// more address space than it uses, so an RLIMIT_AS ceiling would abort
// ordinary programs at startup.
func (g *Go) MemoryControls(limitMB int64) MemoryPolicy {
	return MemoryPolicy{Env: []string{fmt.Sprintf("GOMEMLIMIT=%dMiB", limitMB)}}
}

func (g *Go) MemoryExhausted(stderr string) bool {
	return strings.Contains(stderr, "runtime: out of memory")
}
