package toolchain

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(Options{GoCacheDir: t.TempDir()})

	names := r.Names()
	if len(names) != 2 || names[0] != "go" || names[1] != "rust" {
		t.Errorf("Names() = %v, want [go rust]", names)
	}

	for _, name := range []string{"rust", "go"} {
		tc, err := r.Get(name)
		if err != nil {
			t.Fatalf("Get(%s) = %v", name, err)
		}
		if tc.Name() != name {
			t.Errorf("registered toolchain name = %q, want %q", tc.Name(), name)
		}
	}

	if _, err := r.Get("cobol"); err == nil {
		t.Error("Get(cobol) should return error")
	} else if !strings.Contains(err.Error(), "go, rust") {
		t.Errorf("Get(cobol) error = %q, want supported list", err)
	}
}

func TestRust_Layout(t *testing.T) {
	r := &Rust{}
	dir := "/ws"

	if r.SourcePath() != filepath.Join("src", "main.rs") {
		t.Errorf("SourcePath() = %q", r.SourcePath())
	}
	if got := r.ArtifactPath(dir); got != "/ws/target/release/main" {
		t.Errorf("ArtifactPath() = %q, want /ws/target/release/main", got)
	}

	manifest := r.Manifest("snippet_abc")
	for _, want := range []string{`name = "snippet_abc"`, "[[bin]]", `name = "main"`, `path = "src/main.rs"`} {
		if !strings.Contains(manifest, want) {
			t.Errorf("Manifest() missing %q:\n%s", want, manifest)
		}
	}

	build := r.BuildCommand(dir)
	if build.Name != "cargo" || strings.Join(build.Args[:4], " ") != "build --release --bin main" {
		t.Errorf("BuildCommand() = %s %v", build.Name, build.Args)
	}
	if !containsEnv(build.Env, "CARGO_TARGET_DIR=/ws/target") {
		t.Errorf("BuildCommand().Env = %v, want CARGO_TARGET_DIR", build.Env)
	}
	if check := r.CheckCommand(dir); check.Args[0] != "check" {
		t.Errorf("CheckCommand().Args = %v, want check", check.Args)
	}
}

func TestRust_WrapBare(t *testing.T) {
	r := &Rust{}
	src := r.Wrap(`println!("hello");`, 7)

	for _, want := range []string{
		"use __prelude::*;",
		"from_secs(7)",
		"TIMEOUT: Code execution exceeded time limit",
		"std::process::exit(124)",
		"catch_unwind",
		`eprintln!("Error: {}", msg);`,
		`println!("hello");`,
	} {
		if !strings.Contains(src, want) {
			t.Errorf("Wrap() missing %q", want)
		}
	}
	if strings.Count(src, "fn main()") != 1 {
		t.Errorf("Wrap() should generate exactly one entry point:\n%s", src)
	}
}

func TestRust_WrapWithoutWatchdog(t *testing.T) {
	src := (&Rust{}).Wrap(`println!("hello");`, 0)
	if strings.Contains(src, "TIMEOUT") {
		t.Error("Wrap(timeout=0) should not inject a watchdog")
	}
	if !strings.Contains(src, "catch_unwind") {
		t.Error("Wrap(timeout=0) should keep the failure boundary")
	}
}

func TestRust_WrapSelfContained(t *testing.T) {
	r := &Rust{}
	snippet := "use std::io::Read;\n\nfn main() {\n    println!(\"ok\");\n}"
	src := r.Wrap(snippet, 30)

	if !strings.HasSuffix(src, snippet+"\n") {
		t.Errorf("Wrap() should keep a self-contained snippet unmodified:\n%s", src)
	}
	if strings.Contains(src, "TIMEOUT") || strings.Contains(src, "catch_unwind") {
		t.Error("self-contained snippets get no watchdog and no boundary")
	}
	if !strings.HasPrefix(src, rustPrelude) {
		t.Error("self-contained snippets get the prelude")
	}
}

func TestRust_WrapForCheck(t *testing.T) {
	src := (&Rust{}).WrapForCheck("let x = 1;")
	if strings.Contains(src, "TIMEOUT") || strings.Contains(src, "catch_unwind") {
		t.Error("WrapForCheck() must not generate a watchdog or boundary")
	}
	if !strings.Contains(src, "fn main() {\nlet x = 1;\n}") {
		t.Errorf("WrapForCheck() = %q, want snippet inside plain main", src)
	}
}

func TestRust_WrapMalformed(t *testing.T) {
	r := &Rust{}
	for _, snippet := range []string{"'\\", "let c = '\\", "r#\"", "/* open", "\"\\", "b'"} {
		src := r.Wrap(snippet, 5)
		if !strings.Contains(src, snippet) {
			t.Errorf("Wrap(%q) dropped the snippet", snippet)
		}
		if check := r.WrapForCheck(snippet); !strings.Contains(check, "fn main()") {
			t.Errorf("WrapForCheck(%q) = %q, want a generated entry point", snippet, check)
		}
	}
}

func TestRust_MemoryExhausted(t *testing.T) {
	r := &Rust{}
	if !r.MemoryExhausted("memory allocation of 1073741824 bytes failed") {
		t.Error("allocation failure not recognized")
	}
	if r.MemoryExhausted("thread 'main' panicked at 'boom'") {
		t.Error("ordinary panic recognized as memory exhaustion")
	}
	if !r.MemoryControls(128).AddressSpace {
		t.Error("rust programs are capped by address space")
	}
}

func TestGo_Layout(t *testing.T) {
	g := NewGo("/cache")
	dir := "/ws"

	if g.Manifest("snippet_x") != "module snippet_x\n\ngo 1.21\n" {
		t.Errorf("Manifest() = %q", g.Manifest("snippet_x"))
	}
	if g.SourcePath() != "main.go" {
		t.Errorf("SourcePath() = %q, want main.go", g.SourcePath())
	}
	if got := g.ArtifactPath(dir); got != "/ws/bin/main" {
		t.Errorf("ArtifactPath() = %q, want /ws/bin/main", got)
	}

	build := g.BuildCommand(dir)
	if build.Name != "go" || strings.Join(build.Args, " ") != "build -o /ws/bin/main ." {
		t.Errorf("BuildCommand() = %s %v", build.Name, build.Args)
	}
	for _, want := range []string{"GOCACHE=/cache", "GOTOOLCHAIN=local", "GOPROXY=off", "GOWORK=off"} {
		if !containsEnv(build.Env, want) {
			t.Errorf("BuildCommand().Env missing %q", want)
		}
	}
	if check := g.CheckCommand(dir); check.Args[2] == g.ArtifactPath(dir) {
		t.Error("CheckCommand() must not produce the run artifact")
	}
}

func TestGo_DefaultCacheDir(t *testing.T) {
	if NewGo("").cacheDir == "" {
		t.Error("NewGo(\"\") should pick a default cache dir")
	}
}

func TestGo_WrapBare(t *testing.T) {
	g := NewGo(t.TempDir())
	src := g.Wrap(`fmt.Println("hello")`, 5)

	for _, want := range []string{
		"package main",
		"time.Sleep(5 * time.Second)",
		"TIMEOUT: Code execution exceeded time limit",
		"os.Exit(124)",
		"recover()",
		`fmt.Fprintf(os.Stderr, "Error: %v\n", r)`,
		`fmt.Println("hello")`,
	} {
		if !strings.Contains(src, want) {
			t.Errorf("Wrap() missing %q", want)
		}
	}
	if !hasGoMain(src) {
		t.Error("wrapped bare snippet should parse with a main function")
	}
}

func TestGo_WrapSelfContained(t *testing.T) {
	g := NewGo(t.TempDir())

	full := "package main\n\nimport \"fmt\"\n\nfunc main() { fmt.Println(1) }"
	if got := g.Wrap(full, 30); got != full+"\n" {
		t.Errorf("Wrap(full file) = %q, want unchanged", got)
	}

	noPkg := "func main() { println(1) }"
	if got := g.Wrap(noPkg, 30); got != "package main\n\n"+noPkg+"\n" {
		t.Errorf("Wrap(no package) = %q, want package clause added", got)
	}
}

func TestGo_WrapForCheck(t *testing.T) {
	src := NewGo(t.TempDir()).WrapForCheck("x := 1\n_ = x")
	if strings.Contains(src, "TIMEOUT") || strings.Contains(src, "recover()") {
		t.Error("WrapForCheck() must not generate a watchdog or boundary")
	}
	if !strings.Contains(src, "func main() {\nx := 1\n_ = x\n}") {
		t.Errorf("WrapForCheck() = %q", src)
	}
}

func TestGo_MemoryControls(t *testing.T) {
	g := NewGo(t.TempDir())
	policy := g.MemoryControls(128)
	if policy.AddressSpace {
		t.Error("go programs must not be capped by address space")
	}
	if !containsEnv(policy.Env, "GOMEMLIMIT=128MiB") {
		t.Errorf("MemoryControls().Env = %v, want GOMEMLIMIT=128MiB", policy.Env)
	}
	if !g.MemoryExhausted("fatal error: runtime: out of memory") {
		t.Error("runtime OOM not recognized")
	}
}

func containsEnv(env []string, kv string) bool {
	for _, e := range env {
		if e == kv {
			return true
		}
	}
	return false
}
