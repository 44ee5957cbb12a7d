package toolchain

import (
	"path/filepath"
	"strings"
)

// Rust builds snippets with cargo into a release binary named main.
type Rust struct{}

// The prelude is a glob re-export so that explicit `use` items in a snippet
// shadow it instead of colliding with it.
const rustPrelude = `#[allow(unused_imports)]
mod __prelude {
    pub use std::collections::{BTreeMap, BTreeSet, HashMap, HashSet, VecDeque};
    pub use std::io;
    pub use std::io::prelude::*;
    pub use std::thread;
    pub use std::time::{Duration, Instant};
}
#[allow(unused_imports)]
use __prelude::*;
`

const rustWatchdog = `    let _watchdog = std::thread::spawn(|| {
        std::thread::sleep(std::time::Duration::from_secs({{TIMEOUT}}));
        eprintln!("` + watchdogMessage + `");
        std::process::exit(124);
    });

`

const rustBare = `{{PRELUDE}}
fn main() {
{{WATCHDOG}}    let outcome = std::panic::catch_unwind(std::panic::AssertUnwindSafe(|| {
{{SNIPPET}}
    }));

    if let Err(cause) = outcome {
        if let Some(msg) = cause.downcast_ref::<&str>() {
            eprintln!("Error: {}", msg);
        } else if let Some(msg) = cause.downcast_ref::<String>() {
            eprintln!("Error: {}", msg);
        } else {
            eprintln!("Error: panic occurred");
        }
        std::process::exit(1);
    }
}
`

const rustCheck = `{{PRELUDE}}
fn main() {
{{SNIPPET}}
}
`

func (r *Rust) Name() string { return "rust" }

func (r *Rust) Version() string { return "1.75" }

func (r *Rust) Compiler() string { return "cargo" }

func (r *Rust) ManifestName() string { return "Cargo.toml" }

func (r *Rust) Manifest(unit string) string {
	return `[package]
name = "` + unit + `"
version = "0.1.0"
edition = "2021"

[[bin]]
name = "main"
path = "src/main.rs"

[profile.release]
debug = false
incremental = false
`
}

func (r *Rust) SourcePath() string { return filepath.Join("src", "main.rs") }

func (r *Rust) HasEntryPoint(snippet string) bool { return hasRustMain(snippet) }

func (r *Rust) Wrap(snippet string, timeoutSeconds int) string {
	if r.HasEntryPoint(snippet) {
		return rustPrelude + "\n" + snippet + "\n"
	}
	watchdog := ""
	if timeoutSeconds > 0 {
		watchdog = render(rustWatchdog, placeholderTimeout, seconds(timeoutSeconds))
	}
	return render(rustBare,
		placeholderPrelude, rustPrelude,
		placeholderWatchdog, watchdog,
		placeholderSnippet, snippet,
	)
}

func (r *Rust) WrapForCheck(snippet string) string {
	if r.HasEntryPoint(snippet) {
		return rustPrelude + "\n" + snippet + "\n"
	}
	return render(rustCheck,
		placeholderPrelude, rustPrelude,
		placeholderSnippet, snippet,
	)
}

func (r *Rust) BuildCommand(dir string) Command {
	return Command{
		Name: "cargo",
		Args: []string{"build", "--release", "--bin", "main", "--quiet"},
		Env:  []string{"CARGO_TARGET_DIR=" + filepath.Join(dir, "target"), "CARGO_TERM_COLOR=never"},
	}
}

func (r *Rust) CheckCommand(dir string) Command {
	return Command{
		Name: "cargo",
		Args: []string{"check", "--quiet"},
		Env:  []string{"CARGO_TARGET_DIR=" + filepath.Join(dir, "target"), "CARGO_TERM_COLOR=never"},
	}
}

func (r *Rust) ArtifactPath(dir string) string {
	return filepath.Join(dir, "target", "release", "main")
}

func (r *Rust) Libraries() []string {
	return []string{"std::io", "std::collections", "std::thread", "std::time"}
}

func (r *Rust) MemoryControls(limitMB int64) MemoryPolicy {
	return MemoryPolicy{AddressSpace: true}
}

func (r *Rust) MemoryExhausted(stderr string) bool {
	return strings.Contains(stderr, "memory allocation of") ||
		strings.Contains(stderr, "out of memory")
}
