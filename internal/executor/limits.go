package executor

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"snippet-runner/internal/toolchain"
)

const (
	maxOpenFiles = 256
	maxFileBytes = 64 << 20
)

// programLimits returns the rlimits applied to every compiled program. The
// address-space ceiling is added only when memory enforcement is on and the
// toolchain's programs tolerate it.
func programLimits(policy toolchain.MemoryPolicy, memoryMB int64, enforce bool) []specs.POSIXRlimit {
	limits := []specs.POSIXRlimit{
		{Type: "RLIMIT_CORE", Hard: 0, Soft: 0},
		{Type: "RLIMIT_NOFILE", Hard: maxOpenFiles, Soft: maxOpenFiles},
		{Type: "RLIMIT_FSIZE", Hard: maxFileBytes, Soft: maxFileBytes},
	}
	if enforce && policy.AddressSpace {
		bytes := safeUint64(memoryMB * 1024 * 1024)
		limits = append(limits, specs.POSIXRlimit{Type: "RLIMIT_AS", Hard: bytes, Soft: bytes})
	}
	return limits
}

// programEnv is the complete environment of a compiled program. Nothing from
// the service environment leaks in.
func programEnv(dir string, policy toolchain.MemoryPolicy, enforce bool) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"LANG=C.UTF-8",
		"RUST_BACKTRACE=0",
	}
	if enforce {
		env = append(env, policy.Env...)
	}
	return env
}

func safeUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
