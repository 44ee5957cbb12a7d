package executor

import (
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

var rlimitResources = map[string]int{
	"RLIMIT_AS":     unix.RLIMIT_AS,
	"RLIMIT_CORE":   unix.RLIMIT_CORE,
	"RLIMIT_DATA":   unix.RLIMIT_DATA,
	"RLIMIT_FSIZE":  unix.RLIMIT_FSIZE,
	"RLIMIT_NOFILE": unix.RLIMIT_NOFILE,
	"RLIMIT_NPROC":  unix.RLIMIT_NPROC,
	"RLIMIT_STACK":  unix.RLIMIT_STACK,
}

const rlimitsSupported = true

// applyRlimits sets limits on a running process with prlimit(2).
func applyRlimits(pid int, limits []specs.POSIXRlimit) error {
	for _, l := range limits {
		resource, ok := rlimitResources[l.Type]
		if !ok {
			return fmt.Errorf("unknown rlimit %s", l.Type)
		}
		rl := unix.Rlimit{Cur: l.Soft, Max: l.Hard}
		if err := unix.Prlimit(pid, resource, &rl, nil); err != nil {
			return fmt.Errorf("prlimit %s: %w", l.Type, err)
		}
	}
	return nil
}
