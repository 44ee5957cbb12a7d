//go:build !linux

package executor

import (
	"errors"
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const rlimitsSupported = false

func applyRlimits(pid int, limits []specs.POSIXRlimit) error {
	if len(limits) == 0 {
		return nil
	}
	return fmt.Errorf("prlimit: %w", errors.ErrUnsupported)
}
