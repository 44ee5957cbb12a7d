package executor

// Status is the normalized outcome of an execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// ExecutionRequest is one snippet to build and run.
type ExecutionRequest struct {
	Code string
	// Input is written to the program's stdin when non-nil.
	Input *string
	// TimeoutOverride in seconds; honored only within (0, max timeout].
	TimeoutOverride *int
}

// ExecutionResult is the single deterministic outcome of Execute.
type ExecutionResult struct {
	ID             string
	CodeHash       string
	Stdout         string
	Stderr         string
	ElapsedSeconds float64
	Status         Status
	// Cached is true when the build stage was served from the artifact cache.
	Cached bool
}

// ValidationRequest is one snippet to compile-check.
type ValidationRequest struct {
	Code string
}

// ValidationResult is the outcome of Validate. Warnings is reserved and
// always empty.
type ValidationResult struct {
	IsValid  bool
	Errors   []string
	Warnings []string
}

// Info describes the process-wide execution policy.
type Info struct {
	Toolchain             string
	Version               string
	DefaultTimeoutSeconds int
	MaxTimeoutSeconds     int
	MemoryLimitMB         int64
	MemoryEnforced        bool
	MaxCodeSizeKB         int64
	Libraries             []string
}
