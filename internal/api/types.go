package api

// ExecuteRequest is the wire form of an execution request.
type ExecuteRequest struct {
	Code      string  `json:"code"`
	InputData *string `json:"inputData,omitempty"`
	Timeout   *int    `json:"timeout,omitempty"` // seconds
}

// ExecuteResponse is the wire form of an execution result.
type ExecuteResponse struct {
	Output        string  `json:"output"`
	Error         string  `json:"error"`
	ExecutionTime float64 `json:"executionTime"` // seconds
	Status        string  `json:"status"`
}

// ValidateRequest is the wire form of a validation request.
type ValidateRequest struct {
	Code string `json:"code"`
}

// ValidateResponse is the wire form of a validation result.
type ValidateResponse struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// InfoResponse describes the service's execution policy.
type InfoResponse struct {
	Service            string   `json:"service"`
	Language           string   `json:"language"`
	Version            string   `json:"version"`
	MaxExecutionTime   int      `json:"maxExecutionTime"`
	MaxTimeout         int      `json:"maxTimeout"`
	MaxMemoryMB        int64    `json:"maxMemoryMB"`
	MemoryEnforced     bool     `json:"memoryEnforced"`
	MaxCodeSizeKB      int64    `json:"maxCodeSizeKB"`
	AvailableLibraries []string `json:"availableLibraries"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Toolchain bool   `json:"toolchain"`
	Database  bool   `json:"database"`
	Active    int64  `json:"active"`
	Uptime    string `json:"uptime"`
}
