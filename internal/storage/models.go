package storage

import "time"

// Execution is one audit record. It carries request metadata only; code and
// output are never persisted.
type Execution struct {
	ID          string    `json:"id" db:"id"`
	Kind        string    `json:"kind" db:"kind"` // execute, validate
	Toolchain   string    `json:"toolchain" db:"toolchain"`
	CodeHash    string    `json:"code_hash" db:"code_hash"`
	Status      string    `json:"status" db:"status"` // success, error, timeout, valid, invalid
	ElapsedMS   int64     `json:"elapsed_ms" db:"elapsed_ms"`
	OutputBytes int64     `json:"output_bytes" db:"output_bytes"`
	Cached      bool      `json:"cached" db:"cached"`
	RequestIP   string    `json:"request_ip" db:"request_ip"`
	APIKeyHash  string    `json:"api_key_hash,omitempty" db:"api_key_hash"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ExecutionFilter provides criteria for querying executions.
type ExecutionFilter struct {
	Toolchain string
	Status    string
	Since     *time.Time
	Limit     int
	Offset    int
}
