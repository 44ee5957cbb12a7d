package monitor

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// PatternDetector flags suspicious constructs in submitted snippets and in
// program output. Detections feed logs and metrics only; they never block an
// execution.
type PatternDetector struct {
	patterns []DetectionPattern
}

// DetectionPattern defines a suspicious pattern to match.
type DetectionPattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Severity    Severity
}

// Severity levels for detected patterns.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Detection represents a detected suspicious pattern.
type Detection struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
	Line     int    `json:"line,omitempty"`
}

// NewPatternDetector creates a detector with the default Rust and Go patterns.
func NewPatternDetector() *PatternDetector {
	return &PatternDetector{
		patterns: defaultPatterns(),
	}
}

// AnalyzeCode checks submitted code for suspicious patterns before execution.
func (d *PatternDetector) AnalyzeCode(code string) []Detection {
	var detections []Detection

	lines := strings.Split(code, "\n")
	for i, line := range lines {
		for _, p := range d.patterns {
			if p.Regex.MatchString(line) {
				detections = append(detections, Detection{
					Pattern:  p.Name,
					Severity: p.Severity.String(),
					Detail:   p.Description,
					Line:     i + 1,
				})

				log.Warn().
					Str("pattern", p.Name).
					Str("severity", p.Severity.String()).
					Int("line", i+1).
					Msg("suspicious pattern in snippet")
			}
		}
	}

	return detections
}

// AnalyzeOutput checks program output for host information leaking out.
func (d *PatternDetector) AnalyzeOutput(output string) []Detection {
	var detections []Detection

	outputPatterns := []struct {
		name   string
		substr string
		sev    Severity
	}{
		{"kernel_leak", "Linux version", SeverityHigh},
		{"root_access", "root:x:0:0", SeverityCritical},
		{"private_key_leak", "PRIVATE KEY-----", SeverityCritical},
		{"database_url_leak", "postgres://", SeverityHigh},
		{"docker_socket", "docker.sock", SeverityCritical},
	}

	for _, p := range outputPatterns {
		if strings.Contains(output, p.substr) {
			detections = append(detections, Detection{
				Pattern:  p.name,
				Severity: p.sev.String(),
				Detail:   "suspicious content in output: " + p.name,
			})
		}
	}

	return detections
}

func defaultPatterns() []DetectionPattern {
	return []DetectionPattern{
		{
			Name:        "process_spawn",
			Description: "Spawning child processes",
			Regex:       regexp.MustCompile(`std::process::Command|process::Command::new|\bexec\.Command(Context)?\(|syscall\.(Exec|ForkExec)\b`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "raw_network",
			Description: "Opening network connections",
			Regex:       regexp.MustCompile(`std::net::|TcpStream|UdpSocket|TcpListener|\bnet\.(Dial|Listen)\w*\(|http\.(Get|Post)\(`),
			Severity:    SeverityMedium,
		},
		{
			Name:        "unsafe_code",
			Description: "Bypassing memory safety",
			Regex:       regexp.MustCompile(`\bunsafe\s*\{|"unsafe"|\bunsafe\.Pointer\b|extern\s+"C"`),
			Severity:    SeverityMedium,
		},
		{
			Name:        "proc_self_access",
			Description: "Accessing /proc/self for process info",
			Regex:       regexp.MustCompile(`/proc/self/(root|exe|fd|ns|maps|status|environ)`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "sensitive_file",
			Description: "Reading host credentials or account files",
			Regex:       regexp.MustCompile(`/etc/(passwd|shadow|sudoers)|\.ssh/|\.aws/credentials`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "env_harvest",
			Description: "Enumerating the service environment",
			Regex:       regexp.MustCompile(`std::env::vars\(|env::vars\(\)|os\.Environ\(\)`),
			Severity:    SeverityLow,
		},
		{
			Name:        "metadata_service",
			Description: "Attempting to reach cloud metadata service",
			Regex:       regexp.MustCompile(`169\.254\.169\.254|metadata\.google|metadata\.aws`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "raw_syscall",
			Description: "Issuing raw system calls",
			Regex:       regexp.MustCompile(`libc::|syscall\.Syscall|\bsyscall\.(Kill|Ptrace|Mount|Setuid)\b|asm!\(`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "crypto_miner",
			Description: "Potential cryptocurrency mining",
			Regex:       regexp.MustCompile(`(?i)(stratum\+tcp|xmrig|minerd|cryptonight|hashrate)`),
			Severity:    SeverityMedium,
		},
	}
}
