// Package sandbox is a polyglot code-execution sandbox library: a uniform
// interface for running untrusted code and shell commands under
// configurable isolation (plain subprocess, Linux container, microVM) while
// preserving session state, enforcing resource/time budgets, and surfacing
// structured results.
//
// The core mirrors the lifecycle of github.com/akshayaggarwal99/boxed's
// driver abstraction: a handle owns a backend, the backend owns the
// underlying process/container/VM, and teardown is guaranteed on every exit
// path.
package sandbox

import "time"

// Kind identifies the flavor of sandbox being requested. Only
// KindCodeInterpreter is implemented by this core; the others are reserved
// for higher layers that compose a code interpreter with a browser.
type Kind string

const (
	KindCodeInterpreter Kind = "code_interpreter"
	KindBrowser         Kind = "browser"
	KindCombined        Kind = "combined"
)

// Status is the lifecycle state of a sandbox handle. Within one lifecycle
// transitions only move forward; Sandbox.Start, Restart and the auto-restart
// policy begin a new lifecycle on the same handle from STOPPED or ERROR.
type Status string

const (
	StatusPending  Status = "pending"
	StatusCreating Status = "creating"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Language is a code language tag. Backends may support a subset; a request
// naming an unsupported language fails with ErrUnsupportedLanguage.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageShell      Language = "shell"
	LanguageBash       Language = "bash"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguageJava       Language = "java"
	LanguageGo         Language = "go"
)

// ExecutionResult is the canonical structured return of any execute call.
type ExecutionResult struct {
	Stdout     string         `json:"stdout"`
	Stderr     string         `json:"stderr"`
	ExitCode   int            `json:"exit_code"`
	Success    bool           `json:"success"`
	DurationMS float64        `json:"duration_ms"`
	Language   Language       `json:"language"`
	Truncated  bool           `json:"truncated"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewExecutionResult builds a result whose Success field is derived from
// exit code, as required by spec: success iff exit_code == 0 at
// construction. Callers that widen the semantics later (e.g. the daemon
// client mapping a non-2xx response) set Success explicitly instead of
// using this constructor.
func NewExecutionResult(stdout, stderr string, exitCode int, lang Language, durationMS float64) ExecutionResult {
	return ExecutionResult{
		Stdout:     stdout,
		Stderr:     stderr,
		ExitCode:   exitCode,
		Success:    exitCode == 0,
		DurationMS: durationMS,
		Language:   lang,
		Metadata:   map[string]any{},
	}
}

// HealthState is the outcome of a health check.
type HealthState string

const (
	HealthOK        HealthState = "ok"
	HealthUnhealthy HealthState = "unhealthy"
	HealthUnknown   HealthState = "unknown"
)

// HealthStatus reports the outcome of a backend health check. Health checks
// never throw; an unreachable backend reports HealthUnhealthy.
type HealthStatus struct {
	Status    HealthState `json:"status"`
	Message   string      `json:"message"`
	LatencyMS float64     `json:"latency_ms"`
	Timestamp time.Time   `json:"timestamp"`
}

// IsHealthy reports whether the status is HealthOK.
func (h HealthStatus) IsHealthy() bool {
	return h.Status == HealthOK
}

// FileInfo describes one entry returned by a directory listing.
type FileInfo struct {
	Path        string     `json:"path"`
	SizeBytes   int64      `json:"size_bytes"`
	IsDir       bool       `json:"is_dir"`
	Permissions string     `json:"permissions"`
	ModifiedAt  *time.Time `json:"modified_at,omitempty"`
}

// ProcessInfo describes one process running inside a sandbox.
type ProcessInfo struct {
	PID           int     `json:"pid"`
	Command       string  `json:"command"`
	Status        Status  `json:"status"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
}
