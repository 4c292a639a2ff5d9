// Package execd implements the HTTP/SSE client for the in-sandbox
// execution daemon ("execd"): code/command/file/context/metrics endpoints
// over a well-known port, with linear-backoff retry on connection-class
// failures and a strict separation between "daemon died" (a typed error)
// and "code failed" (a result with success=false).
//
// Grounded on agenticx/sandbox/execd.py from the original source; the HTTP
// plumbing follows the teacher's net/http-based style seen across the pack
// (e.g. other_examples/.../code-http.go.go uses a bare net/http.Client,
// which is the idiomatic choice here too — no third-party HTTP client adds
// anything execd.py's semantics require).
package execd

import "time"

// DefaultPort is the well-known execd port.
const DefaultPort = 44772

// DefaultTimeout is the client-level HTTP timeout, separate from any
// per-call timeout_ms carried in a request body.
const DefaultTimeout = 30 * time.Second

// DefaultMaxRetries is the default retry budget for connection/timeout
// class failures.
const DefaultMaxRetries = 3

// DefaultRetryDelay is the base delay multiplied by the attempt number
// (linear backoff: delay * attempt).
const DefaultRetryDelay = 200 * time.Millisecond

// CodeExecutionResult mirrors execd.py's CodeExecutionResult: the full
// shape of a /code response, richer than sandbox.ExecutionResult because it
// also carries the context id and a raw metadata map.
type CodeExecutionResult struct {
	Stdout     string
	Stderr     string
	Result     string
	ExitCode   int
	Success    bool
	DurationMS float64
	ContextID  string
	Language   string
	Metadata   map[string]any
}

// Output returns the primary output: result if non-empty, else stdout if
// non-empty, else stderr. Grounded verbatim on execd.py's `output` property.
func (r CodeExecutionResult) Output() string {
	if r.Result != "" {
		return r.Result
	}
	if r.Stdout != "" {
		return r.Stdout
	}
	return r.Stderr
}

// CommandExecutionResult mirrors execd.py's CommandExecutionResult.
type CommandExecutionResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	Success    bool
	DurationMS float64
	PID        int
	Background bool
	Metadata   map[string]any
}

// FileEntry mirrors execd.py's FileEntry, the shape returned by
// /files/list.
type FileEntry struct {
	Path       string
	Name       string
	Size       int64
	IsDir      bool
	Mode       int
	ModifiedAt string
}

// CodeContext mirrors execd.py's CodeContext: a stateful execution context
// the client caches by id.
type CodeContext struct {
	ContextID string
	Language  string
	CreatedAt string
	Metadata  map[string]any
}
