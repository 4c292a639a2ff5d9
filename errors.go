package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra data, mirroring the
// teacher's var-block-of-sentinels style in internal/driver/driver.go.
var (
	ErrSandboxNotFound     = errors.New("sandbox: not found")
	ErrUnsupportedLanguage = errors.New("sandbox: unsupported language")
	ErrAlreadyStarted      = errors.New("sandbox: already started")
	ErrKernelNotAvailable  = errors.New("sandbox: kernel backend not available")
	ErrInvalidTemplate     = errors.New("sandbox: invalid template")
)

// NotReadyError reports that an operation was attempted against a sandbox
// that has not reached StatusRunning.
type NotReadyError struct {
	SandboxID string
	Status    Status
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("sandbox %s not ready (status=%s)", e.SandboxID, e.Status)
}

// TimeoutError reports that an operation exceeded its allotted budget.
// BudgetSeconds is the budget that was exceeded, not the elapsed time.
type TimeoutError struct {
	Op            string
	BudgetSeconds float64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("sandbox: %s timed out after %.1fs", e.Op, e.BudgetSeconds)
}

// ExecutionError reports that code or a command ran to completion but
// failed (non-zero exit). It carries the exit code and captured stderr so
// callers can decide whether to surface, retry, or translate further.
type ExecutionError struct {
	ExitCode int
	Stderr   string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("sandbox: execution failed (exit_code=%d): %s", e.ExitCode, e.Stderr)
}

// ResourceError reports that a named resource (file, process, directory)
// could not be located or acted on.
type ResourceError struct {
	Resource string
	Reason   string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("sandbox: resource %q: %s", e.Resource, e.Reason)
}

// BackendError reports a failure internal to a specific backend
// implementation (Docker daemon unreachable, microVM server error, local
// process spawn failure). The wrapped error is preserved for errors.Unwrap.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("sandbox: backend %q: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// DaemonConnectionError reports that the execd HTTP client exhausted its
// retry budget trying to reach the given endpoint. Unlike a non-2xx
// response (a failed result from /code and /command, a DaemonExecutionError
// from the other endpoints), a connection failure surfaces as this error: the daemon itself may be
// down, and callers must not mistake that for "the code failed".
type DaemonConnectionError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *DaemonConnectionError) Error() string {
	return fmt.Sprintf("sandbox: daemon unreachable at %s after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *DaemonConnectionError) Unwrap() error { return e.Err }

// DaemonExecutionError reports that the daemon itself reported an internal
// failure distinct from the executed code's own exit status (e.g. a 5xx
// with an error body it could still parse).
type DaemonExecutionError struct {
	Endpoint string
	Message  string
}

func (e *DaemonExecutionError) Error() string {
	return fmt.Sprintf("sandbox: daemon execution error at %s: %s", e.Endpoint, e.Message)
}

// DaemonTimeoutError reports that an HTTP round trip to the daemon exceeded
// its deadline. Distinguished from TimeoutError because it names the
// daemon's request deadline, not a code-execution budget.
type DaemonTimeoutError struct {
	Endpoint      string
	BudgetSeconds float64
}

func (e *DaemonTimeoutError) Error() string {
	return fmt.Sprintf("sandbox: daemon request to %s timed out after %.1fs", e.Endpoint, e.BudgetSeconds)
}

// asTyped reports whether an error already belongs to this package's
// taxonomy (and therefore must not be re-wrapped). It is unexported and has
// no callers.
func asTyped(err error) bool {
	var (
		notReady  *NotReadyError
		timeout   *TimeoutError
		execErr   *ExecutionError
		resErr    *ResourceError
		backErr   *BackendError
		daemConn  *DaemonConnectionError
		daemExec  *DaemonExecutionError
		daemTime  *DaemonTimeoutError
	)
	return errors.As(err, &notReady) ||
		errors.As(err, &timeout) ||
		errors.As(err, &execErr) ||
		errors.As(err, &resErr) ||
		errors.As(err, &backErr) ||
		errors.As(err, &daemConn) ||
		errors.As(err, &daemExec) ||
		errors.As(err, &daemTime)
}
