// Package backend defines the capability contract every sandbox backend
// (local-process, container, microVM) must satisfy, plus a process-wide
// registry so the high-level façade can resolve "auto" by probing
// availability in a documented preference order.
//
// The shape mirrors github.com/akshayaggarwal99/boxed's internal/driver
// package: one interface, a name→factory registry populated at init time,
// and a package-level resolver.
package backend

import (
	"context"
	"fmt"

	"github.com/agenticx/sandbox"
)

// Backend is the capability set every concrete backend implements. Callers
// never branch on backend kind; the façade talks to this interface only.
type Backend interface {
	// Start acquires the underlying platform (process/container/VM) within
	// the template's startup timeout. Idempotent on an already-running
	// backend.
	Start(ctx context.Context) error

	// Stop tears down the underlying platform. Never returns an error that
	// callers must act on: failures are logged and swallowed so that status
	// always reaches sandbox.StatusStopped. Idempotent on an already-stopped
	// backend and tolerant of intermediate states.
	Stop(ctx context.Context) error

	// Execute runs code of the given language and returns a structured
	// result. A zero timeout means "use the template's execution timeout".
	Execute(ctx context.Context, code string, language sandbox.Language, timeout float64) (sandbox.ExecutionResult, error)

	// CheckHealth never returns an error; an unreachable backend reports
	// sandbox.HealthUnhealthy.
	CheckHealth(ctx context.Context) sandbox.HealthStatus

	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	DeleteFile(ctx context.Context, path string) error
	ListDirectory(ctx context.Context, path string) ([]sandbox.FileInfo, error)

	RunCommand(ctx context.Context, command string, timeout float64) (sandbox.ExecutionResult, error)
	ListProcesses(ctx context.Context) ([]sandbox.ProcessInfo, error)
	KillProcess(ctx context.Context, pid int, signal int) error

	// Name returns the registered backend name (e.g. "local", "container",
	// "microvm"), used to populate sandbox.BackendError.Backend and
	// sandbox.ExecutionResult.Metadata.
	Name() string
}

// Factory constructs a Backend from a template. Factories run probing
// (e.g. "is the container CLI on PATH") synchronously and return a backend
// error if the platform cannot be used at all — this is distinct from
// Start failing later.
type Factory func(tmpl sandbox.Template) (Backend, error)

var registry = make(map[string]Factory)

// Register adds a factory under name to the process-wide registry.
// Conventionally called from a backend package's init() via a blank
// import, exactly as the teacher's driver packages register themselves.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// New constructs a backend by registered name.
func New(name string, tmpl sandbox.Template) (Backend, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("sandbox/backend: unknown backend %q", name)
	}
	return factory(tmpl)
}

// Available returns the names of every registered backend.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// PreferenceOrder is the documented probing order "auto" resolves against.
// Local-process is tried first because it has no external dependency;
// container next because Docker is the most common isolation layer
// available in a dev/CI environment; microVM last because it depends on a
// separately-run server that is rarely present unless explicitly wired up.
var PreferenceOrder = []string{"local", "container", "microvm"}

// Resolve picks a concrete backend name for tmpl.Backend. An explicit,
// non-"auto" name is returned unchanged (and is not checked against the
// registry here — New will surface "unknown backend" if it's bogus).
// "auto" probes PreferenceOrder in order and returns the first name whose
// factory constructs successfully; sandbox.ErrSandboxNotFound-style "no
// backend available" is reported via the returned error.
func Resolve(tmpl sandbox.Template) (string, Backend, error) {
	if tmpl.Backend != "" && tmpl.Backend != "auto" {
		b, err := New(tmpl.Backend, tmpl)
		if err != nil {
			return "", nil, err
		}
		return tmpl.Backend, b, nil
	}
	var lastErr error
	for _, name := range PreferenceOrder {
		if _, ok := registry[name]; !ok {
			continue
		}
		b, err := New(name, tmpl)
		if err != nil {
			lastErr = err
			continue
		}
		return name, b, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("sandbox/backend: no registered backend available")
	}
	return "", nil, fmt.Errorf("sandbox/backend: auto-resolution failed: %w", lastErr)
}
