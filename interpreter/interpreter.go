// Package interpreter implements the stateful code interpreter: a
// persistent session in which variables, imports, and function definitions
// defined by one execute call remain visible to later calls, until reset or
// teardown. Two backends are available — a remote daemon context
// (interpreter/daemon.go) or a local language kernel
// (interpreter/kernel.go) — chosen once at Start per the selection policy
// in spec §4.5.
//
// Grounded on original_source/agenticx/sandbox/jupyter_kernel.py's
// StatefulCodeInterpreter.
package interpreter

import (
	"context"
	"fmt"
	"sync"

	"github.com/agenticx/sandbox"
)

// Backend name constants, stored in ExecutionResult.Metadata["backend"].
const (
	BackendDaemon = "execd"
	BackendKernel = "kernel"
)

// Config configures interpreter selection and both candidate backends.
type Config struct {
	// Daemon endpoint, e.g. "http://127.0.0.1:44772". Empty disables the
	// daemon-context backend.
	DaemonEndpoint string
	DaemonToken    string

	// UseJupyter enables the local-kernel fallback. Named to match the
	// original source's use_jupyter flag even though this port's kernel is
	// not a literal Jupyter kernel (see interpreter/kernel.go).
	UseJupyter bool
	KernelName string // default "python3"

	Language string // default "python"

	StartupTimeoutSeconds   float64 // default 60
	ExecutionTimeoutSeconds float64 // default 30
}

func (c Config) withDefaults() Config {
	if c.Language == "" {
		c.Language = "python"
	}
	if c.KernelName == "" {
		c.KernelName = "python3"
	}
	if c.StartupTimeoutSeconds <= 0 {
		c.StartupTimeoutSeconds = 60
	}
	if c.ExecutionTimeoutSeconds <= 0 {
		c.ExecutionTimeoutSeconds = 30
	}
	return c
}

// sessionBackend is the internal contract both concrete backends satisfy;
// Interpreter delegates to whichever one Start picked.
type sessionBackend interface {
	start(ctx context.Context) error
	execute(ctx context.Context, code string, timeout float64) (sandbox.ExecutionResult, error)
	reset(ctx context.Context) error
	stop(ctx context.Context) error
	backendName() string
}

// Interpreter is a stateful code-execution session. Callers must serialize
// Execute per interpreter (§4.5's single-threaded-per-interpreter
// invariant); parallelism is achieved by creating multiple interpreters.
type Interpreter struct {
	cfg Config

	mu      sync.Mutex
	backend sessionBackend
}

// New constructs an interpreter. Start must be called before Execute.
func New(cfg Config) *Interpreter {
	return &Interpreter{cfg: cfg.withDefaults()}
}

// Start resolves which backend to use per the documented preference:
// daemon first if configured and reachable, else local-kernel if available
// and enabled, else sandbox.ErrKernelNotAvailable.
func (i *Interpreter) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.backend != nil {
		return sandbox.ErrAlreadyStarted
	}

	if i.cfg.DaemonEndpoint != "" {
		d := newDaemonBackend(i.cfg)
		if err := d.start(ctx); err == nil {
			i.backend = d
			return nil
		}
		// Daemon configured but unreachable: fall through to local-kernel
		// per the documented preference order, rather than failing outright.
	}

	if i.cfg.UseJupyter {
		k := newKernelBackend(i.cfg)
		if err := k.start(ctx); err != nil {
			return fmt.Errorf("%w: %v", sandbox.ErrKernelNotAvailable, err)
		}
		i.backend = k
		return nil
	}

	return sandbox.ErrKernelNotAvailable
}

// Execute runs code against the session's persistent state.
func (i *Interpreter) Execute(ctx context.Context, code string, timeout float64) (sandbox.ExecutionResult, error) {
	i.mu.Lock()
	backend := i.backend
	i.mu.Unlock()
	if backend == nil {
		return sandbox.ExecutionResult{}, &sandbox.NotReadyError{Status: sandbox.StatusPending}
	}
	budget := timeout
	if budget <= 0 {
		budget = i.cfg.ExecutionTimeoutSeconds
	}
	return backend.execute(ctx, code, budget)
}

// Reset clears session state: deletes and recreates the context (daemon
// backend) or restarts the kernel (local-kernel backend).
func (i *Interpreter) Reset(ctx context.Context) error {
	i.mu.Lock()
	backend := i.backend
	i.mu.Unlock()
	if backend == nil {
		return &sandbox.NotReadyError{Status: sandbox.StatusPending}
	}
	return backend.reset(ctx)
}

// Stop tears down the active backend's session.
func (i *Interpreter) Stop(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.backend == nil {
		return nil
	}
	err := i.backend.stop(ctx)
	i.backend = nil
	return err
}

// BackendName reports which backend is active ("execd" or "kernel"), or ""
// if Start has not succeeded.
func (i *Interpreter) BackendName() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.backend == nil {
		return ""
	}
	return i.backend.backendName()
}
