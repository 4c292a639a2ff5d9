package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agenticx/sandbox/backend"
	// Blank-imported so every backend registers itself with the package-wide
	// registry simply by importing this package, matching the teacher's
	// driver-package init() registration pattern.
	_ "github.com/agenticx/sandbox/backend/container"
	_ "github.com/agenticx/sandbox/backend/local"
	_ "github.com/agenticx/sandbox/backend/microvm"
)

// historySize bounds the façade's ring-buffered execution history.
const historySize = 100

// Sandbox is the high-level handle most callers use: it resolves and owns a
// concrete Backend, tracks status and uptime, and keeps a bounded history
// of past executions.
type Sandbox struct {
	tmpl Template

	mu          sync.Mutex
	id          string
	status      Status
	backendName string
	b           backend.Backend
	startedAt   time.Time
	history     []ExecutionResult
	historyHead int
	execCount   int64
	autoRestart bool
}

// Option configures a Sandbox at construction.
type Option func(*Sandbox)

// WithAutoRestart enables the façade's documented retry-once-on-not-ready
// policy.
func WithAutoRestart(enabled bool) Option {
	return func(s *Sandbox) { s.autoRestart = enabled }
}

// New constructs a Sandbox bound to tmpl. It does not start the backend;
// call Start (or Run, which starts lazily) before executing code.
func New(tmpl Template, opts ...Option) *Sandbox {
	s := &Sandbox{
		tmpl:   tmpl,
		id:     uuid.NewString(),
		status: StatusPending,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns this sandbox's generated identifier.
func (s *Sandbox) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Status returns the current lifecycle status.
func (s *Sandbox) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start resolves tmpl.Backend ("auto" or explicit) and brings the
// underlying backend up. Calling Start on an already-running sandbox
// returns ErrAlreadyStarted.
func (s *Sandbox) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusRunning || s.status == StatusCreating {
		return ErrAlreadyStarted
	}
	return s.startLocked(ctx)
}

// startLocked does the actual resolve+start; caller holds s.mu.
func (s *Sandbox) startLocked(ctx context.Context) error {
	s.status = StatusCreating
	name, b, err := backend.Resolve(s.tmpl)
	if err != nil {
		s.status = StatusError
		return fmt.Errorf("sandbox: resolving backend: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		s.status = StatusError
		return err
	}
	s.b = b
	s.backendName = name
	s.startedAt = time.Now()
	s.status = StatusRunning
	log.Info().Str("sandbox_id", s.id).Str("backend", name).Msg("sandbox started")
	return nil
}

// Stop tears down the underlying backend. Errors are logged and swallowed
// per §7: status always reaches StatusStopped.
func (s *Sandbox) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Sandbox) stopLocked(ctx context.Context) {
	if s.b == nil {
		s.status = StatusStopped
		return
	}
	s.status = StatusStopping
	if err := s.b.Stop(ctx); err != nil {
		log.Warn().Err(err).Str("sandbox_id", s.id).Msg("sandbox teardown reported an error, ignoring")
	}
	s.b = nil
	s.status = StatusStopped
}

// Restart stops (if running) and starts the backend fresh, resetting
// uptime. History and execution count are preserved.
func (s *Sandbox) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
	return s.startLocked(ctx)
}

// UptimeSeconds returns seconds since the last successful Start, or 0 if
// not running.
func (s *Sandbox) UptimeSeconds() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return 0
	}
	return time.Since(s.startedAt).Seconds()
}

// ExecutionCount returns the number of Run/RunPython/RunShell calls on this
// sandbox that returned a result; calls that returned an error are not
// counted.
func (s *Sandbox) ExecutionCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execCount
}

// History returns a copy of the most recent executions, oldest first,
// bounded to historySize entries.
func (s *Sandbox) History() []ExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ExecutionResult, 0, len(s.history))
	out = append(out, s.history[s.historyHead:]...)
	out = append(out, s.history[:s.historyHead]...)
	return out
}

func (s *Sandbox) recordLocked(result ExecutionResult) {
	s.execCount++
	if len(s.history) < historySize {
		s.history = append(s.history, result)
		return
	}
	s.history[s.historyHead] = result
	s.historyHead = (s.historyHead + 1) % historySize
}

// HealthCheck delegates to the backend; never returns an error per §7 —
// an absent backend is reported as unhealthy rather than panicking or
// erroring.
func (s *Sandbox) HealthCheck(ctx context.Context) HealthStatus {
	s.mu.Lock()
	b := s.b
	s.mu.Unlock()
	if b == nil {
		return HealthStatus{Status: HealthUnhealthy, Message: "sandbox not started", Timestamp: time.Now()}
	}
	return b.CheckHealth(ctx)
}

// Run executes code in the given language, applying the façade's
// auto-restart-once-on-not-ready policy when enabled. A zero timeout uses
// the template's execution timeout.
func (s *Sandbox) Run(ctx context.Context, code string, language Language, timeout float64) (ExecutionResult, error) {
	s.mu.Lock()
	if s.status != StatusRunning {
		if s.autoRestart {
			if err := s.startLocked(ctx); err != nil {
				s.mu.Unlock()
				return ExecutionResult{}, err
			}
		} else {
			s.mu.Unlock()
			return ExecutionResult{}, &NotReadyError{SandboxID: s.id, Status: s.status}
		}
	}
	b := s.b
	s.mu.Unlock()

	budget := timeout
	if budget <= 0 {
		budget = s.tmpl.ExecutionTimeout
	}
	result, err := b.Execute(ctx, code, language, budget)

	if err != nil && s.autoRestart && isNotReady(err) {
		s.mu.Lock()
		if restartErr := s.startLocked(ctx); restartErr != nil {
			s.mu.Unlock()
			return ExecutionResult{}, restartErr
		}
		b = s.b
		s.mu.Unlock()
		result, err = b.Execute(ctx, code, language, budget)
	}

	s.mu.Lock()
	if err == nil {
		s.recordLocked(result)
	}
	s.mu.Unlock()
	return result, err
}

func isNotReady(err error) bool {
	_, ok := err.(*NotReadyError)
	return ok
}

// RunPython is a shortcut for Run(ctx, code, LanguagePython, timeout).
func (s *Sandbox) RunPython(ctx context.Context, code string, timeout float64) (ExecutionResult, error) {
	return s.Run(ctx, code, LanguagePython, timeout)
}

// RunShell is a shortcut for Run(ctx, code, LanguageShell, timeout).
func (s *Sandbox) RunShell(ctx context.Context, code string, timeout float64) (ExecutionResult, error) {
	return s.Run(ctx, code, LanguageShell, timeout)
}

// ReadFile delegates to the backend.
func (s *Sandbox) ReadFile(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	b := s.b
	s.mu.Unlock()
	if b == nil {
		return nil, &NotReadyError{SandboxID: s.id, Status: s.status}
	}
	return b.ReadFile(ctx, path)
}

// WriteFile delegates to the backend.
func (s *Sandbox) WriteFile(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	b := s.b
	s.mu.Unlock()
	if b == nil {
		return &NotReadyError{SandboxID: s.id, Status: s.status}
	}
	return b.WriteFile(ctx, path, data)
}

// DeleteFile delegates to the backend.
func (s *Sandbox) DeleteFile(ctx context.Context, path string) error {
	s.mu.Lock()
	b := s.b
	s.mu.Unlock()
	if b == nil {
		return &NotReadyError{SandboxID: s.id, Status: s.status}
	}
	return b.DeleteFile(ctx, path)
}

// ListDirectory delegates to the backend.
func (s *Sandbox) ListDirectory(ctx context.Context, path string) ([]FileInfo, error) {
	s.mu.Lock()
	b := s.b
	s.mu.Unlock()
	if b == nil {
		return nil, &NotReadyError{SandboxID: s.id, Status: s.status}
	}
	return b.ListDirectory(ctx, path)
}

// RunCommand delegates to the backend.
func (s *Sandbox) RunCommand(ctx context.Context, command string, timeout float64) (ExecutionResult, error) {
	s.mu.Lock()
	b := s.b
	s.mu.Unlock()
	if b == nil {
		return ExecutionResult{}, &NotReadyError{SandboxID: s.id, Status: s.status}
	}
	return b.RunCommand(ctx, command, timeout)
}

// ExecuteCode is the one-shot convenience: construct a sandbox, run one
// call, tear down, for callers that don't need persistent state across
// multiple calls.
func ExecuteCode(ctx context.Context, tmpl Template, code string, language Language, timeout float64) (ExecutionResult, error) {
	s := New(tmpl)
	if err := s.Start(ctx); err != nil {
		return ExecutionResult{}, err
	}
	defer s.Stop(ctx)
	return s.Run(ctx, code, language, timeout)
}
