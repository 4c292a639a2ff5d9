// Package local implements the local-process sandbox backend: the
// simplest of the three, running code as a child process isolated only by
// a dedicated working directory and environment. It registers itself under
// the name "local" exactly the way the teacher's docker driver registers
// itself with a blank-import init().
package local

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agenticx/sandbox"
	"github.com/agenticx/sandbox/backend"
)

const Name = "local"

func init() {
	backend.Register(Name, New)
}

// Backend runs code as a plain child process under a per-instance working
// directory. It provides cwd and process isolation only — callers wanting
// stronger isolation should choose the container or microVM backend.
type Backend struct {
	tmpl sandbox.Template

	mu      sync.Mutex
	started bool
	workDir string
	id      string
}

// New constructs a local-process backend. Construction never fails: there
// is no external platform to probe.
func New(tmpl sandbox.Template) (backend.Backend, error) {
	return &Backend{tmpl: tmpl, id: uuid.NewString()}, nil
}

func (b *Backend) Name() string { return Name }

// Start creates the per-instance working directory under the system temp
// area. Idempotent: calling Start on an already-started backend is a no-op.
func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	dir, err := os.MkdirTemp("", "agenticx-sandbox-"+b.id+"-")
	if err != nil {
		return &sandbox.BackendError{Backend: Name, Err: fmt.Errorf("creating working directory: %w", err)}
	}
	b.workDir = dir
	b.started = true
	log.Info().Str("backend", Name).Str("sandbox_id", b.id).Str("work_dir", dir).Msg("local sandbox started")
	return nil
}

// Stop removes the working directory. Errors are logged and swallowed:
// stop must succeed logically regardless of filesystem state.
func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	if b.workDir != "" {
		if err := os.RemoveAll(b.workDir); err != nil {
			log.Warn().Str("backend", Name).Str("sandbox_id", b.id).Err(err).Msg("failed to remove working directory")
		}
	}
	b.started = false
	return nil
}

func (b *Backend) interpreterFor(language sandbox.Language) ([]string, error) {
	switch language {
	case sandbox.LanguagePython:
		return []string{"python3", "-c"}, nil
	case sandbox.LanguageShell, sandbox.LanguageBash:
		return []string{"/bin/sh", "-c"}, nil
	case sandbox.LanguageJavaScript:
		return []string{"node", "-e"}, nil
	case sandbox.LanguageGo:
		return nil, sandbox.ErrUnsupportedLanguage
	default:
		return nil, sandbox.ErrUnsupportedLanguage
	}
}

// Execute forks a child process with the language's interpreter, capturing
// stdout and stderr separately and applying the timeout. On timeout
// the child is killed and a TimeoutError carrying the budget is returned.
func (b *Backend) Execute(ctx context.Context, code string, language sandbox.Language, timeout float64) (sandbox.ExecutionResult, error) {
	b.mu.Lock()
	started, workDir := b.started, b.workDir
	b.mu.Unlock()
	if !started {
		return sandbox.ExecutionResult{}, &sandbox.NotReadyError{SandboxID: b.id, Status: sandbox.StatusPending}
	}

	argv, err := b.interpreterFor(language)
	if err != nil {
		return sandbox.ExecutionResult{}, err
	}

	budget := timeout
	if budget <= 0 {
		budget = b.tmpl.ExecutionTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(budget*float64(time.Second)))
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], append(argv[1:], code)...)
	cmd.Dir = workDir
	cmd.Env = b.buildEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if runCtx.Err() != nil {
		return sandbox.ExecutionResult{}, &sandbox.TimeoutError{Op: "execute", BudgetSeconds: budget}
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return sandbox.ExecutionResult{}, &sandbox.BackendError{Backend: Name, Err: fmt.Errorf("spawning process: %w", runErr)}
		}
	}

	result := sandbox.NewExecutionResult(stdout.String(), stderr.String(), exitCode, language, float64(duration.Milliseconds()))
	result.Metadata["backend"] = Name
	return result, nil
}

// buildEnv extends the parent environment with the template's environment
// plus a distinguishing sandbox-id variable, per spec.
func (b *Backend) buildEnv() []string {
	env := os.Environ()
	for k, v := range b.tmpl.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	env = append(env, "AGENTICX_SANDBOX_ID="+b.id)
	return env
}

func (b *Backend) resolvePath(path string) (string, error) {
	b.mu.Lock()
	workDir := b.workDir
	b.mu.Unlock()
	if workDir == "" {
		return "", &sandbox.NotReadyError{SandboxID: b.id, Status: sandbox.StatusPending}
	}
	full := filepath.Join(workDir, path)
	rel, err := filepath.Rel(workDir, full)
	if err != nil || rel == ".." || (len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)) {
		return "", &sandbox.ResourceError{Resource: path, Reason: "escapes sandbox working directory"}
	}
	return full, nil
}

func (b *Backend) ReadFile(ctx context.Context, path string) ([]byte, error) {
	full, err := b.resolvePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &sandbox.ExecutionError{ExitCode: 1, Stderr: fmt.Sprintf("file not found: %s", path)}
		}
		return nil, &sandbox.BackendError{Backend: Name, Err: err}
	}
	return data, nil
}

func (b *Backend) WriteFile(ctx context.Context, path string, data []byte) error {
	full, err := b.resolvePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &sandbox.BackendError{Backend: Name, Err: err}
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return &sandbox.BackendError{Backend: Name, Err: err}
	}
	return nil
}

func (b *Backend) DeleteFile(ctx context.Context, path string) error {
	full, err := b.resolvePath(path)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(full); err != nil {
		return &sandbox.BackendError{Backend: Name, Err: err}
	}
	return nil
}

func (b *Backend) ListDirectory(ctx context.Context, path string) ([]sandbox.FileInfo, error) {
	full, err := b.resolvePath(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &sandbox.ExecutionError{ExitCode: 1, Stderr: fmt.Sprintf("directory not found: %s", path)}
		}
		return nil, &sandbox.BackendError{Backend: Name, Err: err}
	}
	infos := make([]sandbox.FileInfo, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		modTime := fi.ModTime()
		infos = append(infos, sandbox.FileInfo{
			Path:        filepath.Join(path, e.Name()),
			SizeBytes:   fi.Size(),
			IsDir:       e.IsDir(),
			Permissions: fi.Mode().String(),
			ModifiedAt:  &modTime,
		})
	}
	return infos, nil
}

func (b *Backend) RunCommand(ctx context.Context, command string, timeout float64) (sandbox.ExecutionResult, error) {
	return b.Execute(ctx, command, sandbox.LanguageShell, timeout)
}

// ListProcesses is not meaningful for the local-process backend: it runs
// exactly one child at a time and does not track a process table. It
// returns an empty slice rather than an error, matching the teacher's
// "unsupported-but-not-fatal" treatment of optional Driver capabilities.
func (b *Backend) ListProcesses(ctx context.Context) ([]sandbox.ProcessInfo, error) {
	return nil, nil
}

func (b *Backend) KillProcess(ctx context.Context, pid int, signal int) error {
	return &sandbox.ResourceError{Resource: fmt.Sprintf("pid:%d", pid), Reason: "local backend does not track background processes"}
}

// CheckHealth never errors; it reports unhealthy if the working directory
// is missing or unreadable.
func (b *Backend) CheckHealth(ctx context.Context) sandbox.HealthStatus {
	start := time.Now()
	b.mu.Lock()
	started, workDir := b.started, b.workDir
	b.mu.Unlock()
	if !started {
		return sandbox.HealthStatus{Status: sandbox.HealthUnhealthy, Message: "not started", Timestamp: time.Now()}
	}
	if _, err := os.Stat(workDir); err != nil {
		return sandbox.HealthStatus{Status: sandbox.HealthUnhealthy, Message: err.Error(), Timestamp: time.Now()}
	}
	return sandbox.HealthStatus{
		Status:    sandbox.HealthOK,
		Message:   "ok",
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000.0,
		Timestamp: time.Now(),
	}
}
