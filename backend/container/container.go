// Package container implements the container sandbox backend: runs code
// inside a Linux container, transparently choosing between a Docker SDK
// transport and a docker-CLI transport. Grounded on the teacher's
// internal/driver/docker package, generalized to the dual-transport
// contract spec.md §4.3.2 requires.
package container

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agenticx/sandbox"
	"github.com/agenticx/sandbox/backend"
)

const Name = "container"

// DefaultImage is the slim Python image used when the template does not
// pin one via its tags (§6: "Image defaults to a slim Python image").
const DefaultImage = "python:3.11-slim"

// DefaultWorkDir is the fixed working directory inside the container used
// when the template does not override it.
const DefaultWorkDir = "/workspace"

// pythonDecoderSnippet decodes a base64-encoded program from argv[1] and
// execs it, avoiding shell quoting hazards for arbitrary Python source.
const pythonDecoderSnippet = `import base64,sys; exec(base64.b64decode(sys.argv[1]).decode())`

func init() {
	backend.Register(Name, New)
}

// Backend runs code inside a long-lived Docker container, execing into it
// for every call.
type Backend struct {
	tmpl      sandbox.Template
	transport transport

	mu          sync.Mutex
	containerID string
	started     bool
	id          string
}

// New probes for a usable transport: SDK preferred, CLI as fallback. If
// neither is usable, construction fails with a backend error — the
// teacher's docker.New only ever tries the SDK, but §4.3.2 requires this
// backend to degrade gracefully when the SDK can't reach a daemon.
func New(tmpl sandbox.Template) (backend.Backend, error) {
	var t transport
	if sdk, err := newSDKTransport(); err == nil {
		t = sdk
	} else {
		log.Debug().Err(err).Msg("docker SDK transport unavailable, falling back to CLI")
		cli, cliErr := newCLITransport()
		if cliErr != nil {
			return nil, &sandbox.BackendError{Backend: Name, Err: fmt.Errorf("no usable docker transport (sdk: %v, cli: %v)", err, cliErr)}
		}
		t = cli
	}
	return &Backend{tmpl: tmpl, transport: t, id: uuid.NewString()}, nil
}

func (b *Backend) Name() string { return Name }

func (b *Backend) image() string {
	if img, ok := b.tmpl.Tags["image"]; ok && img != "" {
		return img
	}
	return DefaultImage
}

func (b *Backend) workDir() string {
	if b.tmpl.WorkingDir != "" {
		return b.tmpl.WorkingDir
	}
	return DefaultWorkDir
}

func (b *Backend) networkMode() string {
	if !b.tmpl.NetworkEnabled {
		return "none"
	}
	if mode, ok := b.tmpl.Tags["network_mode"]; ok && mode != "" {
		return mode
	}
	return "bridge"
}

// Start runs a long-lived container: detached, TTY kept open via a
// keep-alive command, template-derived work dir/network/resources, and the
// distinguishing AGENTICX_SANDBOX_ID env var. Idempotent on an
// already-started backend.
func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	startCtx, cancel := context.WithTimeout(ctx, time.Duration(b.tmpl.StartupTimeout*float64(time.Second)))
	defer cancel()

	env := make([]string, 0, len(b.tmpl.Env)+1)
	for k, v := range b.tmpl.Env {
		env = append(env, k+"="+v)
	}
	env = append(env, "AGENTICX_SANDBOX_ID="+b.id)

	autoRemove, _ := strconv.ParseBool(b.tmpl.Tags["auto_remove"])

	opts := startOptions{
		Image:       b.image(),
		WorkDir:     b.workDir(),
		NetworkMode: b.networkMode(),
		NanoCPUs:    int64(b.tmpl.CPUCores * 1e9),
		MemoryBytes: int64(b.tmpl.MemoryMB) * 1024 * 1024,
		Env:         env,
		SandboxID:   b.id,
		AutoRemove:  autoRemove,
	}

	id, err := b.transport.createAndStart(startCtx, opts)
	if err != nil {
		return &sandbox.BackendError{Backend: Name, Err: err}
	}
	b.containerID = id
	b.started = true
	log.Info().Str("backend", Name).Str("sandbox_id", b.id).Str("container_id", id).Str("transport", b.transport.name()).Msg("container sandbox started")
	return nil
}

// Stop attempts a graceful stop with a 10-second grace, then force-removes
// if auto-remove is false. Errors are logged and swallowed so status always
// reaches STOPPED.
func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	autoRemove, _ := strconv.ParseBool(b.tmpl.Tags["auto_remove"])
	if err := b.transport.stop(ctx, b.containerID, 10, autoRemove); err != nil {
		log.Warn().Str("backend", Name).Str("container_id", b.containerID).Err(err).Msg("stop failed")
	}
	b.started = false
	return nil
}

func (b *Backend) requireStarted() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return "", &sandbox.NotReadyError{SandboxID: b.id, Status: sandbox.StatusPending}
	}
	return b.containerID, nil
}

// Execute runs code inside the container: Python is base64-encoded to
// avoid quoting hazards, shell runs verbatim. Timeouts kill the exec and
// raise a timeout error.
func (b *Backend) Execute(ctx context.Context, code string, language sandbox.Language, timeout float64) (sandbox.ExecutionResult, error) {
	containerID, err := b.requireStarted()
	if err != nil {
		return sandbox.ExecutionResult{}, err
	}

	var argv []string
	switch language {
	case sandbox.LanguagePython:
		encoded := base64.StdEncoding.EncodeToString([]byte(code))
		argv = []string{"python3", "-c", pythonDecoderSnippet, encoded}
	case sandbox.LanguageShell, sandbox.LanguageBash:
		argv = []string{"/bin/sh", "-c", code}
	default:
		return sandbox.ExecutionResult{}, sandbox.ErrUnsupportedLanguage
	}

	budget := timeout
	if budget <= 0 {
		budget = b.tmpl.ExecutionTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, time.Duration(budget*float64(time.Second)))
	defer cancel()

	start := time.Now()
	res, err := b.transport.exec(execCtx, containerID, argv, b.workDir())
	duration := time.Since(start)
	if execCtx.Err() != nil {
		return sandbox.ExecutionResult{}, &sandbox.TimeoutError{Op: "execute", BudgetSeconds: budget}
	}
	if err != nil {
		return sandbox.ExecutionResult{}, &sandbox.BackendError{Backend: Name, Err: err}
	}

	result := sandbox.NewExecutionResult(res.Stdout, res.Stderr, res.ExitCode, language, float64(duration.Milliseconds()))
	result.Metadata["backend"] = Name
	result.Metadata["container_id"] = containerID
	return result, nil
}

func (b *Backend) RunCommand(ctx context.Context, command string, timeout float64) (sandbox.ExecutionResult, error) {
	return b.Execute(ctx, command, sandbox.LanguageShell, timeout)
}

// CheckHealth runs `echo 'health_check_ok'` and looks for the token in
// stdout; latency is end-to-end wall time. Never returns an error.
func (b *Backend) CheckHealth(ctx context.Context) sandbox.HealthStatus {
	start := time.Now()
	containerID, err := b.requireStarted()
	if err != nil {
		return sandbox.HealthStatus{Status: sandbox.HealthUnhealthy, Message: err.Error(), Timestamp: time.Now()}
	}
	res, err := b.transport.exec(ctx, containerID, []string{"echo", "health_check_ok"}, "")
	latency := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil || !strings.Contains(res.Stdout, "health_check_ok") {
		msg := "health check token not found"
		if err != nil {
			msg = err.Error()
		}
		return sandbox.HealthStatus{Status: sandbox.HealthUnhealthy, Message: msg, LatencyMS: latency, Timestamp: time.Now()}
	}
	return sandbox.HealthStatus{Status: sandbox.HealthOK, Message: "ok", LatencyMS: latency, Timestamp: time.Now()}
}

func (b *Backend) ReadFile(ctx context.Context, path string) ([]byte, error) {
	containerID, err := b.requireStarted()
	if err != nil {
		return nil, err
	}
	data, err := b.transport.readFile(ctx, containerID, path)
	if err != nil {
		return nil, &sandbox.ExecutionError{ExitCode: 1, Stderr: err.Error()}
	}
	return data, nil
}

func (b *Backend) WriteFile(ctx context.Context, path string, data []byte) error {
	containerID, err := b.requireStarted()
	if err != nil {
		return err
	}
	if err := b.transport.writeFile(ctx, containerID, path, data); err != nil {
		return &sandbox.BackendError{Backend: Name, Err: err}
	}
	return nil
}

func (b *Backend) DeleteFile(ctx context.Context, path string) error {
	containerID, err := b.requireStarted()
	if err != nil {
		return err
	}
	if err := b.transport.removeFile(ctx, containerID, path); err != nil {
		return &sandbox.BackendError{Backend: Name, Err: err}
	}
	return nil
}

func (b *Backend) ListDirectory(ctx context.Context, path string) ([]sandbox.FileInfo, error) {
	containerID, err := b.requireStarted()
	if err != nil {
		return nil, err
	}
	raw, err := b.transport.listDir(ctx, containerID, path)
	if err != nil {
		return nil, &sandbox.ExecutionError{ExitCode: 1, Stderr: err.Error()}
	}
	return parseLsOutput(path, raw), nil
}

func (b *Backend) ListProcesses(ctx context.Context) ([]sandbox.ProcessInfo, error) {
	containerID, err := b.requireStarted()
	if err != nil {
		return nil, err
	}
	raw, err := b.transport.processes(ctx, containerID)
	if err != nil {
		return nil, &sandbox.BackendError{Backend: Name, Err: err}
	}
	return parsePsOutput(raw), nil
}

// KillProcess signals pid with the given signal, defaulting to SIGTERM (15)
// when signal is 0.
func (b *Backend) KillProcess(ctx context.Context, pid int, signal int) error {
	containerID, err := b.requireStarted()
	if err != nil {
		return err
	}
	if signal == 0 {
		signal = 15
	}
	if err := b.transport.killProcess(ctx, containerID, pid, signal); err != nil {
		return &sandbox.ResourceError{Resource: fmt.Sprintf("pid:%d", pid), Reason: err.Error()}
	}
	return nil
}
