// Package microvm implements the microVM sandbox backend: hardware-level
// isolation via an external microVM server the backend talks to but never
// manages. Grounded on original_source/agenticx/sandbox/backends/
// microsandbox.py, translated from its async Python SDK usage into a
// direct HTTP client (backend/microvm/client.go) since no Go SDK for this
// surface exists in the retrieval pack.
package microvm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agenticx/sandbox"
	"github.com/agenticx/sandbox/backend"
)

const Name = "microvm"

// DefaultImage mirrors microsandbox.py's default Docker image name.
const DefaultImage = "microsandbox/python"

// DefaultStartupTimeout is the default startup budget; image pulls on
// first use can be slow, so this defaults high and may be overridden by
// the template's startup timeout (the larger of the two wins).
const DefaultStartupTimeout = 300 * time.Second

// sessionHTTPTimeout is the total HTTP session timeout, generous enough to
// survive first-time image acquisition (§4.3.3: "≥ 10 minutes").
const sessionHTTPTimeout = 10 * time.Minute

func init() {
	backend.Register(Name, New)
}

// Backend runs code inside a microVM managed by an external server.
type Backend struct {
	tmpl      sandbox.Template
	serverURL string
	apiKey    string
	namespace string
	image     string
	id        string

	mu        sync.Mutex
	cli       *client
	sessionID string
	started   bool
}

// New constructs a microVM backend. Server URL and API key default from
// MSB_SERVER_URL / MSB_API_KEY when the template doesn't name them via
// tags; namespace defaults to "default" and isolates state between
// sandboxes.
func New(tmpl sandbox.Template) (backend.Backend, error) {
	serverURL := tmpl.Tags["server_url"]
	if serverURL == "" {
		serverURL = os.Getenv("MSB_SERVER_URL")
	}
	if serverURL == "" {
		serverURL = "http://127.0.0.1:5555"
	}
	apiKey := tmpl.Tags["api_key"]
	if apiKey == "" {
		apiKey = os.Getenv("MSB_API_KEY")
	}
	namespace := tmpl.Tags["namespace"]
	if namespace == "" {
		namespace = "default"
	}
	image := tmpl.Tags["image"]
	if image == "" {
		image = DefaultImage
	}

	return &Backend{
		tmpl:      tmpl,
		serverURL: serverURL,
		apiKey:    apiKey,
		namespace: namespace,
		image:     image,
		id:        uuid.NewString(),
	}, nil
}

func (b *Backend) Name() string { return Name }

func (b *Backend) startupTimeout() float64 {
	timeout := DefaultStartupTimeout.Seconds()
	if b.tmpl.StartupTimeout > timeout {
		timeout = b.tmpl.StartupTimeout
	}
	return timeout
}

// Start creates the HTTP session and the server-side code session. On any
// failure it cleans up the partially-created HTTP session and maps the
// underlying error into the taxonomy via mapError, exactly as
// microsandbox.py's start() does.
func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	log.Info().Str("backend", Name).Str("sandbox_id", b.id).Str("namespace", b.namespace).Msg("starting microVM sandbox")

	cli := newClient(b.serverURL, b.apiKey, b.namespace, sessionHTTPTimeout)

	startCtx, cancel := context.WithTimeout(ctx, time.Duration(b.startupTimeout()*float64(time.Second)))
	defer cancel()

	sessionID, err := cli.createSession(startCtx, b.image, b.tmpl.MemoryMB, b.tmpl.CPUCores, b.startupTimeout())
	if err != nil {
		cli.close()
		return mapError(err)
	}

	b.cli = cli
	b.sessionID = sessionID
	b.started = true
	log.Info().Str("backend", Name).Str("sandbox_id", b.id).Str("session_id", sessionID).Msg("microVM sandbox started")
	return nil
}

// Stop stops the session and closes the HTTP session. Errors are logged
// and swallowed; status always reaches STOPPED.
func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	if b.cli != nil {
		if err := b.cli.deleteSession(ctx, b.sessionID); err != nil {
			log.Warn().Str("backend", Name).Str("session_id", b.sessionID).Err(err).Msg("failed to delete microVM session")
		}
		b.cli.close()
		b.cli = nil
	}
	b.started = false
	return nil
}

func (b *Backend) requireStarted() (*client, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started || b.cli == nil {
		return nil, "", &sandbox.NotReadyError{SandboxID: b.id, Status: sandbox.StatusPending}
	}
	return b.cli, b.sessionID, nil
}

// Execute submits Python code to the stateful code session (variables
// persist for the namespace's lifetime) or shell commands to the command
// session.
func (b *Backend) Execute(ctx context.Context, code string, language sandbox.Language, timeout float64) (sandbox.ExecutionResult, error) {
	cli, sessionID, err := b.requireStarted()
	if err != nil {
		return sandbox.ExecutionResult{}, err
	}

	budget := timeout
	if budget <= 0 {
		budget = b.tmpl.ExecutionTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, time.Duration(budget*float64(time.Second)))
	defer cancel()

	start := time.Now()
	var result sandbox.ExecutionResult
	switch language {
	case sandbox.LanguagePython:
		resp, rerr := cli.runCode(execCtx, sessionID, code)
		if rerr != nil {
			if execCtx.Err() != nil {
				return sandbox.ExecutionResult{}, &sandbox.TimeoutError{Op: "execute", BudgetSeconds: budget}
			}
			return sandbox.ExecutionResult{}, mapError(rerr)
		}
		exitCode := 0
		if resp.HasError {
			exitCode = 1
		}
		result = sandbox.NewExecutionResult(resp.Stdout, resp.Stderr, exitCode, language, 0)
	case sandbox.LanguageShell, sandbox.LanguageBash:
		resp, rerr := cli.runCommand(execCtx, sessionID, code)
		if rerr != nil {
			if execCtx.Err() != nil {
				return sandbox.ExecutionResult{}, &sandbox.TimeoutError{Op: "execute", BudgetSeconds: budget}
			}
			return sandbox.ExecutionResult{}, mapError(rerr)
		}
		result = sandbox.NewExecutionResult(resp.Stdout, resp.Stderr, resp.ExitCode, language, 0)
	default:
		return sandbox.ExecutionResult{}, sandbox.ErrUnsupportedLanguage
	}

	result.DurationMS = float64(time.Since(start).Milliseconds())
	result.Metadata["backend"] = Name
	result.Metadata["namespace"] = b.namespace
	return result, nil
}

func (b *Backend) RunCommand(ctx context.Context, command string, timeout float64) (sandbox.ExecutionResult, error) {
	return b.Execute(ctx, command, sandbox.LanguageShell, timeout)
}

// CheckHealth runs a trivial print and checks for its output, matching
// microsandbox.py's check_health.
func (b *Backend) CheckHealth(ctx context.Context) sandbox.HealthStatus {
	start := time.Now()
	if !b.isStarted() {
		return sandbox.HealthStatus{Status: sandbox.HealthUnhealthy, Message: "sandbox is not running", Timestamp: time.Now()}
	}
	result, err := b.Execute(ctx, "print('ok')", sandbox.LanguagePython, 5)
	latency := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		return sandbox.HealthStatus{Status: sandbox.HealthUnhealthy, Message: err.Error(), LatencyMS: latency, Timestamp: time.Now()}
	}
	if !result.Success || !strings.Contains(result.Stdout, "ok") {
		return sandbox.HealthStatus{Status: sandbox.HealthUnhealthy, Message: fmt.Sprintf("health check failed: %s", result.Stderr), LatencyMS: latency, Timestamp: time.Now()}
	}
	return sandbox.HealthStatus{Status: sandbox.HealthOK, Message: "ok", LatencyMS: latency, Timestamp: time.Now()}
}

func (b *Backend) isStarted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// jsonFileOpResult is the common shape of the inline Python snippets' JSON
// output, matching microsandbox.py's read/write/list helpers.
type jsonFileOpResult struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Content string            `json:"content"`
	Files   []jsonFileOpEntry `json:"files"`
}

type jsonFileOpEntry struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	IsDir       bool   `json:"is_dir"`
	Permissions string `json:"permissions"`
}

// runJSONSnippet executes a Python snippet that prints exactly one JSON
// line and parses it, the pattern microsandbox.py uses for every file
// operation because the base image lacks shell tools.
func (b *Backend) runJSONSnippet(ctx context.Context, snippet string) (jsonFileOpResult, error) {
	cli, sessionID, err := b.requireStarted()
	if err != nil {
		return jsonFileOpResult{}, err
	}
	resp, err := cli.runCode(ctx, sessionID, snippet)
	if err != nil {
		return jsonFileOpResult{}, mapError(err)
	}
	if resp.HasError {
		return jsonFileOpResult{}, &sandbox.ExecutionError{ExitCode: 1, Stderr: resp.Stderr}
	}
	var result jsonFileOpResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Stdout)), &result); err != nil {
		return jsonFileOpResult{}, &sandbox.BackendError{Backend: Name, Err: fmt.Errorf("parsing file-op output: %w", err)}
	}
	return result, nil
}

func pyRepr(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `'`, `\'`)
	return "'" + escaped + "'"
}

func (b *Backend) ReadFile(ctx context.Context, path string) ([]byte, error) {
	snippet := fmt.Sprintf(`
import json
try:
    with open(%s, 'r') as f:
        content = f.read()
    print(json.dumps({"success": True, "content": content}))
except FileNotFoundError:
    print(json.dumps({"success": False, "error": "FileNotFoundError"}))
except Exception as e:
    print(json.dumps({"success": False, "error": str(e)}))
`, pyRepr(path))

	res, err := b.runJSONSnippet(ctx, snippet)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &sandbox.ExecutionError{ExitCode: 1, Stderr: fmt.Sprintf("file not found: %s (%s)", path, res.Error)}
	}
	return []byte(res.Content), nil
}

func (b *Backend) WriteFile(ctx context.Context, path string, data []byte) error {
	encoded := b64Encode(data)
	snippet := fmt.Sprintf(`
import base64, os, json
try:
    content = base64.b64decode(%s).decode('utf-8')
    os.makedirs(os.path.dirname(%s) or '.', exist_ok=True)
    with open(%s, 'w') as f:
        f.write(content)
    print(json.dumps({"success": True}))
except Exception as e:
    print(json.dumps({"success": False, "error": str(e)}))
`, pyRepr(encoded), pyRepr(path), pyRepr(path))

	res, err := b.runJSONSnippet(ctx, snippet)
	if err != nil {
		return err
	}
	if !res.Success {
		return &sandbox.ExecutionError{ExitCode: 1, Stderr: fmt.Sprintf("failed to write file %s: %s", path, res.Error)}
	}
	return nil
}

func (b *Backend) DeleteFile(ctx context.Context, path string) error {
	snippet := fmt.Sprintf(`
import os, shutil, json
try:
    if os.path.isdir(%s):
        shutil.rmtree(%s)
    else:
        os.remove(%s)
    print(json.dumps({"success": True}))
except Exception as e:
    print(json.dumps({"success": False, "error": str(e)}))
`, pyRepr(path), pyRepr(path), pyRepr(path))

	res, err := b.runJSONSnippet(ctx, snippet)
	if err != nil {
		return err
	}
	if !res.Success {
		return &sandbox.ExecutionError{ExitCode: 1, Stderr: fmt.Sprintf("failed to delete %s: %s", path, res.Error)}
	}
	return nil
}

func (b *Backend) ListDirectory(ctx context.Context, path string) ([]sandbox.FileInfo, error) {
	snippet := fmt.Sprintf(`
import os, stat, json
try:
    path = %s
    files = []
    for name in os.listdir(path):
        full_path = os.path.join(path, name)
        try:
            st = os.stat(full_path)
            files.append({"path": full_path, "size": st.st_size, "is_dir": stat.S_ISDIR(st.st_mode), "permissions": stat.filemode(st.st_mode)})
        except Exception:
            files.append({"path": full_path, "size": 0, "is_dir": False, "permissions": ""})
    print(json.dumps({"success": True, "files": files}))
except FileNotFoundError:
    print(json.dumps({"success": False, "error": "Directory not found"}))
except Exception as e:
    print(json.dumps({"success": False, "error": str(e)}))
`, pyRepr(path))

	res, err := b.runJSONSnippet(ctx, snippet)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &sandbox.ExecutionError{ExitCode: 1, Stderr: fmt.Sprintf("directory not found: %s (%s)", path, res.Error)}
	}
	infos := make([]sandbox.FileInfo, 0, len(res.Files))
	for _, f := range res.Files {
		infos = append(infos, sandbox.FileInfo{Path: f.Path, SizeBytes: f.Size, IsDir: f.IsDir, Permissions: f.Permissions})
	}
	return infos, nil
}

// ListProcesses reads /proc/<pid>/cmdline in Python, per §4.3.3.
func (b *Backend) ListProcesses(ctx context.Context) ([]sandbox.ProcessInfo, error) {
	snippet := `
import os, json
procs = []
for entry in os.listdir('/proc'):
    if not entry.isdigit():
        continue
    pid = int(entry)
    try:
        with open(f'/proc/{pid}/cmdline', 'rb') as f:
            cmdline = f.read().replace(b'\x00', b' ').decode('utf-8', errors='replace').strip()
        procs.append({"pid": pid, "command": cmdline})
    except Exception:
        continue
print(json.dumps({"success": True, "procs": procs}))
`
	cli, sessionID, err := b.requireStarted()
	if err != nil {
		return nil, err
	}
	resp, err := cli.runCode(ctx, sessionID, snippet)
	if err != nil {
		return nil, mapError(err)
	}
	if resp.HasError {
		return nil, &sandbox.BackendError{Backend: Name, Err: fmt.Errorf("%s", resp.Stderr)}
	}
	var parsed struct {
		Success bool `json:"success"`
		Procs   []struct {
			PID     int    `json:"pid"`
			Command string `json:"command"`
		} `json:"procs"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Stdout)), &parsed); err != nil {
		return nil, &sandbox.BackendError{Backend: Name, Err: fmt.Errorf("parsing process listing: %w", err)}
	}
	procs := make([]sandbox.ProcessInfo, 0, len(parsed.Procs))
	for _, p := range parsed.Procs {
		procs = append(procs, sandbox.ProcessInfo{PID: p.PID, Command: p.Command, Status: sandbox.StatusRunning})
	}
	return procs, nil
}

func (b *Backend) KillProcess(ctx context.Context, pid int, signal int) error {
	if signal == 0 {
		signal = 15
	}
	snippet := fmt.Sprintf(`
import os, signal, json
try:
    os.kill(%d, %d)
    print(json.dumps({"success": True}))
except Exception as e:
    print(json.dumps({"success": False, "error": str(e)}))
`, pid, signal)
	res, err := b.runJSONSnippet(ctx, snippet)
	if err != nil {
		return err
	}
	if !res.Success {
		return &sandbox.ResourceError{Resource: fmt.Sprintf("pid:%d", pid), Reason: res.Error}
	}
	return nil
}

// Metrics exposes the microVM-unique resource metrics: CPU percent, memory
// MiB, disk bytes, and a running flag.
func (b *Backend) Metrics(ctx context.Context) (map[string]any, error) {
	cli, sessionID, err := b.requireStarted()
	if err != nil {
		return nil, err
	}
	m, err := cli.metrics(ctx, sessionID)
	if err != nil {
		log.Warn().Str("backend", Name).Err(err).Msg("failed to get microVM metrics")
		return map[string]any{
			"cpu_percent": nil,
			"memory_mb":   nil,
			"disk_bytes":  nil,
			"is_running":  b.isStarted(),
		}, nil
	}
	return map[string]any{
		"cpu_percent": m.CPUPercent,
		"memory_mb":   m.MemoryMB,
		"disk_bytes":  m.DiskBytes,
		"is_running":  m.IsRunning,
	}, nil
}

// mapError implements microsandbox.py's _map_error verbatim: timeout-kind
// errors become a timeout error; "not started" substrings become
// not-ready; "execute"/"execution" substrings become an execution error;
// everything else becomes a backend error named "microVM".
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return &sandbox.TimeoutError{Op: "microvm", BudgetSeconds: 0}
	case strings.Contains(msg, "not started"):
		return &sandbox.NotReadyError{}
	case strings.Contains(msg, "execute") || strings.Contains(msg, "execution"):
		return &sandbox.ExecutionError{ExitCode: 1, Stderr: err.Error()}
	default:
		return &sandbox.BackendError{Backend: "microVM", Err: err}
	}
}

func b64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
