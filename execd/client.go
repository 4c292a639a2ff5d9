package execd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agenticx/sandbox"
)

// Client is an HTTP client for an in-sandbox execd daemon. One Client owns
// one http.Client (and therefore one connection pool); concurrent calls are
// permitted (net/http multiplexes), but Connect/Close are serialized by mu
// per §5's "creating/closing the session is serialized" rule.
type Client struct {
	endpoint   string
	token      string
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client

	mu        sync.Mutex
	connected bool
	contexts  map[string]CodeContext
}

// Option configures a Client at construction.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithMaxRetries overrides the default retry budget (3).
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryDelay overrides the default linear-backoff base delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithHTTPTimeout overrides the client-level HTTP timeout (default 30s).
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New constructs a client pointed at endpoint (e.g. "http://127.0.0.1:44772").
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		contexts:   make(map[string]CodeContext),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the daemon base URL this client talks to.
func (c *Client) Endpoint() string { return c.endpoint }

// Connect verifies the daemon is reachable. Other calls do not require it
// (none of them checks the connected flag) but it lets callers fail fast at
// setup time, mirroring execd.py's explicit connect().
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.doRequest(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return err
	}
	c.connected = true
	return nil
}

// Close marks the client disconnected. The underlying http.Client's
// connection pool is left for Go's transport to reclaim; there is no
// explicit "session" object to close, unlike the Python SDK's aiohttp
// session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// doRequest performs one HTTP round trip with linear-backoff retry, only on
// connection/timeout-class failures, exactly as execd.py's _request: a
// non-2xx response is NOT retried and is surfaced to the caller as a
// regular (body, error) pair rather than a DaemonConnectionError, so the
// caller can turn it into a synthetic failed result.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, query url.Values) ([]byte, error) {
	var bodyBytes []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("sandbox/execd: encoding request body: %w", err)
		}
		bodyBytes = encoded
	}

	fullURL := c.endpoint + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, fmt.Errorf("sandbox/execd: building request: %w", err)
		}
		req.Header = c.headers().Clone()

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries-1 {
				log.Warn().Str("endpoint", path).Int("attempt", attempt+1).Err(err).Msg("execd request failed, retrying")
				select {
				case <-time.After(c.retryDelay * time.Duration(attempt+1)):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				continue
			}
			break
		}

		defer resp.Body.Close()
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			lastErr = readErr
			break
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// Non-2xx is not a connection failure: surface it directly so
			// the caller can build a synthetic failed result rather than
			// retrying or raising a connection error.
			return respBody, &httpStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		}
		return respBody, nil
	}

	return nil, &sandbox.DaemonConnectionError{Endpoint: path, Attempts: c.maxRetries, Err: lastErr}
}

// httpStatusError marks a non-2xx HTTP response; it is handled internally
// (turned into a synthetic failed result) and never escapes the package's
// exported surface as-is.
type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("execd responded %d: %s", e.StatusCode, e.Body)
}

// Ping reports whether the daemon is reachable and healthy, swallowing
// every error into a bool, matching execd.py's ping().
func (c *Client) Ping(ctx context.Context) bool {
	body, err := c.doRequest(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return false
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	return resp.Status == "ok"
}

// GetHealth returns the raw health payload.
func (c *Client) GetHealth(ctx context.Context) (map[string]any, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return nil, asDaemonError(err, "/health")
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("sandbox/execd: decoding health response: %w", err)
	}
	return out, nil
}

// ExecuteCode runs code non-streaming. Connection failures become a
// DaemonConnectionError; any other failure (including a non-2xx response)
// becomes a CodeExecutionResult with success=false, exit_code=1,
// stderr=<error text> — never an error — so callers can tell "daemon died"
// from "code failed" by error type versus result content.
func (c *Client) ExecuteCode(ctx context.Context, code, language, contextID string, timeoutMS int) (CodeExecutionResult, error) {
	start := time.Now()
	payload := map[string]any{"code": code, "language": language}
	if contextID != "" {
		payload["context_id"] = contextID
	}
	if timeoutMS > 0 {
		payload["timeout_ms"] = timeoutMS
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/code", payload, nil)
	duration := float64(time.Since(start).Milliseconds())
	if err != nil {
		var connErr *sandbox.DaemonConnectionError
		if isDaemonConnectionError(err, &connErr) {
			return CodeExecutionResult{}, connErr
		}
		return CodeExecutionResult{
			Stderr:     err.Error(),
			ExitCode:   1,
			Success:    false,
			DurationMS: duration,
			ContextID:  contextID,
			Language:   language,
		}, nil
	}

	var raw struct {
		Logs struct {
			Stdout []logLine `json:"stdout"`
			Stderr []logLine `json:"stderr"`
		} `json:"logs"`
		Result    []logLine      `json:"result"`
		ExitCode  int            `json:"exit_code"`
		ContextID string         `json:"context_id"`
		Metadata  map[string]any `json:"-"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return CodeExecutionResult{
			Stderr:     fmt.Sprintf("decoding /code response: %v", err),
			ExitCode:   1,
			Success:    false,
			DurationMS: duration,
			ContextID:  contextID,
			Language:   language,
		}, nil
	}
	var metadata map[string]any
	_ = json.Unmarshal(body, &metadata)

	stdout := joinLogLines(raw.Logs.Stdout)
	stderr := joinLogLines(raw.Logs.Stderr)
	result := ""
	if len(raw.Result) > 0 {
		result = raw.Result[0].Text
	}
	cid := contextID
	if cid == "" {
		cid = raw.ContextID
	}

	return CodeExecutionResult{
		Stdout:     stdout,
		Stderr:     stderr,
		Result:     result,
		ExitCode:   raw.ExitCode,
		Success:    raw.ExitCode == 0,
		DurationMS: duration,
		ContextID:  cid,
		Language:   language,
		Metadata:   metadata,
	}, nil
}

type logLine struct {
	Text string `json:"text"`
}

func joinLogLines(lines []logLine) string {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l.Text)
	}
	return buf.String()
}

// CreateContext creates a stateful execution context and caches it by id.
func (c *Client) CreateContext(ctx context.Context, language string) (CodeContext, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/code/context", map[string]any{"language": language}, nil)
	if err != nil {
		return CodeContext{}, asDaemonError(err, "/code/context")
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return CodeContext{}, fmt.Errorf("sandbox/execd: decoding context response: %w", err)
	}
	id, _ := raw["context_id"].(string)
	if id == "" {
		id, _ = raw["id"].(string)
	}
	created, _ := raw["created_at"].(string)
	cc := CodeContext{ContextID: id, Language: language, CreatedAt: created, Metadata: raw}

	c.mu.Lock()
	c.contexts[id] = cc
	c.mu.Unlock()
	return cc, nil
}

// DeleteContext removes a context from the daemon and the client cache.
func (c *Client) DeleteContext(ctx context.Context, contextID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/code/context/"+contextID, nil, nil)
	if err != nil {
		return asDaemonError(err, "/code/context/"+contextID)
	}
	c.mu.Lock()
	delete(c.contexts, contextID)
	c.mu.Unlock()
	return nil
}

// ListContexts lists every context currently known to the daemon.
func (c *Client) ListContexts(ctx context.Context) ([]CodeContext, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/code/context", nil, nil)
	if err != nil {
		return nil, asDaemonError(err, "/code/context")
	}
	var raw struct {
		Contexts []map[string]any `json:"contexts"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("sandbox/execd: decoding context list: %w", err)
	}
	contexts := make([]CodeContext, 0, len(raw.Contexts))
	for _, item := range raw.Contexts {
		id, _ := item["context_id"].(string)
		if id == "" {
			id, _ = item["id"].(string)
		}
		lang, _ := item["language"].(string)
		if lang == "" {
			lang = "python"
		}
		created, _ := item["created_at"].(string)
		contexts = append(contexts, CodeContext{ContextID: id, Language: lang, CreatedAt: created, Metadata: item})
	}
	return contexts, nil
}

// RunCommand runs a shell command, foreground or background.
func (c *Client) RunCommand(ctx context.Context, command string, background bool, timeoutMS int, cwd string, env map[string]string) (CommandExecutionResult, error) {
	start := time.Now()
	payload := map[string]any{"command": command, "background": background}
	if timeoutMS > 0 {
		payload["timeout_ms"] = timeoutMS
	}
	if cwd != "" {
		payload["cwd"] = cwd
	}
	if len(env) > 0 {
		payload["env"] = env
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/command", payload, nil)
	duration := float64(time.Since(start).Milliseconds())
	if err != nil {
		var connErr *sandbox.DaemonConnectionError
		if isDaemonConnectionError(err, &connErr) {
			return CommandExecutionResult{}, connErr
		}
		return CommandExecutionResult{
			Stderr:     err.Error(),
			ExitCode:   1,
			Success:    false,
			DurationMS: duration,
			Background: background,
		}, nil
	}

	var raw struct {
		Logs struct {
			Stdout []logLine `json:"stdout"`
			Stderr []logLine `json:"stderr"`
		} `json:"logs"`
		ExitCode int `json:"exit_code"`
		PID      int `json:"pid"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return CommandExecutionResult{
			Stderr:     fmt.Sprintf("decoding /command response: %v", err),
			ExitCode:   1,
			Success:    false,
			DurationMS: duration,
			Background: background,
		}, nil
	}
	var metadata map[string]any
	_ = json.Unmarshal(body, &metadata)

	return CommandExecutionResult{
		Stdout:     joinLogLines(raw.Logs.Stdout),
		Stderr:     joinLogLines(raw.Logs.Stderr),
		ExitCode:   raw.ExitCode,
		Success:    raw.ExitCode == 0,
		DurationMS: duration,
		PID:        raw.PID,
		Background: background,
		Metadata:   metadata,
	}, nil
}

// KillCommand terminates a background command, swallowing any error into a
// bool per execd.py's kill_command.
func (c *Client) KillCommand(ctx context.Context, pid int, signal int) bool {
	_, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/command/%d/kill", pid), map[string]any{"signal": signal}, nil)
	return err == nil
}

// ReadFile reads a file's content as a string.
func (c *Client) ReadFile(ctx context.Context, path string) (string, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/files", nil, url.Values{"path": {path}})
	if err != nil {
		return "", asDaemonError(err, "/files")
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("sandbox/execd: decoding file response: %w", err)
	}
	if content, ok := raw["content"].(string); ok {
		return content, nil
	}
	if data, ok := raw["data"].(string); ok {
		return data, nil
	}
	return "", nil
}

// WriteFile writes a single file.
func (c *Client) WriteFile(ctx context.Context, path, content string, mode int) error {
	payload := map[string]any{
		"files": []map[string]any{
			{"path": path, "data": content, "mode": mode},
		},
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/files", payload, nil)
	if err != nil {
		return asDaemonError(err, "/files")
	}
	return nil
}

// ListDirectory lists a directory's contents, optionally recursively.
func (c *Client) ListDirectory(ctx context.Context, path string, recursive bool) ([]FileEntry, error) {
	query := url.Values{"path": {path}}
	if recursive {
		query.Set("recursive", "true")
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/files/list", nil, query)
	if err != nil {
		return nil, asDaemonError(err, "/files/list")
	}
	var raw struct {
		Files   []map[string]any `json:"files"`
		Entries []map[string]any `json:"entries"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("sandbox/execd: decoding directory listing: %w", err)
	}
	items := raw.Files
	if len(items) == 0 {
		items = raw.Entries
	}
	entries := make([]FileEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, entryFromMap(item))
	}
	return entries, nil
}

func entryFromMap(item map[string]any) FileEntry {
	path, _ := item["path"].(string)
	name, _ := item["name"].(string)
	var size int64
	switch v := item["size"].(type) {
	case float64:
		size = int64(v)
	}
	isDir, _ := item["is_dir"].(bool)
	if !isDir {
		isDir, _ = item["isDir"].(bool)
	}
	mode := 0o644
	if m, ok := item["mode"].(float64); ok {
		mode = int(m)
	}
	modifiedAt, _ := item["modified_at"].(string)
	if modifiedAt == "" {
		modifiedAt, _ = item["modifiedAt"].(string)
	}
	return FileEntry{Path: path, Name: name, Size: size, IsDir: isDir, Mode: mode, ModifiedAt: modifiedAt}
}

// DeleteFile deletes a file or directory at path.
func (c *Client) DeleteFile(ctx context.Context, path string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/files", nil, url.Values{"path": {path}})
	if err != nil {
		return asDaemonError(err, "/files")
	}
	return nil
}

// Mkdir creates a directory.
func (c *Client) Mkdir(ctx context.Context, path string, mode int) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/files/mkdir", map[string]any{"path": path, "mode": mode}, nil)
	if err != nil {
		return asDaemonError(err, "/files/mkdir")
	}
	return nil
}

// GetMetrics returns the daemon's free-form metrics map.
func (c *Client) GetMetrics(ctx context.Context) (map[string]any, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/metrics", nil, nil)
	if err != nil {
		return nil, asDaemonError(err, "/metrics")
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("sandbox/execd: decoding metrics: %w", err)
	}
	return out, nil
}

func isDaemonConnectionError(err error, target **sandbox.DaemonConnectionError) bool {
	if e, ok := err.(*sandbox.DaemonConnectionError); ok {
		*target = e
		return true
	}
	return false
}

// asDaemonError turns a non-connection doRequest failure into a
// DaemonExecutionError for calls that have no "synthetic result" shape to
// fall back to (context/file/metrics operations, unlike /code and /command
// which return structured results even on failure).
func asDaemonError(err error, endpoint string) error {
	if connErr, ok := err.(*sandbox.DaemonConnectionError); ok {
		return connErr
	}
	return &sandbox.DaemonExecutionError{Endpoint: endpoint, Message: err.Error()}
}
