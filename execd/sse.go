package execd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agenticx/sandbox"
)

// sseEvent is one parsed `data: <json>` frame. Lines that don't parse as
// JSON are tolerated per §6 and surfaced with Raw set instead of erroring
// the whole stream. httpStatus is set out-of-band by the reader goroutine
// when the response itself is non-2xx, before any frame is emitted.
type sseEvent struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	ExitCode   int    `json:"exit_code"`
	Raw        string `json:"-"`
	httpStatus int
}

// ExecuteCodeStream runs code with SSE streaming enabled and aggregates the
// stdout/stderr/result/exit events into a CodeExecutionResult, exactly as
// execd.py's execute_code(..., stream=True) does. The HTTP round trip and
// the frame-by-frame scan run in an errgroup goroutine, fanning events into
// a channel that this function drains and aggregates as frames arrive, so
// it does not wait for the whole body first; it returns only the final
// aggregated result. Connection failures become a DaemonConnectionError;
// the client does not retry a stream that has already started (retrying
// risks re-executing code with side effects), matching the "retry before
// commit, never after" spirit of the non-streaming retry policy.
func (c *Client) ExecuteCodeStream(ctx context.Context, code, language, contextID string, timeoutMS int) (CodeExecutionResult, error) {
	start := time.Now()
	payload := map[string]any{"code": code, "language": language}
	if contextID != "" {
		payload["context_id"] = contextID
	}
	if timeoutMS > 0 {
		payload["timeout_ms"] = timeoutMS
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return CodeExecutionResult{}, fmt.Errorf("sandbox/execd: encoding stream request: %w", err)
	}

	group, gctx := errgroup.WithContext(ctx)
	events := make(chan sseEvent, 32)

	group.Go(func() error {
		defer close(events)

		req, err := http.NewRequestWithContext(gctx, http.MethodPost, c.endpoint+"/code", strings.NewReader(string(body)))
		if err != nil {
			return fmt.Errorf("sandbox/execd: building stream request: %w", err)
		}
		req.Header = c.headers().Clone()
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			events <- sseEvent{httpStatus: resp.StatusCode}
			return nil
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			select {
			case events <- parseSSELine(data):
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return scanner.Err()
	})

	var stdout, stderr, result strings.Builder
	exitCode := 0
	httpStatus := 0
	for event := range events {
		if event.httpStatus != 0 {
			httpStatus = event.httpStatus
			continue
		}
		switch event.Type {
		case "stdout":
			stdout.WriteString(event.Text)
		case "stderr":
			stderr.WriteString(event.Text)
		case "result":
			result.WriteString(event.Text)
		case "exit":
			exitCode = event.ExitCode
		}
	}

	if err := group.Wait(); err != nil {
		return CodeExecutionResult{}, &sandbox.DaemonConnectionError{Endpoint: "/code", Attempts: 1, Err: err}
	}

	if httpStatus != 0 {
		return CodeExecutionResult{
			Stderr:     fmt.Sprintf("execd responded %d to streaming /code", httpStatus),
			ExitCode:   1,
			Success:    false,
			DurationMS: float64(time.Since(start).Milliseconds()),
			ContextID:  contextID,
			Language:   language,
		}, nil
	}

	return CodeExecutionResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Result:     result.String(),
		ExitCode:   exitCode,
		Success:    exitCode == 0,
		DurationMS: float64(time.Since(start).Milliseconds()),
		ContextID:  contextID,
		Language:   language,
	}, nil
}

// parseSSELine decodes one `data:` payload. A non-JSON payload is tolerated
// per §6 ("the client must tolerate data: lines without JSON") and
// returned with Raw set rather than dropped or erroring the stream.
func parseSSELine(data string) sseEvent {
	var event sseEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return sseEvent{Type: "raw", Raw: data}
	}
	return event
}
