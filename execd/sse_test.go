package execd

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteCodeStream_AggregatesEventsAndTeratesNonJSONLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		frames := []string{
			`data: {"type":"stdout","text":"hel"}`,
			`data: {"type":"stdout","text":"lo\n"}`,
			`data: not-json-at-all`,
			`data: {"type":"exit","exit_code":0}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "%s\n\n", f)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.ExecuteCodeStream(context.Background(), "print('hello')", "python", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.True(t, result.Success)
}

func TestExecuteCodeStream_NonSuccessStatus_BecomesFailedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.ExecuteCodeStream(context.Background(), "x", "python", "", 0)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ExitCode)
}

func TestParseSSELine_NonJSON_ReturnsRawEvent(t *testing.T) {
	event := parseSSELine("plain text, not json")
	assert.Equal(t, "raw", event.Type)
	assert.Equal(t, "plain text, not json", event.Raw)
}
