package execd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticx/sandbox"
)

func TestClient_ConnectAndPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Ping(context.Background()))
}

func TestClient_ExecuteCode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/code", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"logs": map[string]any{
				"stdout": []map[string]string{{"text": "hi\n"}},
				"stderr": []map[string]string{},
			},
			"exit_code":  0,
			"context_id": "ctx-1",
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.ExecuteCode(context.Background(), "print('hi')", "python", "", 0)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hi\n", result.Stdout)
	assert.Equal(t, "ctx-1", result.ContextID)
	assert.Equal(t, "hi\n", result.Output())
}

func TestClient_ExecuteCode_NonSuccessBecomesFailedResult_NotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.ExecuteCode(context.Background(), "1/0", "python", "", 0)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ExitCode)
	assert.NotEmpty(t, result.Stderr)
}

func TestClient_ExecuteCode_ConnectionFailure_ReturnsDaemonConnectionError(t *testing.T) {
	c := New("http://127.0.0.1:1", WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	_, err := c.ExecuteCode(context.Background(), "1", "python", "", 0)
	var connErr *sandbox.DaemonConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 2, connErr.Attempts)
}

func TestClient_CreateAndDeleteContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/code/context":
			json.NewEncoder(w).Encode(map[string]string{"context_id": "ctx-42"})
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()
	created, err := c.CreateContext(ctx, "python")
	require.NoError(t, err)
	assert.Equal(t, "ctx-42", created.ContextID)

	require.NoError(t, c.DeleteContext(ctx, created.ContextID))
}

func TestClient_FileOperation_NonConnectionErrorBecomesDaemonExecutionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.ReadFile(context.Background(), "/missing")
	var execErr *sandbox.DaemonExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestClient_TokenSentAsBearerHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("secret-token"))
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, "Bearer secret-token", gotAuth)
}
