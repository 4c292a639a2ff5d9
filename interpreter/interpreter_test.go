package interpreter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticx/sandbox"
)

func TestInterpreter_Start_NoBackendConfigured_ReturnsKernelNotAvailable(t *testing.T) {
	i := New(Config{UseJupyter: false})
	err := i.Start(context.Background())
	assert.ErrorIs(t, err, sandbox.ErrKernelNotAvailable)
}

func TestInterpreter_Start_DaemonUnreachable_FallsBackToKernel(t *testing.T) {
	i := New(Config{DaemonEndpoint: "http://127.0.0.1:1", UseJupyter: true})
	err := i.Start(context.Background())
	require.NoError(t, err)
	defer i.Stop(context.Background())
	assert.Equal(t, BackendKernel, i.BackendName())
}

func TestInterpreter_Execute_BeforeStart_ReturnsNotReady(t *testing.T) {
	i := New(Config{UseJupyter: true})
	_, err := i.Execute(context.Background(), "1+1", 0)
	var notReady *sandbox.NotReadyError
	assert.ErrorAs(t, err, &notReady)
}

func TestInterpreter_KernelBackend_PersistsStateAcrossCalls(t *testing.T) {
	i := New(Config{UseJupyter: true, ExecutionTimeoutSeconds: 5})
	require.NoError(t, i.Start(context.Background()))
	defer i.Stop(context.Background())

	_, err := i.Execute(context.Background(), "x = 1 + 1", 0)
	require.NoError(t, err)

	result, err := i.Execute(context.Background(), "print(x)", 0)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Stdout, "2")
}

func TestInterpreter_KernelBackend_CapturesException(t *testing.T) {
	i := New(Config{UseJupyter: true, ExecutionTimeoutSeconds: 5})
	require.NoError(t, i.Start(context.Background()))
	defer i.Stop(context.Background())

	result, err := i.Execute(context.Background(), "raise ValueError('bad')", 0)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Stderr, "ValueError")
}

func TestInterpreter_Reset_ClearsState(t *testing.T) {
	i := New(Config{UseJupyter: true, ExecutionTimeoutSeconds: 5})
	require.NoError(t, i.Start(context.Background()))
	defer i.Stop(context.Background())

	_, err := i.Execute(context.Background(), "y = 99", 0)
	require.NoError(t, err)

	require.NoError(t, i.Reset(context.Background()))

	result, err := i.Execute(context.Background(), "print(y)", 0)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Stderr, "NameError")
}
