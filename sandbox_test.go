package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/agenticx/sandbox/backend/local"
)

func testTemplate() Template {
	tmpl := DefaultTemplate()
	tmpl.Backend = "local"
	tmpl.ExecutionTimeout = 5
	return tmpl
}

func TestSandbox_StartRunStop(t *testing.T) {
	ctx := context.Background()
	s := New(testTemplate())
	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)

	assert.Equal(t, StatusRunning, s.Status())
	result, err := s.RunShell(ctx, "echo hi", 0)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.EqualValues(t, 1, s.ExecutionCount())
	assert.Len(t, s.History(), 1)
}

func TestSandbox_DoubleStart_ReturnsAlreadyStarted(t *testing.T) {
	ctx := context.Background()
	s := New(testTemplate())
	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)

	err := s.Start(ctx)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestSandbox_RunBeforeStart_WithoutAutoRestart_ReturnsNotReady(t *testing.T) {
	s := New(testTemplate())
	_, err := s.Run(context.Background(), "echo hi", LanguageShell, 0)
	var notReady *NotReadyError
	assert.ErrorAs(t, err, &notReady)
}

func TestSandbox_RunBeforeStart_WithAutoRestart_StartsLazily(t *testing.T) {
	ctx := context.Background()
	s := New(testTemplate(), WithAutoRestart(true))
	defer s.Stop(ctx)

	result, err := s.Run(ctx, "echo hi", LanguageShell, 0)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StatusRunning, s.Status())
}

func TestSandbox_Restart_ResetsUptimeButKeepsHistory(t *testing.T) {
	ctx := context.Background()
	s := New(testTemplate())
	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)

	_, err := s.RunShell(ctx, "echo hi", 0)
	require.NoError(t, err)
	require.NoError(t, s.Restart(ctx))

	assert.Equal(t, StatusRunning, s.Status())
	assert.EqualValues(t, 1, s.ExecutionCount())
}

func TestSandbox_HealthCheck_UnhealthyBeforeStart(t *testing.T) {
	s := New(testTemplate())
	assert.False(t, s.HealthCheck(context.Background()).IsHealthy())
}

func TestExecuteCode_OneShotConvenience(t *testing.T) {
	result, err := ExecuteCode(context.Background(), testTemplate(), "echo one-shot", LanguageShell, 0)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Stdout, "one-shot")
}
