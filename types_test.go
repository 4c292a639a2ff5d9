package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewExecutionResult_SuccessDerivedFromExitCode(t *testing.T) {
	ok := NewExecutionResult("out", "", 0, LanguagePython, 12.5)
	assert.True(t, ok.Success)

	failed := NewExecutionResult("", "boom", 1, LanguagePython, 4.0)
	assert.False(t, failed.Success)
}

func TestNewExecutionResult_MetadataInitialized(t *testing.T) {
	result := NewExecutionResult("", "", 0, LanguageShell, 0)
	assert.NotNil(t, result.Metadata)
	result.Metadata["k"] = "v"
	assert.Equal(t, "v", result.Metadata["k"])
}

func TestHealthStatus_IsHealthy(t *testing.T) {
	assert.True(t, HealthStatus{Status: HealthOK}.IsHealthy())
	assert.False(t, HealthStatus{Status: HealthUnhealthy}.IsHealthy())
	assert.False(t, HealthStatus{Status: HealthUnknown}.IsHealthy())
}
