package sandbox

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotReadyError_MessageIncludesStatus(t *testing.T) {
	err := &NotReadyError{SandboxID: "sb-1", Status: StatusCreating}
	assert.Contains(t, err.Error(), "sb-1")
	assert.Contains(t, err.Error(), string(StatusCreating))
}

func TestTimeoutError_CarriesBudget(t *testing.T) {
	err := &TimeoutError{Op: "execute", BudgetSeconds: 30}
	assert.Contains(t, err.Error(), "30")
}

func TestBackendError_Unwraps(t *testing.T) {
	inner := errors.New("connection refused")
	wrapped := &BackendError{Backend: "container", Err: inner}
	assert.ErrorIs(t, wrapped, inner)
}

func TestDaemonConnectionError_Unwraps(t *testing.T) {
	inner := errors.New("dial tcp: timeout")
	wrapped := &DaemonConnectionError{Endpoint: "/health", Attempts: 3, Err: inner}
	assert.ErrorIs(t, wrapped, inner)
}

func TestErrorsAs_ExtractsTypedFields(t *testing.T) {
	var err error = fmt.Errorf("boundary: %w", &ExecutionError{ExitCode: 2, Stderr: "traceback"})
	var execErr *ExecutionError
	assert.True(t, errors.As(err, &execErr))
	assert.Equal(t, 2, execErr.ExitCode)
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	assert.NotEqual(t, ErrSandboxNotFound, ErrUnsupportedLanguage)
	assert.True(t, errors.Is(fmt.Errorf("wrap: %w", ErrAlreadyStarted), ErrAlreadyStarted))
}
