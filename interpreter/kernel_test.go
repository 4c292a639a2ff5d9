package interpreter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestKernelBackend_StopLeavesNoGoroutinesBehind guards the execute loop's
// background stdout-reading goroutine: it must exit (via the closed stdin
// pipe unblocking ReadString) once Stop tears down the process, not linger
// past the test.
func TestKernelBackend_StopLeavesNoGoroutinesBehind(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	k := newKernelBackend(Config{KernelName: "python3", ExecutionTimeoutSeconds: 5})
	ctx := context.Background()
	require.NoError(t, k.start(ctx))

	_, err := k.execute(ctx, "1 + 1", 5)
	require.NoError(t, err)

	require.NoError(t, k.stop(ctx))
}
