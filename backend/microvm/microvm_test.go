package microvm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agenticx/sandbox"
)

func TestMapError_ClassifiesByMessageSubstring(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want any
	}{
		{"timeout", errors.New("request timeout after 30s"), &sandbox.TimeoutError{}},
		{"deadline", errors.New("context deadline exceeded"), &sandbox.TimeoutError{}},
		{"not started", errors.New("session not started"), &sandbox.NotReadyError{}},
		{"execute", errors.New("failed to execute code"), &sandbox.ExecutionError{}},
		{"execution", errors.New("execution aborted"), &sandbox.ExecutionError{}},
		{"other", errors.New("connection refused"), &sandbox.BackendError{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapError(tc.err)
			assert.IsType(t, tc.want, got)
		})
	}
}

func TestMapError_NilIsNil(t *testing.T) {
	assert.Nil(t, mapError(nil))
}

func TestPyRepr_EscapesBackslashAndQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, pyRepr("plain"))
	assert.Equal(t, `'it\'s'`, pyRepr("it's"))
	assert.Equal(t, `'a\\b'`, pyRepr(`a\b`))
}

func TestB64Encode_RoundTripsThroughStdlib(t *testing.T) {
	assert.Equal(t, "aGVsbG8=", b64Encode([]byte("hello")))
}
