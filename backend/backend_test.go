package backend_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticx/sandbox"
	"github.com/agenticx/sandbox/backend"
	_ "github.com/agenticx/sandbox/backend/local"
)

func TestRegister_LocalBackendIsAvailable(t *testing.T) {
	assert.Contains(t, backend.Available(), "local")
}

func TestNew_UnknownBackend_ReturnsError(t *testing.T) {
	_, err := backend.New("does-not-exist", sandbox.DefaultTemplate())
	assert.Error(t, err)
}

func TestResolve_ExplicitNameBypassesPreferenceOrder(t *testing.T) {
	tmpl := sandbox.DefaultTemplate()
	tmpl.Backend = "local"
	name, b, err := backend.Resolve(tmpl)
	require.NoError(t, err)
	assert.Equal(t, "local", name)
	assert.Equal(t, "local", b.Name())
}

func TestResolve_Auto_PrefersEarliestAvailableInPreferenceOrder(t *testing.T) {
	tmpl := sandbox.DefaultTemplate()
	tmpl.Backend = "auto"
	name, _, err := backend.Resolve(tmpl)
	require.NoError(t, err)
	assert.Equal(t, backend.PreferenceOrder[0], name)
}
