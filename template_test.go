package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplate_ValidateCatchesEveryViolation(t *testing.T) {
	var tmpl Template
	violations := tmpl.Validate()
	assert.False(t, tmpl.IsValid())
	assert.Len(t, violations, 7)
}

func TestTemplate_DefaultsAreValid(t *testing.T) {
	for _, tmpl := range []Template{DefaultTemplate(), LightweightTemplate(), HighPerformanceTemplate()} {
		assert.Empty(t, tmpl.Validate(), "profile %q should validate clean", tmpl.Name)
	}
}

func TestTemplate_DocumentRoundTrip(t *testing.T) {
	tmpl := DefaultTemplate()
	tmpl.Env["FOO"] = "bar"
	tmpl.Tags["custom"] = "1"

	doc, err := tmpl.ToDocument()
	require.NoError(t, err)

	roundTripped, err := TemplateFromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, tmpl, roundTripped)
}

func TestTemplate_SaveAndLoad(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	tmpl := NewTemplate("my-template", KindCodeInterpreter)
	tmpl.CPUCores = 1
	tmpl.MemoryMB = 512
	tmpl.DiskMB = 1024
	tmpl.ExecutionTimeout = 30
	tmpl.IdleTimeout = 60
	tmpl.StartupTimeout = 30

	require.NoError(t, tmpl.Save())

	loaded, err := LoadTemplate("my-template")
	require.NoError(t, err)
	assert.Equal(t, tmpl, loaded)

	names, err := ListSavedTemplates()
	require.NoError(t, err)
	assert.Contains(t, names, "my-template")
}

func TestTemplate_SaveRejectsInvalidTemplate(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	var invalid Template
	err := invalid.Save()
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestLoadTemplate_MissingReturnsResourceError(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := LoadTemplate("does-not-exist")
	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
}
