package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticx/sandbox"
)

func newTestTemplate() sandbox.Template {
	tmpl := sandbox.DefaultTemplate()
	tmpl.ExecutionTimeout = 5
	return tmpl
}

func TestBackend_StartStopIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b, err := New(newTestTemplate())
	require.NoError(t, err)

	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Stop(ctx))
	require.NoError(t, b.Stop(ctx))
}

func TestBackend_ExecuteBeforeStart_ReturnsNotReady(t *testing.T) {
	ctx := context.Background()
	b, err := New(newTestTemplate())
	require.NoError(t, err)

	_, err = b.Execute(ctx, "print('hi')", sandbox.LanguagePython, 0)
	var notReady *sandbox.NotReadyError
	assert.ErrorAs(t, err, &notReady)
}

func TestBackend_ExecuteShell(t *testing.T) {
	ctx := context.Background()
	b, err := New(newTestTemplate())
	require.NoError(t, err)
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	result, err := b.Execute(ctx, "echo hello", sandbox.LanguageShell, 0)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Stdout, "hello")
	assert.Equal(t, Name, result.Metadata["backend"])
}

func TestBackend_ExecuteUnsupportedLanguage(t *testing.T) {
	ctx := context.Background()
	b, err := New(newTestTemplate())
	require.NoError(t, err)
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	_, err = b.Execute(ctx, "1", sandbox.LanguageGo, 0)
	assert.ErrorIs(t, err, sandbox.ErrUnsupportedLanguage)
}

func TestBackend_FileRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, err := New(newTestTemplate())
	require.NoError(t, err)
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	require.NoError(t, b.WriteFile(ctx, "nested/hello.txt", []byte("world")))
	data, err := b.ReadFile(ctx, "nested/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))

	entries, err := b.ListDirectory(ctx, "nested")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "nested/hello.txt", entries[0].Path)

	require.NoError(t, b.DeleteFile(ctx, "nested/hello.txt"))
	_, err = b.ReadFile(ctx, "nested/hello.txt")
	assert.Error(t, err)
}

func TestBackend_ResolvePathRejectsEscape(t *testing.T) {
	ctx := context.Background()
	b, err := New(newTestTemplate())
	require.NoError(t, err)
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	err = b.WriteFile(ctx, "../../etc/passwd", []byte("pwned"))
	var resErr *sandbox.ResourceError
	assert.ErrorAs(t, err, &resErr)
}

func TestBackend_KillProcessUnsupported(t *testing.T) {
	ctx := context.Background()
	b, err := New(newTestTemplate())
	require.NoError(t, err)
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	err = b.KillProcess(ctx, 123, 9)
	var resErr *sandbox.ResourceError
	assert.ErrorAs(t, err, &resErr)
}

func TestBackend_CheckHealth(t *testing.T) {
	ctx := context.Background()
	b, err := New(newTestTemplate())
	require.NoError(t, err)

	assert.False(t, b.CheckHealth(ctx).IsHealthy())

	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)
	assert.True(t, b.CheckHealth(ctx).IsHealthy())
}
