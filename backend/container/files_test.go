package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestB64EncodeDecode_RoundTrip(t *testing.T) {
	data := []byte("hello, sandbox\x00binary")
	decoded, err := b64Decode(b64Encode(data))
	assert.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestShQuote_EscapesEmbeddedSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shQuote("it's"))
	assert.Equal(t, `'plain'`, shQuote("plain"))
}

func TestParseLsOutput_SkipsTotalAndDotEntries(t *testing.T) {
	output := "total 8\n" +
		"drwxr-xr-x 2 root root 4096 Jan  2 03:04 .\n" +
		"drwxr-xr-x 2 root root 4096 Jan  2 03:04 ..\n" +
		"-rw-r--r-- 1 root root  123 Jan  2 03:05 hello.txt\n" +
		"drwxr-xr-x 2 root root 4096 Jan  2 03:06 subdir\n"

	infos := parseLsOutput("/workspace", output)
	assert.Len(t, infos, 2)
	assert.Equal(t, "/workspace/hello.txt", infos[0].Path)
	assert.EqualValues(t, 123, infos[0].SizeBytes)
	assert.False(t, infos[0].IsDir)
	assert.Equal(t, "/workspace/subdir", infos[1].Path)
	assert.True(t, infos[1].IsDir)
}

func TestParsePsOutput_FullFormat(t *testing.T) {
	output := "  PID COMMAND         %CPU   RSS\n" +
		"    1 python3          0.5  20480\n"
	procs := parsePsOutput(output)
	assert.Len(t, procs, 1)
	assert.Equal(t, 1, procs[0].PID)
	assert.Equal(t, "python3", procs[0].Command)
	assert.InDelta(t, 0.5, procs[0].CPUPercent, 0.001)
	assert.InDelta(t, 20.0, procs[0].MemoryMB, 0.001)
}

func TestParsePsOutput_ProcFallback_PIDOnly(t *testing.T) {
	procs := parsePsOutput("/proc/42\n/proc/43\n")
	assert.Len(t, procs, 2)
	assert.Equal(t, 42, procs[0].PID)
	assert.Equal(t, 0.0, procs[0].CPUPercent)
}
