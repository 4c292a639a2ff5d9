package container

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/agenticx/sandbox"
)

const managedLabel = "xyz.agenticx.sandbox.managed"

func b64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func b64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

// shQuote wraps s in single quotes for safe embedding in a shell command,
// escaping any embedded single quotes POSIX-style.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// parseLsOutput parses the output of `ls -la <path>` into FileInfo records.
// Long-format lines look like:
//
//	drwxr-xr-x 2 root root 4096 Jan  2 03:04 name
//
// The first line ("total N") and "." / ".." entries are skipped.
func parseLsOutput(basePath, output string) []sandbox.FileInfo {
	var infos []sandbox.FileInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "total ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		name := strings.Join(fields[8:], " ")
		if name == "." || name == ".." {
			continue
		}
		size, _ := strconv.ParseInt(fields[4], 10, 64)
		infos = append(infos, sandbox.FileInfo{
			Path:        strings.TrimRight(basePath, "/") + "/" + name,
			SizeBytes:   size,
			IsDir:       strings.HasPrefix(fields[0], "d"),
			Permissions: fields[0],
		})
	}
	return infos
}

// parsePsOutput parses the output of `ps -eo pid,comm,pcpu,rss` (or the
// /proc fallback's "path pid" lines) into ProcessInfo records. Fallback
// lines only carry a PID, so CPU/memory default to zero — better than
// failing outright on a minimal image that lacks procps.
func parsePsOutput(output string) []sandbox.ProcessInfo {
	var procs []sandbox.ProcessInfo
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 {
		return procs
	}
	start := 0
	if strings.Contains(lines[0], "PID") {
		start = 1
	}
	for _, line := range lines[start:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimPrefix(fields[0], "/proc/"))
		if err != nil {
			continue
		}
		p := sandbox.ProcessInfo{PID: pid, Status: sandbox.StatusRunning}
		if len(fields) >= 4 {
			p.Command = fields[1]
			p.CPUPercent, _ = strconv.ParseFloat(fields[2], 64)
			rssKB, _ := strconv.ParseFloat(fields[3], 64)
			p.MemoryMB = rssKB / 1024.0
		}
		procs = append(procs, p)
	}
	return procs
}
