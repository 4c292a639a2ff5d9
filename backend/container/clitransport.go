package container

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// cliTransport shells out to the docker CLI. Used when the SDK transport
// cannot reach a daemon (or the SDK itself can't be constructed) but the
// docker binary is still on PATH — the fallback path spec.md §4.3.2 calls
// for. Grounded in style on the teacher's exec-based patterns in
// internal/cli/*.go (os/exec invocation, captured stdout/stderr buffers).
type cliTransport struct {
	bin string
}

func newCLITransport() (*cliTransport, error) {
	bin, err := exec.LookPath("docker")
	if err != nil {
		return nil, fmt.Errorf("docker CLI not found on PATH: %w", err)
	}
	return &cliTransport{bin: bin}, nil
}

func (t *cliTransport) name() string { return "docker-cli" }

func (t *cliTransport) run(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, t.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func (t *cliTransport) createAndStart(ctx context.Context, opts startOptions) (string, error) {
	args := []string{"run", "-d", "-t",
		"--workdir", opts.WorkDir,
		"--network", opts.NetworkMode,
		"--memory", strconv.FormatInt(opts.MemoryBytes, 10),
	}
	if opts.NanoCPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(float64(opts.NanoCPUs)/1e9, 'f', -1, 64))
	}
	if opts.AutoRemove {
		args = append(args, "--rm")
	}
	for _, e := range opts.Env {
		args = append(args, "-e", e)
	}
	args = append(args, "--label", managedLabel+"=true", opts.Image, "tail", "-f", "/dev/null")

	stdout, stderr, err := t.run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("docker run: %w: %s", err, stderr)
	}
	return strings.TrimSpace(stdout), nil
}

func (t *cliTransport) stop(ctx context.Context, containerID string, graceSeconds int, autoRemove bool) error {
	_, _, _ = t.run(ctx, "stop", "-t", strconv.Itoa(graceSeconds), containerID)
	if !autoRemove {
		_, _, _ = t.run(ctx, "rm", "-f", containerID)
	}
	return nil
}

func (t *cliTransport) exec(ctx context.Context, containerID string, argv []string, workDir string) (execResult, error) {
	args := []string{"exec"}
	if workDir != "" {
		args = append(args, "--workdir", workDir)
	}
	args = append(args, containerID)
	args = append(args, argv...)

	stdout, stderr, err := t.run(ctx, args...)
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return execResult{}, fmt.Errorf("docker exec: %w", err)
		}
	}
	return execResult{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

func (t *cliTransport) readFile(ctx context.Context, containerID, path string) ([]byte, error) {
	res, err := t.exec(ctx, containerID, []string{"cat", path}, "")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("cat %s: exit %d: %s", path, res.ExitCode, res.Stderr)
	}
	return []byte(res.Stdout), nil
}

func (t *cliTransport) writeFile(ctx context.Context, containerID, path string, data []byte) error {
	encoded := b64Encode(data)
	script := fmt.Sprintf("echo %s | base64 -d > %s", shQuote(encoded), shQuote(path))
	res, err := t.exec(ctx, containerID, []string{"/bin/sh", "-c", script}, "")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("writing %s: exit %d: %s", path, res.ExitCode, res.Stderr)
	}
	return nil
}

func (t *cliTransport) removeFile(ctx context.Context, containerID, path string) error {
	res, err := t.exec(ctx, containerID, []string{"rm", "-rf", path}, "")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("removing %s: exit %d: %s", path, res.ExitCode, res.Stderr)
	}
	return nil
}

func (t *cliTransport) listDir(ctx context.Context, containerID, path string) (string, error) {
	res, err := t.exec(ctx, containerID, []string{"ls", "-la", path}, "")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("listing %s: exit %d: %s", path, res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

func (t *cliTransport) processes(ctx context.Context, containerID string) (string, error) {
	res, err := t.exec(ctx, containerID, []string{"ps", "-eo", "pid,comm,pcpu,rss"}, "")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		res, err = t.exec(ctx, containerID, []string{"/bin/sh", "-c", "for p in /proc/[0-9]*; do echo \"$p ${p#/proc/}\"; done"}, "")
		if err != nil {
			return "", err
		}
	}
	return res.Stdout, nil
}

func (t *cliTransport) killProcess(ctx context.Context, containerID string, pid int, signal int) error {
	res, err := t.exec(ctx, containerID, []string{"kill", fmt.Sprintf("-%d", signal), strconv.Itoa(pid)}, "")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("kill %d: exit %d: %s", pid, res.ExitCode, res.Stderr)
	}
	return nil
}
