package container

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"
)

// sdkTransport talks to the Docker daemon over its HTTP API via the
// official client, grounded directly on the teacher's DockerDriver
// (internal/driver/docker/docker.go). Preferred over the CLI transport when
// available, per §4.3.2.
type sdkTransport struct {
	cli *client.Client
}

func newSDKTransport() (*sdkTransport, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		cli.Close()
		return nil, err
	}
	return &sdkTransport{cli: cli}, nil
}

func (t *sdkTransport) name() string { return "docker-sdk" }

func (t *sdkTransport) createAndStart(ctx context.Context, opts startOptions) (string, error) {
	if _, _, err := t.cli.ImageInspectWithRaw(ctx, opts.Image); client.IsErrNotFound(err) {
		log.Info().Str("image", opts.Image).Msg("image not found locally, pulling")
		reader, pullErr := t.cli.ImagePull(ctx, opts.Image, types.ImagePullOptions{})
		if pullErr != nil {
			return "", fmt.Errorf("pulling image %s: %w", opts.Image, pullErr)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	} else if err != nil {
		return "", fmt.Errorf("inspecting image: %w", err)
	}

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: opts.NanoCPUs,
			Memory:   opts.MemoryBytes,
		},
		NetworkMode: container.NetworkMode(opts.NetworkMode),
		Mounts: []mount.Mount{
			{Type: mount.TypeTmpfs, Target: "/tmp"},
		},
		AutoRemove: opts.AutoRemove,
	}

	resp, err := t.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      opts.Image,
			// Keep-alive: TTY kept open with an idle wait so the backend can
			// exec into the container for every execute call.
			Cmd:        []string{"tail", "-f", "/dev/null"},
			Tty:        true,
			Env:        opts.Env,
			WorkingDir: opts.WorkDir,
			Labels:     map[string]string{managedLabel: "true"},
		},
		hostConfig, nil, nil, "",
	)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	if err := t.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		_ = t.cli.ContainerRemove(ctx, resp.ID, types.ContainerRemoveOptions{Force: true})
		return "", fmt.Errorf("starting container: %w", err)
	}
	return resp.ID, nil
}

func (t *sdkTransport) stop(ctx context.Context, containerID string, graceSeconds int, autoRemove bool) error {
	timeout := graceSeconds
	if err := t.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		log.Warn().Str("container_id", containerID).Err(err).Msg("graceful container stop failed")
	}
	if !autoRemove {
		if err := t.cli.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			if !client.IsErrNotFound(err) {
				log.Warn().Str("container_id", containerID).Err(err).Msg("force-remove failed")
			}
		}
	}
	return nil
}

func (t *sdkTransport) exec(ctx context.Context, containerID string, argv []string, workDir string) (execResult, error) {
	execCfg := types.ExecConfig{
		Cmd:          argv,
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
	}
	created, err := t.cli.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return execResult{}, fmt.Errorf("creating exec: %w", err)
	}
	attach, err := t.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return execResult{}, fmt.Errorf("attaching to exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	demuxStream(attach.Reader, &stdout, &stderr)

	inspect, err := t.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return execResult{}, fmt.Errorf("inspecting exec: %w", err)
	}
	return execResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: inspect.ExitCode}, nil
}

// demuxStream separates the Docker multiplexed stream into stdout/stderr
// buffers. Grounded on the teacher's DockerStream.demux in
// internal/driver/docker/docker.go, adapted to write into two buffers
// instead of piping to an io.ReadWriteCloser, since callers here just want
// the final strings rather than a live stream.
func demuxStream(r io.Reader, stdout, stderr io.Writer) {
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return
		}
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		if size < 0 {
			return
		}
		switch header[0] {
		case 1:
			io.CopyN(stdout, r, int64(size))
		case 2:
			io.CopyN(stderr, r, int64(size))
		default:
			io.CopyN(io.Discard, r, int64(size))
		}
	}
}

func (t *sdkTransport) readFile(ctx context.Context, containerID, path string) ([]byte, error) {
	res, err := t.exec(ctx, containerID, []string{"cat", path}, "")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("cat %s: exit %d: %s", path, res.ExitCode, res.Stderr)
	}
	return []byte(res.Stdout), nil
}

func (t *sdkTransport) writeFile(ctx context.Context, containerID, path string, data []byte) error {
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

func (t *sdkTransport) removeFile(ctx context.Context, containerID, path string) error {
	res, err := t.exec(ctx, containerID, []string{"rm", "-rf", path}, "")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("removing %s: exit %d: %s", path, res.ExitCode, res.Stderr)
	}
	return nil
}

func (t *sdkTransport) listDir(ctx context.Context, containerID, path string) (string, error) {
	res, err := t.exec(ctx, containerID, []string{"ls", "-la", path}, "")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("listing %s: exit %d: %s", path, res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

func (t *sdkTransport) processes(ctx context.Context, containerID string) (string, error) {
	res, err := t.exec(ctx, containerID, []string{"ps", "-eo", "pid,comm,pcpu,rss"}, "")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		// Minimal images often lack procps; fall back to /proc scanning.
		res, err = t.exec(ctx, containerID, []string{"/bin/sh", "-c", "for p in /proc/[0-9]*; do echo \"$p ${p#/proc/}\"; done"}, "")
		if err != nil {
			return "", err
		}
	}
	return res.Stdout, nil
}

func (t *sdkTransport) killProcess(ctx context.Context, containerID string, pid int, signal int) error {
	res, err := t.exec(ctx, containerID, []string{"kill", fmt.Sprintf("-%d", signal), fmt.Sprintf("%d", pid)}, "")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("kill %d: exit %d: %s", pid, res.ExitCode, res.Stderr)
	}
	return nil
}
