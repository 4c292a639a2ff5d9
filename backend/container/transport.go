package container

import "context"

// execResult is the raw outcome of running a command inside a container,
// before it is wrapped into a sandbox.ExecutionResult.
type execResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// transport is the thin seam between the container backend's policy
// (base64 encoding, file listing parsing, health-check token matching) and
// the concrete mechanism used to reach the Docker daemon. Exactly one of
// sdkTransport or cliTransport backs a given Backend, chosen once at
// construction and never exposed to callers — mirroring the contract in
// §4.3.2: "the backend chooses at runtime and does not expose this choice
// to callers."
type transport interface {
	// createAndStart runs a long-lived container per the template and
	// returns its ID. workDir, networkMode, memoryBytes, nanoCPUs, env and
	// the managed sandbox ID are already resolved by the caller.
	createAndStart(ctx context.Context, opts startOptions) (containerID string, err error)

	// stop attempts a graceful stop with the given grace period, then
	// force-removes the container if autoRemove is false. With autoRemove
	// true it issues no remove and leaves removal to Docker's auto-remove.
	stop(ctx context.Context, containerID string, graceSeconds int, autoRemove bool) error

	// exec runs argv inside the container under workDir and returns its
	// stdout, stderr (kept separate) and exit code.
	exec(ctx context.Context, containerID string, argv []string, workDir string) (execResult, error)

	// readFile/writeFile/removeFile/listDir implement the file operations
	// described in §4.3.2. Both transports exec cat, a base64 pipe, rm -rf
	// and ls -la inside the container.
	readFile(ctx context.Context, containerID, path string) ([]byte, error)
	writeFile(ctx context.Context, containerID, path string, data []byte) error
	removeFile(ctx context.Context, containerID, path string) error
	listDir(ctx context.Context, containerID, path string) (string, error) // raw `ls -la` output, parsed by caller

	// processes returns raw `ps` output (or its fallback), parsed by caller.
	processes(ctx context.Context, containerID string) (string, error)
	killProcess(ctx context.Context, containerID string, pid int, signal int) error

	// name identifies the transport for logging ("docker-sdk" or
	// "docker-cli"); it is not the backend name exposed to callers.
	name() string
}

// startOptions carries everything a transport needs to start a container,
// resolved once by Backend.Start from the template.
type startOptions struct {
	Image       string
	WorkDir     string
	NetworkMode string // "bridge", "host", "none"
	NanoCPUs    int64
	MemoryBytes int64
	Env         []string
	SandboxID   string
	AutoRemove  bool
}
