package interpreter

import (
	"context"
	"fmt"

	"github.com/agenticx/sandbox"
	"github.com/agenticx/sandbox/execd"
)

// daemonBackend keeps state in a remote execd context rather than a local
// process. Grounded on original_source/'s StatefulCodeInterpreter when
// self._client is set: it creates one context at start and reuses its
// context_id for every execute call.
type daemonBackend struct {
	cfg       Config
	client    *execd.Client
	contextID string
}

func newDaemonBackend(cfg Config) *daemonBackend {
	opts := []execd.Option{}
	if cfg.DaemonToken != "" {
		opts = append(opts, execd.WithToken(cfg.DaemonToken))
	}
	return &daemonBackend{
		cfg:    cfg,
		client: execd.New(cfg.DaemonEndpoint, opts...),
	}
}

func (d *daemonBackend) start(ctx context.Context) error {
	if err := d.client.Connect(ctx); err != nil {
		return fmt.Errorf("interpreter: daemon unreachable: %w", err)
	}
	c, err := d.client.CreateContext(ctx, d.cfg.Language)
	if err != nil {
		return fmt.Errorf("interpreter: creating daemon context: %w", err)
	}
	d.contextID = c.ContextID
	return nil
}

func (d *daemonBackend) execute(ctx context.Context, code string, timeout float64) (sandbox.ExecutionResult, error) {
	result, err := d.client.ExecuteCode(ctx, code, d.cfg.Language, d.contextID, int(timeout*1000))
	if err != nil {
		return sandbox.ExecutionResult{}, err
	}
	exec := sandbox.NewExecutionResult(result.Stdout, result.Stderr, result.ExitCode, sandbox.Language(d.cfg.Language), result.DurationMS)
	exec.Metadata["backend"] = BackendDaemon
	exec.Metadata["context_id"] = d.contextID
	if result.Result != "" {
		exec.Metadata["result"] = result.Result
	}
	return exec, nil
}

// reset discards accumulated state by deleting and recreating the context;
// the daemon itself keeps running.
func (d *daemonBackend) reset(ctx context.Context) error {
	if d.contextID != "" {
		if err := d.client.DeleteContext(ctx, d.contextID); err != nil {
			return fmt.Errorf("interpreter: resetting daemon context: %w", err)
		}
	}
	c, err := d.client.CreateContext(ctx, d.cfg.Language)
	if err != nil {
		return fmt.Errorf("interpreter: recreating daemon context: %w", err)
	}
	d.contextID = c.ContextID
	return nil
}

func (d *daemonBackend) stop(ctx context.Context) error {
	if d.contextID != "" {
		_ = d.client.DeleteContext(ctx, d.contextID)
	}
	return d.client.Close()
}

func (d *daemonBackend) backendName() string { return BackendDaemon }
