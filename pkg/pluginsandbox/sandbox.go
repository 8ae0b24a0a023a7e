// Package pluginsandbox backs the PluginExecution action variant with a
// deny-by-default WebAssembly sandbox. A plugin never runs with ambient
// authority: the interceptor decision (capability, allowance, or approval)
// is what grants it the right to run at all, and this package is only
// responsible for making sure the run itself cannot see the filesystem,
// the network, the clock, or the environment unless explicitly wired.
package pluginsandbox

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// PluginRef identifies a WASM plugin by content hash rather than by a
// catalog lookup. Two refs with the same Hash are assumed to be the same
// binary regardless of Name.
type PluginRef struct {
	Name string
	Hash string
}

// Limits bounds a single plugin invocation.
type Limits struct {
	MemoryLimitBytes int64
	CPUTimeLimit     time.Duration
}

// Sandbox runs WASM plugin binaries under wazero with no ambient authority:
// no filesystem mounts, no network, no inherited environment, no
// high-resolution timers or crypto randomness.
type Sandbox struct {
	runtime wazero.Runtime
	limits  Limits
}

// New creates a Sandbox. The wazero runtime is shared across Run calls;
// each call gets its own module instance.
func New(ctx context.Context, limits Limits) (*Sandbox, error) {
	cfg := wazero.NewRuntimeConfig()
	if limits.MemoryLimitBytes > 0 {
		pages := uint32(limits.MemoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		cfg = cfg.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, cfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("pluginsandbox: failed to instantiate WASI: %w", err)
	}

	return &Sandbox{runtime: r, limits: limits}, nil
}

// Run compiles and executes wasmBytes for ref, feeding input on stdin and
// returning stdout. Stderr output is surfaced as an error: a well-behaved
// plugin should not need it.
//
// Deny-by-default: the module config below wires only stdin/stdout/stderr.
// It deliberately never calls WithFSConfig, WithSysNanotime, or
// WithRandSource.
func (s *Sandbox) Run(ctx context.Context, ref PluginRef, wasmBytes, input []byte) ([]byte, error) {
	if ref.Hash == "" {
		return nil, fmt.Errorf("pluginsandbox: plugin %s has no content hash", ref.Name)
	}

	if s.limits.CPUTimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.limits.CPUTimeLimit)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName(ref.Name).
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithStartFunctions("_start")

	compiled, err := s.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("pluginsandbox: compile %s: %w", ref.Name, err)
	}
	defer func() { _ = compiled.Close(ctx) }()

	mod, err := s.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("pluginsandbox: %s exceeded time limit %v", ref.Name, s.limits.CPUTimeLimit)
		}
		return nil, fmt.Errorf("pluginsandbox: instantiate %s: %w", ref.Name, err)
	}
	defer func() { _ = mod.Close(ctx) }()

	if stderr.Len() > 0 {
		return stdout.Bytes(), fmt.Errorf("pluginsandbox: %s wrote to stderr: %s", ref.Name, stderr.String())
	}

	return stdout.Bytes(), nil
}

// Close releases the wazero runtime.
func (s *Sandbox) Close(ctx context.Context) error {
	return s.runtime.Close(ctx)
}
