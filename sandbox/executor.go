// Package sandbox maps an Agent's Permissions onto either direct OS calls
// or an isolated Docker container. File reads and writes are checked against
// the granted directories; a command run on the host is not confined to
// them (see Executor).
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/hearthside-labs/agentrt"
)

const (
	DefaultNetworkName = "agentrt-network"
	LabelAgent         = "agentrt.agentId"
	LabelManagedBy     = "agentrt.managed-by"
	DefaultImage       = "node:20-slim"
	containerPrefix    = "agentrt-"
)

// ExecResult is the outcome of running one command, in-process or containerized.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor runs commands scoped to an Agent's Permissions. ReadFile and
// WriteFile check every path with checkAccess. When no Docker daemon is
// reachable, Run falls back to running commands directly on the host in
// WorkingDir with proxy variables stripped unless Web is granted; the host
// path does not restrict which files the command reads or writes.
type Executor struct {
	cli         *client.Client
	available   bool
	networkName string
	defaultImg  string
	mu          sync.RWMutex
}

// Option configures an Executor.
type Option func(*Executor)

// WithNetworkName sets a custom Docker network name.
func WithNetworkName(name string) Option { return func(e *Executor) { e.networkName = name } }

// WithDefaultImage sets the default container image for containerized runs.
func WithDefaultImage(img string) Option { return func(e *Executor) { e.defaultImg = img } }

// NewExecutor probes for a reachable Docker daemon and returns an Executor
// that uses it when available, host execution otherwise. Docker being
// unreachable is never an error -- it's a capability the executor degrades
// gracefully without.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{networkName: DefaultNetworkName, defaultImg: DefaultImage}
	for _, opt := range opts {
		opt(e)
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return e
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return e
	}
	e.cli = cli
	e.available = true
	if err := e.ensureNetwork(context.Background()); err != nil {
		e.available = false
	}
	return e
}

// IsContainerized reports whether commands actually run inside Docker.
func (e *Executor) IsContainerized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.available
}

func (e *Executor) ensureNetwork(ctx context.Context) error {
	nets, err := e.cli.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", e.networkName)),
	})
	if err != nil {
		return err
	}
	if len(nets) > 0 {
		return nil
	}
	_, err = e.cli.NetworkCreate(ctx, e.networkName, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{LabelManagedBy: "agentrt"},
	})
	return err
}

// checkAccess verifies path is beneath an allowed root, rejecting writes
// outside WriteDirs and reads outside ReadDirs+WriteDirs+WorkingDir.
func checkAccess(perms agentrt.Permissions, path string, write bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("sandbox: resolve path: %w", err)
	}
	roots := append([]string{perms.WorkingDir}, perms.ReadDirs...)
	if write {
		roots = perms.WriteDirs
	} else {
		roots = append(roots, perms.WriteDirs...)
	}
	for _, root := range roots {
		if root == "" {
			continue
		}
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(os.PathSeparator)) {
			return nil
		}
	}
	kind := "read"
	if write {
		kind = "write"
	}
	return fmt.Errorf("sandbox: %s access denied for %s", kind, path)
}

// ReadFile reads a path permitted by perms' read scope.
func (e *Executor) ReadFile(perms agentrt.Permissions, path string) ([]byte, error) {
	if err := checkAccess(perms, path, false); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// WriteFile writes data to a path permitted by perms' write scope.
func (e *Executor) WriteFile(perms agentrt.Permissions, path string, data []byte) error {
	if err := checkAccess(perms, path, true); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Run executes command either inside an agent-scoped container (when Docker
// is available) or directly on the host within perms.WorkingDir. Network
// access is denied at the host-exec layer by clearing the environment of
// proxy variables when perms.Web is false; true network isolation requires
// the containerized path.
func (e *Executor) Run(ctx context.Context, agentId agentrt.AgentId, perms agentrt.Permissions, command []string) (*ExecResult, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("sandbox: empty command")
	}

	e.mu.RLock()
	containerized := e.available
	e.mu.RUnlock()

	if containerized {
		return e.runContainerized(ctx, agentId, perms, command)
	}
	return e.runHost(ctx, perms, command)
}

func (e *Executor) runHost(ctx context.Context, perms agentrt.Permissions, command []string) (*ExecResult, error) {
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = perms.WorkingDir
	cmd.Env = hostEnv(perms)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return nil, fmt.Errorf("sandbox: run: %w", err)
	}
	return &ExecResult{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func hostEnv(perms agentrt.Permissions) []string {
	if perms.Web {
		return os.Environ()
	}
	var out []string
	for _, kv := range os.Environ() {
		upper := strings.ToUpper(kv)
		if strings.HasPrefix(upper, "HTTP_PROXY") || strings.HasPrefix(upper, "HTTPS_PROXY") || strings.HasPrefix(upper, "NO_PROXY") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func (e *Executor) runContainerized(ctx context.Context, agentId agentrt.AgentId, perms agentrt.Permissions, command []string) (*ExecResult, error) {
	name := containerPrefix + agentId.String()

	containerID, err := e.ensureContainer(ctx, name, perms)
	if err != nil {
		return nil, err
	}

	execCfg := container.ExecOptions{
		Cmd:          command,
		WorkingDir:   "/workspace",
		AttachStdout: true,
		AttachStderr: true,
	}
	execResp, err := e.cli.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return nil, fmt.Errorf("sandbox: exec create: %w", err)
	}
	attach, err := e.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("sandbox: exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return nil, fmt.Errorf("sandbox: read exec output: %w", err)
	}

	inspect, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("sandbox: exec inspect: %w", err)
	}
	return &ExecResult{ExitCode: inspect.ExitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func (e *Executor) ensureContainer(ctx context.Context, name string, perms agentrt.Permissions) (string, error) {
	existing, err := e.findContainer(ctx, name)
	if err == nil {
		inspect, err := e.cli.ContainerInspect(ctx, existing)
		if err == nil {
			if !inspect.State.Running {
				if err := e.cli.ContainerStart(ctx, existing, container.StartOptions{}); err != nil {
					return "", fmt.Errorf("sandbox: restart container: %w", err)
				}
			}
			return existing, nil
		}
	}

	if err := e.ensureImage(ctx, e.defaultImg); err != nil {
		return "", fmt.Errorf("sandbox: pull image: %w", err)
	}

	var mounts []mount.Mount
	for _, dir := range perms.WriteDirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: abs, Target: "/workspace/" + filepath.Base(abs)})
	}
	for _, dir := range perms.ReadDirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: abs, Target: "/workspace/ro-" + filepath.Base(abs), ReadOnly: true})
	}

	networkMode := container.NetworkMode("none")
	if perms.Web {
		networkMode = container.NetworkMode(e.networkName)
	}

	containerCfg := &container.Config{
		Image:      e.defaultImg,
		WorkingDir: "/workspace",
		Labels:     map[string]string{LabelManagedBy: "agentrt"},
		Tty:        true,
		OpenStdin:  true,
		Cmd:        []string{"tail", "-f", "/dev/null"},
	}
	hostCfg := &container.HostConfig{
		Mounts:      mounts,
		NetworkMode: networkMode,
	}

	resp, err := e.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("sandbox: create container: %w", err)
	}
	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("sandbox: start container: %w", err)
	}
	return resp.ID, nil
}

func (e *Executor) findContainer(ctx context.Context, name string) (string, error) {
	containers, err := e.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return "", err
	}
	for _, c := range containers {
		for _, n := range c.Names {
			if n == "/"+name {
				return c.ID, nil
			}
		}
	}
	return "", fmt.Errorf("sandbox: container not found: %s", name)
}

func (e *Executor) ensureImage(ctx context.Context, img string) error {
	if _, _, err := e.cli.ImageInspectWithRaw(ctx, img); err == nil {
		return nil
	}
	reader, err := e.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// RemoveAgentContainer stops and removes agentId's container, if any.
func (e *Executor) RemoveAgentContainer(ctx context.Context, agentId agentrt.AgentId) error {
	if !e.IsContainerized() {
		return nil
	}
	name := containerPrefix + agentId.String()
	id, err := e.findContainer(ctx, name)
	if err != nil {
		return nil
	}
	timeout := 5
	_ = e.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
	return e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

// Close releases the Docker client, if one was created.
func (e *Executor) Close() error {
	if e.cli != nil {
		return e.cli.Close()
	}
	return nil
}
