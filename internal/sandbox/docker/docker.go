// Package docker implements sandbox.Runtime on a long-lived Docker
// container driven through the docker CLI.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/michaelbrown/playground/internal/sandbox"
)

// Workdir is where the sandbox's virtual root is mounted in the container.
const Workdir = "/workspace"

// Runtime boots one container per Boot call.
type Runtime struct {
	Policy sandbox.Policy
	Image  string

	dockerBin string
}

// New creates a Docker runtime for the given image and policy.
func New(image string, policy sandbox.Policy) *Runtime {
	return &Runtime{
		Policy:    policy,
		Image:     image,
		dockerBin: findDocker(),
	}
}

// findDocker locates the docker binary, checking PATH first and then
// well-known install locations.
func findDocker() string {
	if p, err := exec.LookPath("docker"); err == nil {
		return p
	}
	for _, c := range []string{
		"/usr/local/bin/docker",
		"/opt/homebrew/bin/docker",
		"/Applications/Docker.app/Contents/Resources/bin/docker",
	} {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return "docker"
}

// bootArgs builds the `docker run` arguments for a new sandbox container.
func (r *Runtime) bootArgs(name string) []string {
	args := []string{
		"run", "-d", "--rm",
		"--name", name,
		"--label", "playground.sandbox=" + name,
		"-w", Workdir,
	}
	if r.Policy.MaxMemory != "" {
		args = append(args, "--memory", r.Policy.MaxMemory)
	}
	if !r.Policy.Network {
		args = append(args, "--network=none")
	}
	return append(args, "--entrypoint", "sleep", r.Image, "infinity")
}

func (r *Runtime) Boot(ctx context.Context) (sandbox.Handle, error) {
	if !r.Policy.IsImageAllowed(r.Image) {
		return nil, fmt.Errorf("image %q not in allowlist", r.Image)
	}

	name := "playground-" + uuid.NewString()[:8]
	output, err := exec.CommandContext(ctx, r.dockerBin, r.bootArgs(name)...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("starting container: %w\noutput: %s", err, strings.TrimSpace(string(output)))
	}

	lifetime, cancel := context.WithCancel(context.Background())
	return &handle{
		runtime:     r,
		containerID: strings.TrimSpace(string(output)),
		lifetime:    lifetime,
		cancel:      cancel,
	}, nil
}

type handle struct {
	runtime     *Runtime
	containerID string
	lifetime    context.Context
	cancel      context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (h *handle) docker(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, h.runtime.dockerBin, args...)
}

func (h *handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// containerPath maps a sandbox path onto the container workspace.
func containerPath(p string) string {
	return path.Join(Workdir, sandbox.CleanPath(p))
}

func (h *handle) WriteFile(ctx context.Context, p string, contents []byte) error {
	if h.isClosed() {
		return sandbox.ErrClosed
	}
	target := containerPath(p)
	script := fmt.Sprintf("mkdir -p %q && cat > %q", path.Dir(target), target)

	cmd := h.docker(ctx, "exec", "-i", h.containerID, "sh", "-c", script)
	cmd.Stdin = bytes.NewReader(contents)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("writing %s: %w\noutput: %s", p, err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (h *handle) Spawn(ctx context.Context, command string, args ...string) (sandbox.Process, error) {
	if h.isClosed() {
		return nil, sandbox.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := h.lifetime, context.CancelFunc(func() {})
	if h.runtime.Policy.MaxTimeout > 0 {
		runCtx, cancel = context.WithTimeout(h.lifetime, h.runtime.Policy.MaxTimeout)
	}

	execArgs := append([]string{"exec", "-w", Workdir, h.containerID, command}, args...)
	cmd := h.docker(runCtx, execArgs...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("attaching stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("attaching stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting exec: %w", err)
	}

	pipe := sandbox.NewPipe(64)
	go func() {
		defer cancel()
		var (
			wg       sync.WaitGroup
			readErrs [2]error
		)
		wg.Add(2)
		for i, r := range []io.Reader{stdout, stderr} {
			go func() {
				defer wg.Done()
				readErrs[i] = sendLines(r, pipe)
			}()
		}
		wg.Wait()

		code, err := exitCode(cmd.Wait())
		if readErr := errors.Join(readErrs[:]...); err == nil && readErr != nil {
			err = fmt.Errorf("reading output: %w", readErr)
		}
		pipe.Finish(code, err)
	}()
	return pipe, nil
}

// sendLines forwards r line by line. After a read error the rest of r is
// discarded so the exec'd process never blocks on a full pipe.
func sendLines(r io.Reader, pipe *sandbox.Pipe) error {
	err := pipe.SendLines(r)
	if err != nil {
		io.Copy(io.Discard, r)
	}
	return err
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (h *handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	cmd := h.docker(context.Background(), "rm", "-f", h.containerID)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("removing container: %w\noutput: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
