// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package container runs one-shot containers through docker or podman. The
// bundle assembler uses it to extract text from PDF and DOCX uploads with
// the markitdown image.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

const (
	binDocker = "docker"
	binPodman = "podman"

	// Disabled turns container extraction off when passed to Select.
	Disabled = "none"
)

// ErrNoRuntime is returned when no usable container runtime is found.
var ErrNoRuntime = errors.New("no container runtime available")

// Runtime runs containers with stdin and stdout attached.
type Runtime interface {
	// Name returns "docker" or "podman".
	Name() string

	// Available reports whether the binary is on PATH and answers "info".
	Available(ctx context.Context) bool

	// ImageExists returns nil when the image is present locally.
	ImageExists(ctx context.Context, image string) error

	// Run starts a throwaway container from image, piping stdin and stdout.
	Run(ctx context.Context, image string, stdin io.Reader, stdout io.Writer) error
}

type executor interface {
	LookPath(file string) (string, error)
	RunSilent(ctx context.Context, name string, args ...string) error
	RunPiped(ctx context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error
}

type osExecutor struct{}

func (osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (osExecutor) RunSilent(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

func (osExecutor) RunPiped(ctx context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	return cmd.Run()
}

// runtime differs between docker and podman only in the binary and the
// image check subcommand.
type runtime struct {
	bin        string
	imageCheck []string
	exec       executor
}

func (r *runtime) Name() string { return r.bin }

func (r *runtime) Available(ctx context.Context) bool {
	if _, err := r.exec.LookPath(r.bin); err != nil {
		return false
	}
	return r.exec.RunSilent(ctx, r.bin, "info") == nil
}

func (r *runtime) ImageExists(ctx context.Context, image string) error {
	args := append(append([]string{}, r.imageCheck...), image)
	if err := r.exec.RunSilent(ctx, r.bin, args...); err != nil {
		return fmt.Errorf("image %s not found in %s: %w", image, r.bin, err)
	}
	return nil
}

func (r *runtime) Run(ctx context.Context, image string, stdin io.Reader, stdout io.Writer) error {
	args := []string{"run", "--rm", "-i", "--network", "none", image}
	if err := r.exec.RunPiped(ctx, r.bin, args, stdin, stdout); err != nil {
		return fmt.Errorf("running %s container %s: %w", r.bin, image, err)
	}
	return nil
}

func newRuntime(bin string, exec executor) *runtime {
	check := []string{"image", "inspect"}
	if bin == binPodman {
		check = []string{"image", "exists"}
	}
	return &runtime{bin: bin, imageCheck: check, exec: exec}
}

var defaultExec executor = osExecutor{}

// Select returns the named runtime, or detects one when name is empty
// (docker first, then podman). Disabled yields ErrNoRuntime.
func Select(ctx context.Context, name string) (Runtime, error) {
	return selectRuntime(ctx, name, defaultExec)
}

func selectRuntime(ctx context.Context, name string, exec executor) (Runtime, error) {
	var candidates []string
	switch name {
	case "":
		candidates = []string{binDocker, binPodman}
	case binDocker, binPodman:
		candidates = []string{name}
	case Disabled:
		return nil, fmt.Errorf("%w: extraction disabled", ErrNoRuntime)
	default:
		return nil, fmt.Errorf("unknown container runtime %q", name)
	}
	for _, bin := range candidates {
		rt := newRuntime(bin, exec)
		if rt.Available(ctx) {
			return rt, nil
		}
	}
	return nil, fmt.Errorf("%w: tried %v", ErrNoRuntime, candidates)
}
