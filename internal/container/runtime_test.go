// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package container

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor answers LookPath and RunSilent from tables and records the
// last piped invocation.
type fakeExecutor struct {
	onPath   map[string]bool
	runnable map[string]bool
	piped    func(name string, args []string, stdin io.Reader, stdout io.Writer) error
	lastArgs []string
}

func (f *fakeExecutor) LookPath(file string) (string, error) {
	if f.onPath[file] {
		return "/usr/bin/" + file, nil
	}
	return "", errors.New("not found: " + file)
}

func (f *fakeExecutor) RunSilent(_ context.Context, name string, args ...string) error {
	key := name + " " + strings.Join(args, " ")
	if f.runnable[key] {
		return nil
	}
	return errors.New("command failed: " + key)
}

func (f *fakeExecutor) RunPiped(_ context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error {
	f.lastArgs = append([]string{name}, args...)
	if f.piped != nil {
		return f.piped(name, args, stdin, stdout)
	}
	return nil
}

func TestSelectRuntime(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		exec      *fakeExecutor
		want      string
		wantErr   error
	}{
		{
			name: "docker detected",
			exec: &fakeExecutor{onPath: map[string]bool{"docker": true}, runnable: map[string]bool{"docker info": true}},
			want: "docker",
		},
		{
			name: "podman fallback",
			exec: &fakeExecutor{onPath: map[string]bool{"podman": true}, runnable: map[string]bool{"podman info": true}},
			want: "podman",
		},
		{
			name: "docker info fails",
			exec: &fakeExecutor{
				onPath:   map[string]bool{"docker": true, "podman": true},
				runnable: map[string]bool{"podman info": true},
			},
			want: "podman",
		},
		{
			name:      "podman forced",
			requested: "podman",
			exec: &fakeExecutor{
				onPath:   map[string]bool{"docker": true, "podman": true},
				runnable: map[string]bool{"docker info": true, "podman info": true},
			},
			want: "podman",
		},
		{
			name:    "nothing available",
			exec:    &fakeExecutor{},
			wantErr: ErrNoRuntime,
		},
		{
			name:      "disabled",
			requested: Disabled,
			exec:      &fakeExecutor{onPath: map[string]bool{"docker": true}, runnable: map[string]bool{"docker info": true}},
			wantErr:   ErrNoRuntime,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := selectRuntime(context.Background(), tt.requested, tt.exec)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rt.Name())
		})
	}
}

func TestSelectUnknownRuntime(t *testing.T) {
	_, err := selectRuntime(context.Background(), "lxc", &fakeExecutor{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoRuntime)
}

func TestImageExists(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{runnable: map[string]bool{
		"docker image inspect markitdown:latest": true,
		"podman image exists markitdown:latest":  true,
	}}

	assert.NoError(t, newRuntime(binDocker, exec).ImageExists(ctx, "markitdown:latest"))
	assert.NoError(t, newRuntime(binPodman, exec).ImageExists(ctx, "markitdown:latest"))

	err := newRuntime(binDocker, exec).ImageExists(ctx, "missing:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing:1")
}

func TestRun(t *testing.T) {
	exec := &fakeExecutor{piped: func(_ string, _ []string, stdin io.Reader, stdout io.Writer) error {
		data, _ := io.ReadAll(stdin)
		_, _ = stdout.Write([]byte("converted: " + string(data)))
		return nil
	}}
	var out bytes.Buffer
	require.NoError(t, newRuntime(binPodman, exec).Run(context.Background(), "markitdown:latest", strings.NewReader("consent form"), &out))
	assert.Equal(t, "converted: consent form", out.String())
	assert.Equal(t, []string{"podman", "run", "--rm", "-i", "--network", "none", "markitdown:latest"}, exec.lastArgs)
}

func TestRunFailure(t *testing.T) {
	exec := &fakeExecutor{piped: func(string, []string, io.Reader, io.Writer) error {
		return errors.New("container exited with code 1")
	}}
	err := newRuntime(binDocker, exec).Run(context.Background(), "markitdown:latest", strings.NewReader(""), io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 1")
}
