// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/irb-engine/pkg/types"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		dirs  []string
		want  map[string]string
	}{
		{
			name: "trims credentials",
			files: map[string]string{
				AnthropicAPIKey: "  sk-ant-irb  \n",
				OSFToken:        "osf_review\n",
			},
			want: map[string]string{AnthropicAPIKey: "sk-ant-irb", OSFToken: "osf_review"},
		},
		{
			name:  "blank files are ignored",
			files: map[string]string{AnthropicAPIKey: "key", OSFToken: " \n\t"},
			want:  map[string]string{AnthropicAPIKey: "key"},
		},
		{
			name:  "dotfiles and directories are ignored",
			files: map[string]string{".gitkeep": "", ".osf-token": "old", OSFToken: "osf_live"},
			dirs:  []string{"archive"},
			want:  map[string]string{OSFToken: "osf_live"},
		},
		{
			name: "empty directory",
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeSecret(t, dir, name, content)
			}
			for _, d := range tt.dirs {
				require.NoError(t, os.Mkdir(filepath.Join(dir, d), 0o755))
			}

			got, err := Load(dir)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), DefaultDir))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadNotADirectory(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "plain", "x")

	_, err := Load(filepath.Join(dir, "plain"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading secrets directory")
}

func TestLoadSkipsUnreadable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	dir := t.TempDir()
	writeSecret(t, dir, OSFToken, "osf_ok")
	locked := filepath.Join(dir, AnthropicAPIKey)
	require.NoError(t, os.WriteFile(locked, []byte("sk"), 0o000))
	t.Cleanup(func() { os.Chmod(locked, 0o644) })

	got, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{OSFToken: "osf_ok"}, got)
}

func TestApply(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		token      string
		secrets    map[string]string
		wantAPIKey string
		wantToken  string
	}{
		{
			name:       "fills empty credentials",
			secrets:    map[string]string{AnthropicAPIKey: "sk-file", OSFToken: "osf-file"},
			wantAPIKey: "sk-file",
			wantToken:  "osf-file",
		},
		{
			name:       "configured values win",
			apiKey:     "sk-env",
			token:      "osf-config",
			secrets:    map[string]string{AnthropicAPIKey: "sk-file", OSFToken: "osf-file"},
			wantAPIKey: "sk-env",
			wantToken:  "osf-config",
		},
		{
			name:       "missing secrets leave placeholder backend",
			secrets:    map[string]string{},
			wantAPIKey: "",
			wantToken:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := types.DefaultConfig()
			cfg.Analysis.APIKey = tt.apiKey
			cfg.OSF.Token = tt.token

			Apply(&cfg, tt.secrets)

			assert.Equal(t, tt.wantAPIKey, cfg.Analysis.APIKey)
			assert.Equal(t, tt.wantToken, cfg.OSF.Token)
		})
	}
}

func writeSecret(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
