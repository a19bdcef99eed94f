// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads credentials from a directory of plain-text files.
// Each file is one secret: the filename is the key name and the trimmed
// contents are the value.
//
// Recognized keys: anthropic-api-key, osf-token.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/irb-engine/internal/logging"
	"github.com/pdiddy/irb-engine/pkg/types"
)

// Key names.
const (
	AnthropicAPIKey = "anthropic-api-key"
	OSFToken        = "osf-token"
)

// DefaultDir is where the CLI looks for secret files.
const DefaultDir = ".secrets"

// Load reads all files in dir and returns a map of filename to trimmed
// contents. A missing directory yields an empty map. Unreadable files are
// logged and skipped.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logging.New("secrets").Warn("could not read secret", "name", name, "error", err)
			continue
		}

		if value := strings.TrimSpace(string(data)); value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Apply fills credentials that the configuration left empty. Values set in
// the config file or environment win over secret files.
func Apply(cfg *types.Config, secrets map[string]string) {
	if cfg.Analysis.APIKey == "" {
		cfg.Analysis.APIKey = secrets[AnthropicAPIKey]
	}
	if cfg.OSF.Token == "" {
		cfg.OSF.Token = secrets[OSFToken]
	}
}
