// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package bundle

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/pdiddy/irb-engine/internal/container"
)

// ImageMarkitdown is the container image that converts PDF and DOCX input on
// stdin to Markdown on stdout.
const ImageMarkitdown = "markitdown:latest"

// Extractor turns a binary document into text.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Markitdown extracts text by piping files through the markitdown image.
type Markitdown struct {
	runtime container.Runtime
}

// NewMarkitdown returns an extractor over rt after checking that the
// markitdown image is present.
func NewMarkitdown(ctx context.Context, rt container.Runtime) (*Markitdown, error) {
	if err := rt.ImageExists(ctx, ImageMarkitdown); err != nil {
		return nil, fmt.Errorf("markitdown image not available in %s: %w", rt.Name(), err)
	}
	return &Markitdown{runtime: rt}, nil
}

// Extract implements Extractor.
func (m *Markitdown) Extract(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var out bytes.Buffer
	if err := m.runtime.Run(ctx, ImageMarkitdown, f, &out); err != nil {
		return "", err
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("markitdown produced empty output")
	}
	return out.String(), nil
}
