// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package bundle assembles the material set analysis agents review: study
// metadata, the text of every uploaded document, and an optional external
// repository listing.
//
// Documents live under <dir>/<study-id>/. Plain text, Markdown and HTML are
// read directly; PDF and DOCX go through an Extractor. A document that
// cannot be read becomes a bracketed placeholder so one bad upload never
// blocks the review.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdiddy/irb-engine/internal/logging"
	"github.com/pdiddy/irb-engine/pkg/types"
)

// maxDocumentBytes caps the text kept per document.
const maxDocumentBytes = 512 << 10

// Lister fetches an external repository listing. Failures are reported in
// the listing itself.
type Lister interface {
	Listing(ctx context.Context, repoURL string) types.RepoListing
}

// Assembler builds bundles from the documents directory.
type Assembler struct {
	dir       string
	extractor Extractor
	lister    Lister
	logger    *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithExtractor enables PDF and DOCX extraction.
func WithExtractor(e Extractor) Option { return func(a *Assembler) { a.extractor = e } }

// WithLister enables repository listings.
func WithLister(l Lister) Option { return func(a *Assembler) { a.lister = l } }

// WithLogger sets the assembler logger.
func WithLogger(l *slog.Logger) Option { return func(a *Assembler) { a.logger = l } }

// New returns an Assembler reading documents below dir.
func New(dir string, opts ...Option) *Assembler {
	a := &Assembler{dir: dir}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = logging.New("bundle")
	}
	return a
}

// Assemble returns the bundle for study. It fails only when the documents
// root itself is missing or unreadable; a study without a directory has no
// documents.
func (a *Assembler) Assemble(ctx context.Context, study types.Study, repoURL string) (types.Bundle, error) {
	if info, err := os.Stat(a.dir); err != nil {
		return types.Bundle{}, fmt.Errorf("documents root %s: %w", a.dir, err)
	} else if !info.IsDir() {
		return types.Bundle{}, fmt.Errorf("documents root %s is not a directory", a.dir)
	}

	b := types.Bundle{
		Metadata:  Metadata(study),
		Documents: map[string]string{},
	}

	studyDir := filepath.Join(a.dir, study.ID)
	entries, err := os.ReadDir(studyDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		a.logger.Debug("no documents for study", "study", study.ID)
	case err != nil:
		return types.Bundle{}, fmt.Errorf("reading %s: %w", studyDir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		key := documentKey(e.Name())
		if _, taken := b.Documents[key]; taken {
			key = e.Name()
		}
		b.Documents[key] = a.document(ctx, filepath.Join(studyDir, e.Name()))
	}

	if repoURL != "" && a.lister != nil {
		listing := a.lister.Listing(ctx, repoURL)
		if listing.Error != "" {
			a.logger.Warn("repository listing failed", "study", study.ID, "url", repoURL, "error", listing.Error)
		}
		b.RepoListing = &listing
	}

	a.logger.Info("bundle assembled", "study", study.ID, "documents", len(b.Documents), "repo", b.RepoListing != nil)
	return b, nil
}

// Metadata is the study_info section of a bundle.
func Metadata(study types.Study) map[string]any {
	return map[string]any{
		"id":                 study.ID,
		"title":              study.Title,
		"description":        study.Description,
		"involves_deception": study.InvolvesDeception,
		"irb_status":         string(study.IRBStatus),
	}
}

func documentKey(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// document returns the text of one file or a placeholder describing why it
// has none.
func (a *Assembler) document(ctx context.Context, path string) string {
	name := filepath.Base(path)
	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md", ".html", ".htm":
		var data []byte
		data, err = os.ReadFile(path)
		text = string(data)
	case ".pdf", ".docx", ".doc":
		if a.extractor == nil {
			return fmt.Sprintf("[No extractor available for %s]", name)
		}
		text, err = a.extractor.Extract(ctx, path)
	default:
		return fmt.Sprintf("[Unsupported file type: %s]", name)
	}
	if err != nil {
		a.logger.Warn("document extraction failed", "file", path, "error", err)
		return fmt.Sprintf("[Error extracting %s: %v]", name, err)
	}
	if len(text) > maxDocumentBytes {
		text = text[:maxDocumentBytes] + "\n[truncated]"
	}
	return text
}
