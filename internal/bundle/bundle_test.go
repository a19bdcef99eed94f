// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package bundle

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/irb-engine/internal/logging"
	"github.com/pdiddy/irb-engine/pkg/types"
)

type fakeExtractor struct {
	err   error
	paths []string
}

func (f *fakeExtractor) Extract(_ context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	if f.err != nil {
		return "", f.err
	}
	return "extracted " + filepath.Base(path), nil
}

type fakeLister struct {
	listing types.RepoListing
}

func (f fakeLister) Listing(_ context.Context, repoURL string) types.RepoListing {
	l := f.listing
	l.URL = repoURL
	return l
}

var study = types.Study{ID: "study-1", Title: "Priming and Recall", Description: "A recall task", IRBStatus: types.IRBPending}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func TestAssemble(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, filepath.Join(root, "study-1"), map[string]string{
		"protocol.txt":   "Participants read word lists.",
		"consent.html":   "<p>You may withdraw.</p>",
		"recruitment.md": "# Flyer",
		"survey.pdf":     "%PDF",
		"data.xlsx":      "binary",
		".DS_Store":      "junk",
		"old/notes.txt":  "ignored",
	})
	ext := &fakeExtractor{}
	a := New(root, WithExtractor(ext), WithLogger(logging.Discard()))

	b, err := a.Assemble(context.Background(), study, "")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"protocol":    "Participants read word lists.",
		"consent":     "<p>You may withdraw.</p>",
		"recruitment": "# Flyer",
		"survey":      "extracted survey.pdf",
		"data":        "[Unsupported file type: data.xlsx]",
	}, b.Documents)
	assert.Equal(t, "Priming and Recall", b.Metadata["title"])
	assert.Equal(t, "pending", b.Metadata["irb_status"])
	assert.Nil(t, b.RepoListing)
	assert.Len(t, ext.paths, 1)
}

func TestAssembleDegradedDocuments(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, filepath.Join(root, "study-1"), map[string]string{
		"consent.docx": "PK",
		"consent.txt":  "plain consent",
	})

	b, err := New(root, WithExtractor(&fakeExtractor{err: errors.New("container exited")}), WithLogger(logging.Discard())).
		Assemble(context.Background(), study, "")
	require.NoError(t, err)
	assert.Equal(t, "[Error extracting consent.docx: container exited]", b.Documents["consent"])
	assert.Equal(t, "plain consent", b.Documents["consent.txt"])

	b, err = New(root, WithLogger(logging.Discard())).Assemble(context.Background(), study, "")
	require.NoError(t, err)
	assert.Equal(t, "[No extractor available for consent.docx]", b.Documents["consent"])
}

func TestAssembleNoStudyDirectory(t *testing.T) {
	b, err := New(t.TempDir(), WithLogger(logging.Discard())).Assemble(context.Background(), study, "")
	require.NoError(t, err)
	assert.Empty(t, b.Documents)
	assert.NotEmpty(t, b.Metadata)
}

func TestAssembleMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), WithLogger(logging.Discard())).
		Assemble(context.Background(), study, "")
	assert.Error(t, err)
}

func TestAssembleRepoListing(t *testing.T) {
	lister := fakeLister{listing: types.RepoListing{ProjectID: "abc12", Error: "OSF fetch failed: HTTP 403"}}
	a := New(t.TempDir(), WithLister(lister), WithLogger(logging.Discard()))

	b, err := a.Assemble(context.Background(), study, "https://osf.io/abc12/")
	require.NoError(t, err)
	require.NotNil(t, b.RepoListing)
	assert.Equal(t, "https://osf.io/abc12/", b.RepoListing.URL)
	assert.Equal(t, "OSF fetch failed: HTTP 403", b.RepoListing.Error)
}

func TestAssembleTruncatesLargeDocuments(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, filepath.Join(root, "study-1"), map[string]string{
		"protocol.txt": strings.Repeat("a", maxDocumentBytes+10),
	})
	b, err := New(root, WithLogger(logging.Discard())).Assemble(context.Background(), study, "")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(b.Documents["protocol"], "\n[truncated]"))
}

type fakeRuntime struct {
	imageErr error
	output   string
}

func (f fakeRuntime) Name() string { return "docker" }

func (f fakeRuntime) Available(context.Context) bool { return true }

func (f fakeRuntime) ImageExists(context.Context, string) error { return f.imageErr }

func (f fakeRuntime) Run(_ context.Context, image string, stdin io.Reader, stdout io.Writer) error {
	if _, err := io.ReadAll(stdin); err != nil {
		return err
	}
	_, err := io.WriteString(stdout, f.output)
	return err
}

func TestMarkitdown(t *testing.T) {
	ctx := context.Background()
	_, err := NewMarkitdown(ctx, fakeRuntime{imageErr: errors.New("no such image")})
	assert.ErrorContains(t, err, "markitdown image not available in docker")

	path := filepath.Join(t.TempDir(), "consent.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))

	m, err := NewMarkitdown(ctx, fakeRuntime{output: "# Consent"})
	require.NoError(t, err)
	text, err := m.Extract(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "# Consent", text)

	m, err = NewMarkitdown(ctx, fakeRuntime{})
	require.NoError(t, err)
	_, err = m.Extract(ctx, path)
	assert.ErrorContains(t, err, "empty output")
}
