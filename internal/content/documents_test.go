package content

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rendis/stepflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(t *testing.T) (*DocumentLoader, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := NewDocumentLoader(dir)
	require.NoError(t, err)
	return l, dir
}

func TestNewDocumentLoader_RequiresDirectory(t *testing.T) {
	_, err := NewDocumentLoader(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, schema.IsCode(err, schema.ErrCodeIO))

	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = NewDocumentLoader(file)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestDocumentLoader_WriteRead(t *testing.T) {
	l, dir := newTestLoader(t)

	n, err := l.Write("docs/prd.md", "# PRD\n", false)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	_, err = l.Write("/docs/prd.md", "more\n", true)
	require.NoError(t, err)

	text, err := l.Read("docs/prd.md")
	require.NoError(t, err)
	assert.Equal(t, "# PRD\nmore\n", text)

	raw, err := os.ReadFile(filepath.Join(dir, "docs", "prd.md"))
	require.NoError(t, err)
	assert.Equal(t, text, string(raw))

	_, err = l.Write("docs/prd.md", "reset", false)
	require.NoError(t, err)
	text, err = l.Read("docs/prd.md")
	require.NoError(t, err)
	assert.Equal(t, "reset", text)
}

func TestDocumentLoader_ReadErrors(t *testing.T) {
	l, _ := newTestLoader(t)

	_, err := l.Read("missing.md")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	_, err = l.Read("../outside.md")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	require.NoError(t, os.Mkdir(filepath.Join(l.Root(), "sub"), 0o755))
	_, err = l.Read("sub")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	l.maxReadSize = 2
	_, err = l.Write("big.md", "too big", false)
	require.NoError(t, err)
	_, err = l.Read("big.md")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestDocumentLoader_WriteCannotEscape(t *testing.T) {
	l, _ := newTestLoader(t)
	_, err := l.Write("../escape.md", "x", false)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestDocumentLoader_ListAndExists(t *testing.T) {
	l, _ := newTestLoader(t)
	for _, p := range []string{"docs/b.md", "docs/a.md", "docs/notes.txt", "docs/nested/c.md"} {
		_, err := l.Write(p, p, false)
		require.NoError(t, err)
	}

	all, err := l.List("docs", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/a.md", "docs/b.md", "docs/notes.txt"}, all)

	md, err := l.List("docs", "*.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/a.md", "docs/b.md"}, md)

	_, err = l.List("docs", "[")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = l.List("nope", "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	ok, err := l.Exists("docs/a.md")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.Exists("docs/z.md")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDocumentLoader_Load(t *testing.T) {
	l, _ := newTestLoader(t)
	_, err := l.Write("brief.md", "the brief", false)
	require.NoError(t, err)

	docs, err := l.Load("brief.md", "missing.md")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"brief.md": "the brief"}, docs)
}
