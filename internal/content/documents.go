package content

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rendis/stepflow/pkg/schema"
)

// defaultMaxReadSize bounds a single document read.
const defaultMaxReadSize = 10 * 1024 * 1024

// DocumentLoader reads and writes project documents under a root directory.
// Every path is resolved through os.Root, so symlinks and ".." cannot escape the root.
type DocumentLoader struct {
	root        string
	maxReadSize int64
}

// NewDocumentLoader roots a loader at dir. The directory must exist.
func NewDocumentLoader(dir string) (*DocumentLoader, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, schema.IOError("resolve project root", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, schema.IOError("stat project root", err)
	}
	if !info.IsDir() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "project root %q is not a directory", abs)
	}
	return &DocumentLoader{root: abs, maxReadSize: defaultMaxReadSize}, nil
}

// Root returns the absolute project root.
func (d *DocumentLoader) Root() string { return d.root }

func (d *DocumentLoader) open() (*os.Root, error) {
	r, err := os.OpenRoot(d.root)
	if err != nil {
		return nil, schema.IOError("open project root", err)
	}
	return r, nil
}

// Read returns the text of the document at p.
func (d *DocumentLoader) Read(p string) (string, error) {
	r, err := d.open()
	if err != nil {
		return "", err
	}
	defer r.Close()

	rel := clean(p)
	info, err := r.Stat(rel)
	if err != nil {
		return "", documentError("read", p, err)
	}
	if info.IsDir() {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "%q is a directory", p)
	}
	if info.Size() > d.maxReadSize {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "%q exceeds the %d byte read limit", p, d.maxReadSize)
	}
	data, err := r.ReadFile(rel)
	if err != nil {
		return "", documentError("read", p, err)
	}
	return string(data), nil
}

// Write stores content at p, creating parent directories. appendMode appends instead of
// truncating. It returns the number of bytes written.
func (d *DocumentLoader) Write(p, content string, appendMode bool) (int, error) {
	r, err := d.open()
	if err != nil {
		return 0, err
	}
	defer r.Close()

	rel := clean(p)
	if dir := path.Dir(rel); dir != "." {
		if err := r.MkdirAll(dir, 0o755); err != nil {
			return 0, documentError("mkdir", p, err)
		}
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendMode {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := r.OpenFile(rel, flags, 0o644)
	if err != nil {
		return 0, documentError("write", p, err)
	}
	n, werr := f.WriteString(content)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return n, documentError("write", p, werr)
	}
	return n, nil
}

// List returns the regular files directly under dir, relative to the root and sorted.
// A non-empty pattern filters base names with path.Match syntax.
func (d *DocumentLoader) List(dir, pattern string) ([]string, error) {
	if pattern != "" {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid pattern %q", pattern).WithCause(err)
		}
	}
	r, err := d.open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	rel := clean(dir)
	entries, err := fs.ReadDir(r.FS(), rel)
	if err != nil {
		return nil, documentError("list", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if pattern != "" {
			if ok, _ := path.Match(pattern, e.Name()); !ok {
				continue
			}
		}
		out = append(out, path.Join(rel, e.Name()))
	}
	slices.Sort(out)
	return out, nil
}

// Exists reports whether p names an existing document or directory.
func (d *DocumentLoader) Exists(p string) (bool, error) {
	r, err := d.open()
	if err != nil {
		return false, err
	}
	defer r.Close()

	if _, err := r.Stat(clean(p)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, documentError("stat", p, err)
	}
	return true, nil
}

// Load reads each named document, keyed by its path. Missing documents are skipped;
// other failures abort the load.
func (d *DocumentLoader) Load(paths ...string) (map[string]string, error) {
	docs := make(map[string]string, len(paths))
	for _, p := range paths {
		text, err := d.Read(p)
		if err != nil {
			if schema.IsCode(err, schema.ErrCodeNotFound) {
				continue
			}
			return nil, err
		}
		docs[p] = text
	}
	return docs, nil
}

// clean turns a caller path into a root-relative slash path. Leading slashes are dropped
// so "/docs/prd.md" addresses the project's docs directory.
func clean(p string) string {
	p = filepath.ToSlash(strings.TrimSpace(p))
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "."
	}
	return path.Clean(p)
}

func documentError(op, p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return schema.NewErrorf(schema.ErrCodeNotFound, "document %q not found", p).WithCause(err)
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) && strings.Contains(pathErr.Err.Error(), "escapes") {
		return schema.NewErrorf(schema.ErrCodeValidation, "path %q escapes the project root", p).WithCause(err)
	}
	return schema.IOError(op+" "+p, err)
}
