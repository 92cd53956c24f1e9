package pongo

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/flosch/pongo2/v6"

	"github.com/goliatone/go-filetemplate/pkg/render/template"
)

// maxLoadsPerTemplate bounds how often one file may be loaded during a single
// render. pongo2 expands literal includes while parsing, so a file that
// includes itself, directly or through others, would otherwise recurse until
// the runtime aborts.
const maxLoadsPerTemplate = 64

// ErrIncludeCycle is reported when a template keeps including itself.
var ErrIncludeCycle = errors.New("pongo: include cycle")

// includeLoader is the only loader of a per-render template set. pongo2 calls
// Abs for every include, import and extends; the name goes through the
// caller's resolver exactly once.
type includeLoader struct {
	resolve template.ResolveFunc

	mu       sync.Mutex
	resolved map[string]struct{}
	loads    map[string]int
}

var _ pongo2.TemplateLoader = (*includeLoader)(nil)

func newIncludeLoader(resolve template.ResolveFunc) *includeLoader {
	return &includeLoader{
		resolve:  resolve,
		resolved: make(map[string]struct{}),
		loads:    make(map[string]int),
	}
}

// Abs ignores base: include names are resolved against the configured roots,
// not against the including file. Paths this loader already produced are
// returned unchanged, since pongo2 may hand them back for a second pass.
func (l *includeLoader) Abs(_, name string) string {
	if name == "" {
		return ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.resolved[name]; ok {
		return name
	}
	if l.resolve == nil {
		return ""
	}
	path, ok := l.resolve(name)
	if !ok || path == "" {
		return ""
	}
	l.resolved[path] = struct{}{}
	return path
}

// Get returns the include body. Unresolved or unreadable includes yield an
// empty template instead of an error; a file loaded too often fails with
// ErrIncludeCycle.
func (l *includeLoader) Get(path string) (io.Reader, error) {
	if path == "" {
		return bytes.NewReader(nil), nil
	}

	l.mu.Lock()
	l.loads[path]++
	n := l.loads[path]
	l.mu.Unlock()
	if n > maxLoadsPerTemplate {
		return nil, fmt.Errorf("%w: %s loaded more than %d times", ErrIncludeCycle, path, maxLoadsPerTemplate)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return bytes.NewReader(nil), nil
	}
	return bytes.NewReader(data), nil
}
