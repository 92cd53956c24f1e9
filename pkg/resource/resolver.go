// Package resource locates included templates on disk.
package resource

import (
	"path/filepath"
	"strings"

	"github.com/goliatone/go-filetemplate/pkg/render/template"
)

// Resolver maps include names to absolute paths. The first matching rule
// wins:
//
//  1. Root set: the name is joined with Root.
//  2. TemplatePath set: the name is joined with the template's directory.
//  3. Otherwise the name cannot be resolved.
//
// A Resolver is a plain value built for one invocation; it caches nothing.
type Resolver struct {
	Root         string
	TemplatePath string
}

// New returns a Resolver for the configured resources root and the template
// path in effect for the current record (empty for inline templates).
func New(root, templatePath string) Resolver {
	return Resolver{
		Root:         strings.TrimSpace(root),
		TemplatePath: strings.TrimSpace(templatePath),
	}
}

// Resolve returns the absolute path for name, or false when no rule applies.
func (r Resolver) Resolve(name string) (string, bool) {
	var base string
	switch {
	case r.Root != "":
		base = r.Root
	case r.TemplatePath != "":
		base = filepath.Dir(r.TemplatePath)
	default:
		return "", false
	}

	abs, err := filepath.Abs(filepath.Join(base, name))
	if err != nil {
		return "", false
	}
	return abs, true
}

// Func exposes Resolve as a template.ResolveFunc.
func (r Resolver) Func() template.ResolveFunc {
	return r.Resolve
}
