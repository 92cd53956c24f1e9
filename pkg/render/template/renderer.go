package template

import (
	"errors"
	"io"
)

// ErrRender marks fatal template syntax or evaluation errors. Engines wrap it
// so callers can classify failures with errors.Is.
var ErrRender = errors.New("template: render failed")

// Context is the data exposed to a template during evaluation.
type Context map[string]any

// ResolveFunc maps an include name to an absolute file path. ok is false when
// the name cannot be resolved; engines then treat the include as absent.
type ResolveFunc func(name string) (path string, ok bool)

// Renderer renders template text against a context.
type Renderer interface {
	RenderString(templateContent string, data Context, resolve ResolveFunc, out ...io.Writer) (string, error)
}

// TemplateRenderer extends Renderer with the engine customisation hooks
// exposed by concrete adapters.
type TemplateRenderer interface {
	Renderer
	RegisterFilter(name string, fn func(input any, param any) (any, error)) error
	GlobalContext(data any) error
}
