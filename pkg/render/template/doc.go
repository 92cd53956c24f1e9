// Package template defines the engine-agnostic rendering contract used by the
// render step: template text and a context go in, rendered text or a fatal
// error comes out. Included templates are located through a ResolveFunc
// supplied per call, so resolution never depends on engine-wide state.
package template
