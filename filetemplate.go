package filetemplate

import (
	"github.com/goliatone/go-filetemplate/pkg/config"
	"github.com/goliatone/go-filetemplate/pkg/render/template/pongo"
	"github.com/goliatone/go-filetemplate/pkg/step"
)

// Result is the routed outcome of one record; alias exported via the root
// package for convenience.
type Result = step.Result

// Relationship names the downstream destination of a record.
type Relationship = step.Relationship

// Session is the host contract the step pulls records from and routes them to.
type Session = step.Session

// The three relationships a record can be routed to.
const (
	RelSuccess     = step.RelSuccess
	RelFailure     = step.RelFailure
	RelJSONFailure = step.RelJSONFailure
)

// NewStep builds a step backed by the default pongo2 engine. Use engineOpts to
// customise the engine, for example to add filters or global values.
func NewStep(provider config.Provider, options []step.Option, engineOpts ...pongo.Option) (*step.Step, error) {
	engine, err := pongo.New(engineOpts...)
	if err != nil {
		return nil, err
	}
	return step.New(engine, provider, options...)
}

// NewStaticStep is shorthand for a step whose configuration never changes.
func NewStaticStep(cfg config.Config, options ...step.Option) (*step.Step, error) {
	return NewStep(config.Static(cfg), options)
}
