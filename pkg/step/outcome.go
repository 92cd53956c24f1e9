package step

import (
	"errors"

	"github.com/goliatone/go-filetemplate/pkg/record"
)

// Relationship is a routing destination exposed to the host.
type Relationship string

const (
	RelSuccess     Relationship = "success"
	RelFailure     Relationship = "failure"
	RelJSONFailure Relationship = "json_failure"
)

// Relationships lists every destination a record can be routed to.
func Relationships() []Relationship {
	return []Relationship{RelSuccess, RelFailure, RelJSONFailure}
}

// Result is the single outcome of processing one record. Record is the value
// to hand back to the host: on success it carries the output path attribute,
// otherwise it is the input record unchanged.
type Result struct {
	Relationship Relationship
	Record       record.Record
	OutputPath   string
	Err          error
}

// OK reports whether the record was routed to success.
func (r Result) OK() bool {
	return r.Relationship == RelSuccess
}

func relationshipFor(err error) Relationship {
	switch {
	case err == nil:
		return RelSuccess
	case errors.Is(err, ErrContentParse):
		return RelJSONFailure
	default:
		return RelFailure
	}
}
