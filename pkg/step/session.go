package step

import (
	"context"

	"github.com/goliatone/go-filetemplate/pkg/record"
)

// Session is the slice of the host pipeline the step talks to. Get returns
// false when no record is waiting.
type Session interface {
	Get(ctx context.Context) (record.Record, bool)
	Transfer(rec record.Record, rel Relationship) error
}
