package step

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Phase names the stage of processing a failure happened in.
type Phase string

// Phases in execution order.
const (
	PhaseConfig   Phase = "config"
	PhaseTemplate Phase = "template"
	PhaseContext  Phase = "context"
	PhaseRender   Phase = "render"
	PhaseOutput   Phase = "output"
)

// Error kinds. Every PhaseError wraps exactly one of them.
var (
	ErrConfig       = errors.New("step: configuration unavailable")
	ErrTemplateRead = errors.New("step: template read failed")
	ErrContentParse = errors.New("step: content is not a JSON object")
	ErrContentRead  = errors.New("step: content read failed")
	ErrRender       = errors.New("step: render failed")
	ErrOutputWrite  = errors.New("step: output write failed")
)

// PhaseError ties a failure to the record and phase it happened in.
type PhaseError struct {
	Phase    Phase
	RecordID string
	Err      error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("step: %s phase failed for record %s: %v", e.Phase, e.RecordID, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// isParseError separates malformed JSON from failures of the content stream
// itself.
func isParseError(err error) bool {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	return errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
