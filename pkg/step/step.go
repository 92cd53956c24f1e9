package step

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"

	"github.com/goliatone/go-filetemplate/pkg/config"
	"github.com/goliatone/go-filetemplate/pkg/record"
	"github.com/goliatone/go-filetemplate/pkg/render/template"
	"github.com/goliatone/go-filetemplate/pkg/resource"
)

const loggerName = "filefromtemplate"

var metricPrefix = []string{"filefromtemplate"}

// Option customises a Step.
type Option func(*Step)

// WithLogger sets the logger failures and successes are reported to.
func WithLogger(logger hclog.Logger) Option {
	return func(s *Step) {
		if logger != nil {
			s.logger = logger.Named(loggerName)
		}
	}
}

// WithMetrics sends counters and timings to m instead of the global sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Step) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Step renders one record at a time. It holds no per-record state, so a
// single Step may process records from many goroutines at once as long as the
// renderer and provider are safe for concurrent use.
type Step struct {
	renderer template.Renderer
	provider config.Provider
	logger   hclog.Logger
	metrics  *metrics.Metrics
}

// New constructs a Step. The provider is consulted on every record.
func New(renderer template.Renderer, provider config.Provider, options ...Option) (*Step, error) {
	if renderer == nil {
		return nil, errors.New("step: renderer is required")
	}
	if provider == nil {
		return nil, errors.New("step: config provider is required")
	}

	s := &Step{
		renderer: renderer,
		provider: provider,
		logger:   hclog.NewNullLogger(),
		metrics:  metrics.Default(),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s, nil
}

// Trigger pulls at most one record from session, processes it and transfers
// it to its relationship. It reports whether a record was processed; with no
// record waiting it returns immediately without side effects.
func (s *Step) Trigger(ctx context.Context, session Session) (bool, error) {
	if session == nil {
		return false, errors.New("step: session is required")
	}
	rec, ok := session.Get(ctx)
	if !ok || rec == nil {
		return false, nil
	}

	result := s.Process(ctx, rec)
	if err := session.Transfer(result.Record, result.Relationship); err != nil {
		return true, fmt.Errorf("step: transfer record %s to %s: %w", rec.ID(), result.Relationship, err)
	}
	return true, nil
}

// Process runs rec through every phase and returns its single Result. ctx is
// only consulted while the configuration is resolved; once a record has
// started it runs to completion.
func (s *Step) Process(ctx context.Context, rec record.Record) Result {
	start := time.Now()
	defer s.metrics.MeasureSince(append(metricPrefix, "process"), start)

	cfg, err := s.provider.Config(ctx)
	if err != nil {
		return s.fail(rec, PhaseConfig, fmt.Errorf("%w: %w", ErrConfig, err))
	}
	cfg.ApplyDefaults()

	src, err := SelectTemplate(cfg, rec.Attributes())
	if err != nil {
		return s.fail(rec, PhaseTemplate, err)
	}

	data, err := BuildContext(cfg, rec)
	if err != nil {
		return s.fail(rec, PhaseContext, err)
	}

	resolver := resource.New(cfg.ResourcesRoot, src.Path)
	renderStart := time.Now()
	rendered, err := s.renderer.RenderString(src.Text, data, resolver.Func())
	s.metrics.MeasureSince(append(metricPrefix, "render"), renderStart)
	if err != nil {
		return s.fail(rec, PhaseRender, fmt.Errorf("%w: %w", ErrRender, err))
	}

	path, err := WriteOutput(rendered, cfg)
	if err != nil {
		return s.fail(rec, PhaseOutput, err)
	}

	out := record.PutAttribute(rec, cfg.OutputPathAttribute, path)
	s.logger.Debug("rendered template", "record_id", rec.ID(), "output_path", path, "inline", src.Inline())
	s.count(RelSuccess)

	return Result{
		Relationship: RelSuccess,
		Record:       out,
		OutputPath:   path,
	}
}

var failureMessages = map[Phase]string{
	PhaseConfig:   "could not resolve the configuration",
	PhaseTemplate: "could not read the template file",
	PhaseContext:  "record did not have valid JSON content",
	PhaseRender:   "template rendering problem",
	PhaseOutput:   "could not write the output file",
}

func (s *Step) fail(rec record.Record, phase Phase, err error) Result {
	perr := &PhaseError{Phase: phase, RecordID: rec.ID(), Err: err}
	rel := relationshipFor(perr)

	s.logger.Error(failureMessages[phase],
		"phase", string(phase),
		"record_id", rec.ID(),
		"relationship", string(rel),
		"error", err,
	)
	s.count(rel)

	return Result{
		Relationship: rel,
		Record:       rec,
		Err:          perr,
	}
}

func (s *Step) count(rel Relationship) {
	s.metrics.IncrCounter(append(metricPrefix, "routed", string(rel)), 1)
}
