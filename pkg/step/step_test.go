package step_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"

	"github.com/goliatone/go-filetemplate/internal/host"
	"github.com/goliatone/go-filetemplate/pkg/config"
	"github.com/goliatone/go-filetemplate/pkg/record"
	"github.com/goliatone/go-filetemplate/pkg/render/template"
	"github.com/goliatone/go-filetemplate/pkg/render/template/pongo"
	"github.com/goliatone/go-filetemplate/pkg/step"
	"github.com/goliatone/go-filetemplate/pkg/testsupport"
)

func TestProcess_AttributeRoundTrip(t *testing.T) {
	cfg := scratchConfig(t)
	cfg.InlineTemplate = config.Inline("value={{ attributes.foo }}")
	s := newStep(t, config.Static(cfg))

	rec := record.New(map[string]string{"foo": "bar"})
	res := s.Process(context.Background(), rec)

	if res.Relationship != step.RelSuccess || res.Err != nil {
		t.Fatalf("expected success, got %s (%v)", res.Relationship, res.Err)
	}
	if got := readFile(t, res.OutputPath); got != "value=bar" {
		t.Fatalf("rendered output mismatch: %q", got)
	}

	want := rec.Attributes()
	want[config.DefaultOutputPathAttribute] = res.OutputPath
	if diff := cmp.Diff(want, res.Record.Attributes()); diff != "" {
		t.Fatalf("attributes mismatch (-want +got):\n%s", diff)
	}
	if !filepath.IsAbs(res.OutputPath) {
		t.Fatalf("output path is not absolute: %q", res.OutputPath)
	}
	if _, ok := rec.Attribute(config.DefaultOutputPathAttribute); ok {
		t.Fatalf("input record must not be mutated")
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(res.OutputPath)
		if err != nil {
			t.Fatalf("stat output: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0o644 {
			t.Fatalf("output mode = %v, want 0644", perm)
		}
	}
}

func TestProcess_CustomOutputAttribute(t *testing.T) {
	cfg := scratchConfig(t)
	cfg.InlineTemplate = config.Inline("x")
	cfg.OutputPathAttribute = "report.path"
	s := newStep(t, config.Static(cfg))

	res := s.Process(context.Background(), record.New(nil))
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if got, _ := res.Record.Attribute("report.path"); got != res.OutputPath {
		t.Fatalf("output attribute mismatch: %q vs %q", got, res.OutputPath)
	}
	if _, ok := res.Record.Attribute(config.DefaultOutputPathAttribute); ok {
		t.Fatalf("default attribute key must not be written")
	}
}

func TestProcess_JSONContent(t *testing.T) {
	cfg := scratchConfig(t)
	cfg.ParseJSONContent = true
	cfg.InlineTemplate = config.Inline("{{ content.a }}")
	s := newStep(t, config.Static(cfg))

	res := s.Process(context.Background(), record.New(nil, record.WithContent([]byte(`{"a": 1}`))))
	if !res.OK() {
		t.Fatalf("expected success, got %s (%v)", res.Relationship, res.Err)
	}
	if got := readFile(t, res.OutputPath); got != "1" {
		t.Fatalf("rendered output mismatch: %q", got)
	}
}

func TestProcess_InvalidJSONRoutesToJSONFailure(t *testing.T) {
	for name, content := range map[string]string{
		"not json": "not json",
		"array":    "[1, 2, 3]",
		"scalar":   "true",
	} {
		t.Run(name, func(t *testing.T) {
			cfg := scratchConfig(t)
			cfg.ParseJSONContent = true
			cfg.InlineTemplate = config.Inline("{{ content.a }}")
			s := newStep(t, config.Static(cfg))

			rec := record.New(map[string]string{"k": "v"}, record.WithContent([]byte(content)))
			res := s.Process(context.Background(), rec)

			if res.Relationship != step.RelJSONFailure {
				t.Fatalf("expected json_failure, got %s (%v)", res.Relationship, res.Err)
			}
			assertPhase(t, res.Err, step.PhaseContext, rec.ID())
			if !errors.Is(res.Err, step.ErrContentParse) {
				t.Fatalf("expected ErrContentParse, got %v", res.Err)
			}
			if diff := cmp.Diff(rec.Attributes(), res.Record.Attributes()); diff != "" {
				t.Fatalf("failed record must be unchanged (-want +got):\n%s", diff)
			}
			assertNoOutput(t, cfg.OutputDir)
		})
	}
}

func TestProcess_JSONDisabledLeavesContentAbsent(t *testing.T) {
	cfg := scratchConfig(t)
	cfg.InlineTemplate = config.Inline("[{{ content.a }}]{% if content %}present{% else %}absent{% endif %}")
	s := newStep(t, config.Static(cfg))

	res := s.Process(context.Background(), record.New(nil, record.WithContent([]byte("not json at all"))))
	if !res.OK() {
		t.Fatalf("expected success, got %s (%v)", res.Relationship, res.Err)
	}
	if got := readFile(t, res.OutputPath); got != "[]absent" {
		t.Fatalf("rendered output mismatch: %q", got)
	}
}

func TestProcess_ResourcesRootWinsOverTemplateDir(t *testing.T) {
	templates := testsupport.WriteTree(t, map[string]string{
		"main.j2":   `<{% include "header.j2" %}>`,
		"header.j2": "template-dir",
	})
	resources := testsupport.WriteTree(t, map[string]string{
		"header.j2": "resources-root",
	})

	cfg := scratchConfig(t)
	cfg.TemplatePath = filepath.Join(templates, "main.j2")
	s := newStep(t, config.Static(cfg))

	res := s.Process(context.Background(), record.New(nil))
	if got := readFile(t, res.OutputPath); got != "<template-dir>" {
		t.Fatalf("template dir include mismatch: %q", got)
	}

	cfg.ResourcesRoot = resources
	s = newStep(t, config.Static(cfg))
	res = s.Process(context.Background(), record.New(nil))
	if got := readFile(t, res.OutputPath); got != "<resources-root>" {
		t.Fatalf("resources root include mismatch: %q", got)
	}
}

func TestProcess_InlineTemplateIncludes(t *testing.T) {
	resources := testsupport.WriteTree(t, map[string]string{
		"partials/greeting.j2": "hi {{ attributes.name }}",
	})

	cfg := scratchConfig(t)
	cfg.InlineTemplate = config.Inline(`{% include "partials/greeting.j2" %}|{% include "partials/missing.j2" %}`)
	s := newStep(t, config.Static(cfg))

	res := s.Process(context.Background(), record.New(map[string]string{"name": "ada"}))
	if got := readFile(t, res.OutputPath); got != "|" {
		t.Fatalf("inline template without resources root must not resolve includes: %q", got)
	}

	cfg.ResourcesRoot = resources
	s = newStep(t, config.Static(cfg))
	res = s.Process(context.Background(), record.New(map[string]string{"name": "ada"}))
	if got := readFile(t, res.OutputPath); got != "hi ada|" {
		t.Fatalf("include mismatch: %q", got)
	}
}

func TestProcess_IncludeCyclesRouteToFailure(t *testing.T) {
	resources := testsupport.WriteTree(t, map[string]string{
		"loop.j2": `x{% include "loop.j2" %}`,
		"a.j2":    `a{% include "b.j2" %}`,
		"b.j2":    `b{% include "a.j2" %}`,
	})

	for name, body := range map[string]string{
		"self include": `{% include "loop.j2" %}`,
		"a to b to a":  `{% include "a.j2" %}`,
	} {
		t.Run(name, func(t *testing.T) {
			cfg := scratchConfig(t)
			cfg.ResourcesRoot = resources
			cfg.InlineTemplate = config.Inline(body)
			s := newStep(t, config.Static(cfg))

			rec := record.New(nil)
			res := s.Process(context.Background(), rec)

			if res.Relationship != step.RelFailure {
				t.Fatalf("expected failure, got %s (%v)", res.Relationship, res.Err)
			}
			assertPhase(t, res.Err, step.PhaseRender, rec.ID())
			if !errors.Is(res.Err, step.ErrRender) {
				t.Fatalf("expected ErrRender, got %v", res.Err)
			}
			assertNoOutput(t, cfg.OutputDir)
		})
	}
}

func TestProcess_TemplatePathFromAttributes(t *testing.T) {
	templates := testsupport.WriteTree(t, map[string]string{
		"acme/invoice.j2":   "acme {{ attributes.number }}",
		"globex/invoice.j2": "globex {{ attributes.number }}",
	})

	cfg := scratchConfig(t)
	cfg.TemplatePath = filepath.Join(templates, "${tenant}", "invoice.j2")
	s := newStep(t, config.Static(cfg))

	for tenant, want := range map[string]string{"acme": "acme 7", "globex": "globex 7"} {
		res := s.Process(context.Background(), record.New(map[string]string{"tenant": tenant, "number": "7"}))
		if got := readFile(t, res.OutputPath); got != want {
			t.Fatalf("tenant %s: got %q want %q", tenant, got, want)
		}
	}
}

func TestProcess_Failures(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, cfg *config.Config)
		phase step.Phase
		kind  error
	}{
		{
			name: "missing template file",
			setup: func(t *testing.T, cfg *config.Config) {
				cfg.TemplatePath = filepath.Join(t.TempDir(), "nope.j2")
			},
			phase: step.PhaseTemplate,
			kind:  step.ErrTemplateRead,
		},
		{
			name: "syntax error",
			setup: func(_ *testing.T, cfg *config.Config) {
				cfg.InlineTemplate = config.Inline("{% for x in %}")
			},
			phase: step.PhaseRender,
			kind:  step.ErrRender,
		},
		{
			name: "unknown filter",
			setup: func(_ *testing.T, cfg *config.Config) {
				cfg.InlineTemplate = config.Inline("{{ attributes.foo|no_such_filter }}")
			},
			phase: step.PhaseRender,
			kind:  template.ErrRender,
		},
		{
			name: "unwritable output dir",
			setup: func(t *testing.T, cfg *config.Config) {
				cfg.InlineTemplate = config.Inline("ok")
				cfg.OutputDir = filepath.Join(t.TempDir(), "missing")
			},
			phase: step.PhaseOutput,
			kind:  step.ErrOutputWrite,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := scratchConfig(t)
			tc.setup(t, &cfg)
			s := newStep(t, config.Static(cfg))

			rec := record.New(map[string]string{"foo": "bar"})
			res := s.Process(context.Background(), rec)

			if res.Relationship != step.RelFailure {
				t.Fatalf("expected failure, got %s (%v)", res.Relationship, res.Err)
			}
			assertPhase(t, res.Err, tc.phase, rec.ID())
			if !errors.Is(res.Err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, res.Err)
			}
			if res.OutputPath != "" {
				t.Fatalf("failure must not report an output path")
			}
			if diff := cmp.Diff(rec.Attributes(), res.Record.Attributes()); diff != "" {
				t.Fatalf("failed record must be unchanged (-want +got):\n%s", diff)
			}
			if tc.phase != step.PhaseOutput {
				assertNoOutput(t, cfg.OutputDir)
			}
		})
	}
}

func TestProcess_ConfigFailureStillRoutes(t *testing.T) {
	provider := config.ProviderFunc(func(context.Context) (config.Config, error) {
		return config.Config{}, errors.New("config store offline")
	})
	s := newStep(t, provider)

	res := s.Process(context.Background(), record.New(nil))
	if res.Relationship != step.RelFailure || !errors.Is(res.Err, step.ErrConfig) {
		t.Fatalf("expected config failure, got %s (%v)", res.Relationship, res.Err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = newStep(t, config.Static(config.Defaults())).Process(ctx, record.New(nil))
	if res.Relationship != step.RelFailure || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected cancelled record to route to failure, got %s (%v)", res.Relationship, res.Err)
	}
}

func TestProcess_ConfigurationIsReadPerRecord(t *testing.T) {
	cfg := scratchConfig(t)
	cfg.InlineTemplate = config.Inline("v1")
	dyn := config.NewDynamic(cfg)
	s := newStep(t, dyn)

	first := s.Process(context.Background(), record.New(nil))

	cfg.InlineTemplate = config.Inline("v2")
	dyn.Store(cfg)
	second := s.Process(context.Background(), record.New(nil))

	if got := readFile(t, first.OutputPath); got != "v1" {
		t.Fatalf("first render: %q", got)
	}
	if got := readFile(t, second.OutputPath); got != "v2" {
		t.Fatalf("second render: %q", got)
	}
}

func TestProcess_TemplateFilesAreNotCached(t *testing.T) {
	templates := testsupport.WriteTree(t, map[string]string{
		"main.j2": `{% include "inc.j2" %}`,
		"inc.j2":  "before",
	})
	cfg := scratchConfig(t)
	cfg.TemplatePath = filepath.Join(templates, "main.j2")
	s := newStep(t, config.Static(cfg))

	first := s.Process(context.Background(), record.New(nil))
	if err := os.WriteFile(filepath.Join(templates, "inc.j2"), []byte("after"), 0o644); err != nil {
		t.Fatalf("rewrite include: %v", err)
	}
	second := s.Process(context.Background(), record.New(nil))

	if a, b := readFile(t, first.OutputPath), readFile(t, second.OutputPath); a != "before" || b != "after" {
		t.Fatalf("expected fresh include reads, got %q then %q", a, b)
	}
}

func TestProcess_ExactlyOneOutcomeUnderConcurrency(t *testing.T) {
	cfg := scratchConfig(t)
	cfg.ParseJSONContent = true
	cfg.InlineTemplate = config.Inline("{{ attributes.i }}:{{ content.v }}")
	s := newStep(t, config.Static(cfg))

	const n = 48
	results := make([]step.Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		content := fmt.Sprintf(`{"v": %d}`, i)
		if i%3 == 0 {
			content = "broken"
		}
		rec := record.New(map[string]string{"i": fmt.Sprint(i)}, record.WithContent([]byte(content)))

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Process(context.Background(), rec)
		}(i)
	}
	wg.Wait()

	counts := map[step.Relationship]int{}
	for i, res := range results {
		counts[res.Relationship]++
		if i%3 == 0 {
			if res.Relationship != step.RelJSONFailure {
				t.Fatalf("record %d: expected json_failure, got %s", i, res.Relationship)
			}
			continue
		}
		if want := fmt.Sprintf("%d:%d", i, i); readFile(t, res.OutputPath) != want {
			t.Fatalf("record %d: output mismatch", i)
		}
	}
	if counts[step.RelSuccess]+counts[step.RelJSONFailure] != n || counts[step.RelFailure] != 0 {
		t.Fatalf("unexpected outcome counts: %v", counts)
	}
	if got := len(testsupport.ListDir(t, cfg.OutputDir)); got != counts[step.RelSuccess] {
		t.Fatalf("expected %d output files, found %d", counts[step.RelSuccess], got)
	}
}

func TestTrigger(t *testing.T) {
	cfg := scratchConfig(t)
	cfg.ParseJSONContent = true
	cfg.InlineTemplate = config.Inline("{{ attributes.name }}")
	s := newStep(t, config.Static(cfg))

	queue := host.NewQueue()
	processed, err := s.Trigger(context.Background(), queue)
	if err != nil || processed {
		t.Fatalf("empty input must be a no-op, got processed=%v err=%v", processed, err)
	}
	if queue.Total() != 0 {
		t.Fatalf("empty input must not route anything")
	}
	assertNoOutput(t, cfg.OutputDir)

	queue.Enqueue(
		record.New(map[string]string{"name": "ok"}),
		record.New(map[string]string{"name": "bad"}, record.WithContent([]byte("{"))),
	)
	for i := 0; i < 2; i++ {
		processed, err := s.Trigger(context.Background(), queue)
		if err != nil || !processed {
			t.Fatalf("trigger %d: processed=%v err=%v", i, processed, err)
		}
	}

	if got := len(queue.Routed(step.RelSuccess)); got != 1 {
		t.Fatalf("expected 1 success, got %d", got)
	}
	if got := len(queue.Routed(step.RelJSONFailure)); got != 1 {
		t.Fatalf("expected 1 json_failure, got %d", got)
	}
	routed := queue.Routed(step.RelSuccess)[0]
	if _, ok := routed.Attribute(config.DefaultOutputPathAttribute); !ok {
		t.Fatalf("routed success record lacks output path")
	}
}

func TestTrigger_TransferError(t *testing.T) {
	cfg := scratchConfig(t)
	cfg.InlineTemplate = config.Inline("x")
	s := newStep(t, config.Static(cfg))

	processed, err := s.Trigger(context.Background(), rejectingSession{rec: record.New(nil)})
	if !processed || err == nil {
		t.Fatalf("expected transfer error to surface, got processed=%v err=%v", processed, err)
	}
}

func TestProcess_LogsFailureContext(t *testing.T) {
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Debug})

	cfg := scratchConfig(t)
	cfg.InlineTemplate = config.Inline("{% if %}")
	s := newStep(t, config.Static(cfg), step.WithLogger(logger))

	rec := record.New(nil, record.WithID("rec-42"))
	s.Process(context.Background(), rec)

	out := buf.String()
	for _, want := range []string{"filefromtemplate", "template rendering problem", "phase=render", "record_id=rec-42", "relationship=failure"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestProcess_EmitsMetrics(t *testing.T) {
	inm := metrics.NewInmemSink(time.Minute, time.Minute)
	mcfg := metrics.DefaultConfig("test")
	mcfg.EnableHostname = false
	mcfg.EnableRuntimeMetrics = false
	m, err := metrics.New(mcfg, inm)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	cfg := scratchConfig(t)
	cfg.ParseJSONContent = true
	cfg.InlineTemplate = config.Inline("ok")
	s := newStep(t, config.Static(cfg), step.WithMetrics(m))

	s.Process(context.Background(), record.New(nil))
	s.Process(context.Background(), record.New(nil))
	s.Process(context.Background(), record.New(nil, record.WithContent([]byte("nope"))))

	if got := counter(inm, "test.filefromtemplate.routed.success"); got != 2 {
		t.Fatalf("success counter = %d", got)
	}
	if got := counter(inm, "test.filefromtemplate.routed.json_failure"); got != 1 {
		t.Fatalf("json_failure counter = %d", got)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	engine, err := pongo.New()
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if _, err := step.New(nil, config.Static(config.Defaults())); err == nil {
		t.Fatalf("expected error without renderer")
	}
	if _, err := step.New(engine, nil); err == nil {
		t.Fatalf("expected error without provider")
	}
}

func TestRelationships(t *testing.T) {
	want := []step.Relationship{"success", "failure", "json_failure"}
	if diff := cmp.Diff(want, step.Relationships()); diff != "" {
		t.Fatalf("relationships mismatch (-want +got):\n%s", diff)
	}
}

func newStep(t *testing.T, provider config.Provider, options ...step.Option) *step.Step {
	t.Helper()

	engine, err := pongo.New()
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	s, err := step.New(engine, provider, options...)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	return s
}

func scratchConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.OutputDir = t.TempDir()
	return cfg
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	if path == "" {
		t.Fatalf("empty output path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return string(data)
}

func assertPhase(t *testing.T, err error, phase step.Phase, recordID string) {
	t.Helper()
	var perr *step.PhaseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *step.PhaseError, got %T (%v)", err, err)
	}
	if perr.Phase != phase || perr.RecordID != recordID {
		t.Fatalf("phase error mismatch: phase=%s record=%s", perr.Phase, perr.RecordID)
	}
}

func assertNoOutput(t *testing.T, dir string) {
	t.Helper()
	if names := testsupport.ListDir(t, dir); len(names) != 0 {
		t.Fatalf("expected no output files, found %v", names)
	}
}

func counter(inm *metrics.InmemSink, key string) int {
	total := 0
	for _, interval := range inm.Data() {
		if sample, ok := interval.Counters[key]; ok && sample.AggregateSample != nil {
			total += sample.Count
		}
	}
	return total
}

type rejectingSession struct {
	rec record.Record
}

func (s rejectingSession) Get(context.Context) (record.Record, bool) {
	return s.rec, true
}

func (rejectingSession) Transfer(record.Record, step.Relationship) error {
	return errors.New("downstream full")
}
