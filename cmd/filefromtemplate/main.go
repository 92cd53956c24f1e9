package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/goliatone/go-filetemplate"
	"github.com/goliatone/go-filetemplate/internal/host"
	"github.com/goliatone/go-filetemplate/internal/prompt"
	"github.com/goliatone/go-filetemplate/pkg/config"
	"github.com/goliatone/go-filetemplate/pkg/record"
	"github.com/goliatone/go-filetemplate/pkg/step"
)

const (
	exitSuccess     = 0
	exitFailure     = 1
	exitJSONFailure = 2
	exitUsage       = 64
)

const defaultConfigFile = "filefromtemplate.yaml"

// newDriver is swapped in tests.
var newDriver = func() prompt.Driver { return prompt.NewSurveyDriver() }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	switch args[0] {
	case "render":
		return runRender(ctx, args[1:], stdin, stdout, stderr)
	case "init":
		return runInit(ctx, args[1:], stdout, stderr)
	case "-h", "-help", "--help", "help":
		usage(stdout)
		return exitSuccess
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		usage(stderr)
		return exitUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: %s <command> [flags]\n\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  render   render a template for one or more records and route them")
	fmt.Fprintln(w, "  init     write a configuration file interactively")
}

type attrFlags map[string]string

func (a attrFlags) String() string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+a[k])
	}
	return strings.Join(pairs, ",")
}

func (a attrFlags) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("attribute %q must look like key=value", value)
	}
	a[strings.TrimSpace(key)] = val
	return nil
}

func runRender(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: render [flags] [content files...]\n\nEach content file becomes one record. Without files a single record is\nrendered, reading content from -content.\n\n")
		fs.PrintDefaults()
	}

	attrs := attrFlags{}
	var (
		configPath   = fs.String("config", "", "YAML configuration file, re-read for every record")
		inline       = fs.String("template", "", "inline template body")
		templatePath = fs.String("template-path", "", "template file; may contain ${attribute} expressions")
		resources    = fs.String("resources-root", "", "base directory for included templates")
		parseJSON    = fs.Bool("json", false, "parse record content as a JSON object")
		prefix       = fs.String("prefix", config.DefaultOutputFilePrefix, "output file name prefix")
		suffix       = fs.String("suffix", config.DefaultOutputFileSuffix, "output file name suffix")
		outputAttr   = fs.String("output-attr", config.DefaultOutputPathAttribute, "attribute receiving the output path")
		outputDir    = fs.String("output-dir", "", "directory for rendered files (default system temp dir)")
		content      = fs.String("content", "", "content for the single record: a file path or - for stdin")
		recordID     = fs.String("id", "", "record identifier (default random UUID)")
		logLevel     = fs.String("log-level", "info", "log level: trace, debug, info, warn, error")
	)
	fs.Var(attrs, "attr", "record attribute as key=value; repeatable")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return exitUsage
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "cli",
		Level:  hclog.LevelFromString(*logLevel),
		Output: stderr,
	})

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	override := func(cfg *config.Config) {
		if set["template"] {
			cfg.InlineTemplate = config.Inline(*inline)
		}
		if set["template-path"] {
			cfg.TemplatePath = *templatePath
		}
		if set["resources-root"] {
			cfg.ResourcesRoot = *resources
		}
		if set["json"] {
			cfg.ParseJSONContent = *parseJSON
		}
		if set["prefix"] {
			cfg.OutputFilePrefix = *prefix
		}
		if set["suffix"] {
			cfg.OutputFileSuffix = *suffix
		}
		if set["output-attr"] {
			cfg.OutputPathAttribute = *outputAttr
		}
		if set["output-dir"] {
			cfg.OutputDir = *outputDir
		}
	}

	var provider config.Provider
	if *configPath != "" {
		fp, err := config.NewFileProvider(*configPath, override)
		if err != nil {
			logger.Error("invalid configuration file", "error", err)
			return exitUsage
		}
		provider = fp
	} else {
		cfg := config.Defaults()
		override(&cfg)
		if err := cfg.Validate(); err != nil {
			logger.Error("invalid configuration", "error", err)
			return exitUsage
		}
		provider = config.Static(cfg)
	}

	var recordOpts []record.Option
	if *recordID != "" {
		recordOpts = append(recordOpts, record.WithID(*recordID))
	}
	recs, err := buildRecords(fs.Args(), *content, stdin, attrs, recordOpts)
	if err != nil {
		logger.Error("could not build records", "error", err)
		return exitUsage
	}

	s, err := filetemplate.NewStep(provider, []step.Option{step.WithLogger(logger)})
	if err != nil {
		logger.Error("could not build step", "error", err)
		return exitUsage
	}

	queue := host.NewQueue(recs...)
	for {
		processed, err := s.Trigger(ctx, queue)
		if err != nil {
			logger.Error("could not route record", "error", err)
			return exitFailure
		}
		if !processed {
			break
		}
	}
	if queue.Pending() > 0 {
		logger.Warn("interrupted before every record was processed", "pending", queue.Pending())
	}

	return report(stdout, queue, outputAttrFor(ctx, provider))
}

func buildRecords(files []string, content string, stdin io.Reader, attrs attrFlags, opts []record.Option) ([]record.Record, error) {
	if len(files) == 0 {
		switch content {
		case "":
			return []record.Record{record.New(attrs, opts...)}, nil
		case "-":
			data, err := io.ReadAll(stdin)
			if err != nil {
				return nil, fmt.Errorf("read stdin: %w", err)
			}
			return []record.Record{record.New(attrs, append(opts, record.WithContent(data))...)}, nil
		default:
			files = []string{content}
		}
	}
	if len(files) > 1 && len(opts) > 0 {
		return nil, errors.New("-id can only be used with a single record")
	}

	recs := make([]record.Record, 0, len(files))
	for _, path := range files {
		recAttrs := map[string]string{record.AttrFilename: filepath.Base(path)}
		for k, v := range attrs {
			recAttrs[k] = v
		}
		rec, err := record.FromFile(path, recAttrs, opts...)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func outputAttrFor(ctx context.Context, provider config.Provider) string {
	cfg, err := provider.Config(context.WithoutCancel(ctx))
	if err != nil {
		return config.DefaultOutputPathAttribute
	}
	return cfg.OutputPathAttribute
}

// report prints one line per routed record and folds the relationships into
// an exit code: any failure wins over json_failure, which wins over success.
func report(w io.Writer, queue *host.Queue, outputAttr string) int {
	code := exitSuccess
	for _, rel := range step.Relationships() {
		for _, rec := range queue.Routed(rel) {
			path, _ := rec.Attribute(outputAttr)
			fmt.Fprintf(w, "%s\t%s\t%s\n", rec.ID(), rel, path)
		}
		if len(queue.Routed(rel)) == 0 {
			continue
		}
		switch rel {
		case step.RelFailure:
			code = exitFailure
		case step.RelJSONFailure:
			if code != exitFailure {
				code = exitJSONFailure
			}
		}
	}
	return code
}

func runInit(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", defaultConfigFile, "configuration file to write")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return exitUsage
	}

	base := config.Defaults()
	if _, err := os.Stat(*path); err == nil {
		if !*force {
			fmt.Fprintf(stderr, "%s already exists; use -force to overwrite\n", *path)
			return exitUsage
		}
		if existing, err := config.LoadFile(*path); err == nil {
			base = existing
		}
	}

	answers, err := prompt.AskConfig(ctx, newDriver(), base)
	if err != nil {
		if errors.Is(err, prompt.ErrAborted) {
			fmt.Fprintln(stderr, "aborted")
			return exitFailure
		}
		fmt.Fprintf(stderr, "init: %v\n", err)
		return exitFailure
	}

	cfg := answers.Config
	if answers.StarterDir != "" {
		entry, err := filetemplate.WriteStarterTemplates(answers.StarterDir)
		if err != nil {
			fmt.Fprintf(stderr, "init: %v\n", err)
			return exitFailure
		}
		cfg.TemplatePath = entry
		fmt.Fprintf(stdout, "Starter templates written to %s\n", answers.StarterDir)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "init: %v\n", err)
		return exitFailure
	}
	if err := config.SaveFile(*path, cfg); err != nil {
		fmt.Fprintf(stderr, "init: %v\n", err)
		return exitFailure
	}
	fmt.Fprintf(stdout, "Configuration written to %s\n", *path)
	return exitSuccess
}
