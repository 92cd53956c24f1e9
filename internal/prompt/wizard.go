package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-filetemplate/pkg/config"
)

// Template source choices offered by AskConfig, in display order.
const (
	SourceFile    = "Template file on disk"
	SourceInline  = "Inline template"
	SourceStarter = "Starter templates"
)

var sourceOptions = []string{SourceFile, SourceInline, SourceStarter}

// Answers is the result of the configuration questions. StarterDir is set when
// the user asked for the starter templates; the caller writes them there and
// points TemplatePath at the entry file.
type Answers struct {
	Config     config.Config
	StarterDir string
}

// AskConfig walks the user through every configuration option, starting from
// base for the defaults.
func AskConfig(ctx context.Context, driver Driver, base config.Config) (Answers, error) {
	if driver == nil {
		return Answers{}, errors.New("prompt: driver is required")
	}
	base.ApplyDefaults()
	cfg := base

	source, err := driver.Select(ctx, SelectConfig{
		Message:      "Where does the template come from?",
		Options:      sourceOptions,
		DefaultIndex: defaultSource(base),
	})
	if err != nil {
		return Answers{}, err
	}

	var answers Answers
	switch source {
	case 0:
		path, err := driver.Input(ctx, InputConfig{
			Message:   "Template path (may use ${attribute} expressions)",
			Default:   base.TemplatePath,
			Validator: required("template path"),
		})
		if err != nil {
			return Answers{}, err
		}
		cfg.TemplatePath = strings.TrimSpace(path)
		cfg.InlineTemplate = nil
	case 1:
		var current string
		if base.InlineTemplate != nil {
			current = *base.InlineTemplate
		}
		body, err := driver.TextArea(ctx, TextAreaConfig{
			Message: "Template body",
			Default: current,
		})
		if err != nil {
			return Answers{}, err
		}
		cfg.InlineTemplate = config.Inline(body)
		cfg.TemplatePath = ""
	case 2:
		dir, err := driver.Input(ctx, InputConfig{
			Message:   "Directory to write the starter templates to",
			Default:   "templates",
			Validator: required("directory"),
		})
		if err != nil {
			return Answers{}, err
		}
		answers.StarterDir = strings.TrimSpace(dir)
		cfg.InlineTemplate = nil
	default:
		return Answers{}, fmt.Errorf("prompt: unknown template source %d", source)
	}

	root, err := driver.Input(ctx, InputConfig{
		Message: "Resources root for includes (empty to use the template directory)",
		Default: base.ResourcesRoot,
	})
	if err != nil {
		return Answers{}, err
	}
	cfg.ResourcesRoot = strings.TrimSpace(root)

	cfg.ParseJSONContent, err = driver.Confirm(ctx, ConfirmConfig{
		Message: "Parse record content as JSON?",
		Default: base.ParseJSONContent,
		Help:    "Records whose content is not a JSON object are routed to json_failure.",
	})
	if err != nil {
		return Answers{}, err
	}

	if cfg.OutputFilePrefix, err = askFileAffix(ctx, driver, "Output file prefix", base.OutputFilePrefix); err != nil {
		return Answers{}, err
	}
	if cfg.OutputFileSuffix, err = askFileAffix(ctx, driver, "Output file suffix", base.OutputFileSuffix); err != nil {
		return Answers{}, err
	}

	attr, err := driver.Input(ctx, InputConfig{
		Message:   "Attribute that receives the output path",
		Default:   base.OutputPathAttribute,
		Validator: required("attribute name"),
	})
	if err != nil {
		return Answers{}, err
	}
	cfg.OutputPathAttribute = strings.TrimSpace(attr)

	dir, err := driver.Input(ctx, InputConfig{
		Message: "Output directory (empty for the system temp directory)",
		Default: base.OutputDir,
	})
	if err != nil {
		return Answers{}, err
	}
	cfg.OutputDir = strings.TrimSpace(dir)

	answers.Config = cfg
	return answers, nil
}

func askFileAffix(ctx context.Context, driver Driver, message, current string) (string, error) {
	value, err := driver.Input(ctx, InputConfig{
		Message: message,
		Default: current,
		Validator: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("value is required")
			}
			if strings.ContainsAny(s, `/\`) {
				return errors.New("value must not contain path separators")
			}
			return nil
		},
	})
	return strings.TrimSpace(value), err
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func defaultSource(cfg config.Config) int {
	if cfg.InlineTemplate != nil && cfg.TemplatePath == "" {
		return 1
	}
	return 0
}
