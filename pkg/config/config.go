// Package config holds the options of the render step and the providers that
// resolve them on every invocation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/goliatone/go-filetemplate/pkg/expression"
)

// Defaults for the output options.
const (
	DefaultOutputFilePrefix    = "rendered"
	DefaultOutputFileSuffix    = ".out"
	DefaultOutputPathAttribute = "template.rendered.path"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the option set resolved once per processed record.
type Config struct {
	// ParseJSONContent enables the `content` key of the rendering context.
	ParseJSONContent bool `json:"parse_json_content" yaml:"parse_json_content"`

	// InlineTemplate is the literal template body used when TemplatePath is
	// unset. Nil means the option is absent.
	InlineTemplate *string `json:"template,omitempty" yaml:"template,omitempty"`

	// TemplatePath points at a template file. It may contain `${attribute}`
	// expressions evaluated against the record.
	TemplatePath string `json:"template_path,omitempty" yaml:"template_path,omitempty"`

	// ResourcesRoot is the base directory for included templates.
	ResourcesRoot string `json:"resources_root,omitempty" yaml:"resources_root,omitempty"`

	OutputFilePrefix    string `json:"output_file_prefix" yaml:"output_file_prefix"`
	OutputFileSuffix    string `json:"output_file_suffix" yaml:"output_file_suffix"`
	OutputPathAttribute string `json:"output_path_attribute" yaml:"output_path_attribute"`

	// OutputDir is the scratch directory for rendered files; empty means the
	// system temporary directory.
	OutputDir string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
}

// Defaults returns a configuration with every default applied.
func Defaults() Config {
	return Config{
		OutputFilePrefix:    DefaultOutputFilePrefix,
		OutputFileSuffix:    DefaultOutputFileSuffix,
		OutputPathAttribute: DefaultOutputPathAttribute,
	}
}

// Inline is a helper for building a Config with an inline template.
func Inline(body string) *string {
	return &body
}

// ApplyDefaults fills unset output options with their defaults.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}
	if c.OutputFilePrefix == "" {
		c.OutputFilePrefix = DefaultOutputFilePrefix
	}
	if c.OutputFileSuffix == "" {
		c.OutputFileSuffix = DefaultOutputFileSuffix
	}
	if c.OutputPathAttribute == "" {
		c.OutputPathAttribute = DefaultOutputPathAttribute
	}
}

// TemplatePathFor evaluates TemplatePath against the record attributes. The
// boolean is false when no template path is configured.
func (c Config) TemplatePathFor(attrs map[string]string) (string, bool) {
	raw := strings.TrimSpace(c.TemplatePath)
	if raw == "" {
		return "", false
	}
	return expression.Evaluate(raw, attrs), true
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var result *multierror.Error

	if strings.TrimSpace(c.OutputFilePrefix) == "" {
		result = multierror.Append(result, errors.New("output file prefix must not be empty"))
	}
	if strings.TrimSpace(c.OutputFileSuffix) == "" {
		result = multierror.Append(result, errors.New("output file suffix must not be empty"))
	}
	if strings.TrimSpace(c.OutputPathAttribute) == "" {
		result = multierror.Append(result, errors.New("output path attribute must not be empty"))
	}
	if strings.ContainsAny(c.OutputFilePrefix+c.OutputFileSuffix, `/\`) {
		result = multierror.Append(result, errors.New("output file prefix and suffix must not contain path separators"))
	}

	if path := strings.TrimSpace(c.TemplatePath); path != "" && !expression.HasExpression(path) {
		if err := fileExists(path); err != nil {
			result = multierror.Append(result, fmt.Errorf("template path: %w", err))
		}
	}
	if root := strings.TrimSpace(c.ResourcesRoot); root != "" {
		if err := dirExists(root); err != nil {
			result = multierror.Append(result, fmt.Errorf("resources root: %w", err))
		}
	}
	if dir := strings.TrimSpace(c.OutputDir); dir != "" {
		if err := dirExists(dir); err != nil {
			result = multierror.Append(result, fmt.Errorf("output dir: %w", err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func fileExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%q is a directory", path)
	}
	return nil
}

func dirExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", path)
	}
	return nil
}
