package step

import (
	"fmt"
	"os"

	"github.com/goliatone/go-filetemplate/pkg/config"
)

// Source is the template body selected for a record. Path is empty for
// inline templates.
type Source struct {
	Text string
	Path string
}

// Inline reports whether the body came from the inline template option.
func (s Source) Inline() bool {
	return s.Path == ""
}

// SelectTemplate returns the template body for a record. A configured
// template path, after expression evaluation against attrs, takes precedence
// over the inline template and is read in full on every call. An absent
// inline template yields an empty body.
func SelectTemplate(cfg config.Config, attrs map[string]string) (Source, error) {
	if path, ok := cfg.TemplatePathFor(attrs); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return Source{Path: path}, fmt.Errorf("%w: %w", ErrTemplateRead, err)
		}
		return Source{Text: string(data), Path: path}, nil
	}

	if cfg.InlineTemplate == nil {
		return Source{}, nil
	}
	return Source{Text: *cfg.InlineTemplate}, nil
}
