package pongo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"reflect"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"

	"github.com/goliatone/go-filetemplate/pkg/render/template"
)

const defaultSetName = "filetemplate"

// Option configures the pongo2 adapter before construction.
type Option func(*config)

type config struct {
	name       string
	templateFn map[string]any
	globalData map[string]any
	bannedTags []string
}

// WithName labels the template sets created by the engine. The name shows up
// in pongo2 error messages.
func WithName(name string) Option {
	return func(cfg *config) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.name = trimmed
		}
	}
}

// WithTemplateFunc registers helper functions or filters when the engine loads.
func WithTemplateFunc(funcs map[string]any) Option {
	return func(cfg *config) {
		if len(funcs) == 0 {
			return
		}
		if cfg.templateFn == nil {
			cfg.templateFn = make(map[string]any, len(funcs))
		}
		for name, fn := range funcs {
			cfg.templateFn[strings.TrimSpace(name)] = fn
		}
	}
}

// WithGlobalData seeds global context values available to every template.
func WithGlobalData(data map[string]any) Option {
	return func(cfg *config) {
		if len(data) == 0 {
			return
		}
		if cfg.globalData == nil {
			cfg.globalData = make(map[string]any, len(data))
		}
		for key, value := range data {
			cfg.globalData[strings.TrimSpace(key)] = value
		}
	}
}

// WithBannedTags replaces the list of tags templates may not use. The default
// bans `ssi`, which reads files without going through the include resolver.
func WithBannedTags(tags ...string) Option {
	return func(cfg *config) {
		cfg.bannedTags = cfg.bannedTags[:0]
		for _, tag := range tags {
			if trimmed := strings.TrimSpace(tag); trimmed != "" {
				cfg.bannedTags = append(cfg.bannedTags, trimmed)
			}
		}
	}
}

var setupOnce sync.Once

// Engine renders Jinja2-style templates with pongo2. Every call builds its own
// template set bound to the caller's resolver, so nothing parsed or loaded is
// reused between renders.
type Engine struct {
	mu sync.RWMutex

	name       string
	globals    pongo2.Context
	bannedTags []string
}

var _ template.TemplateRenderer = (*Engine)(nil)

// New constructs an Engine using the provided configuration options.
func New(options ...Option) (*Engine, error) {
	cfg := &config{
		name:       defaultSetName,
		bannedTags: []string{"ssi"},
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(cfg)
	}

	setupOnce.Do(func() {
		// Jinja2 does not escape output unless asked to.
		pongo2.SetAutoescape(false)
		registerDefaultFilters()
	})

	engine := &Engine{
		name:       cfg.name,
		globals:    make(pongo2.Context),
		bannedTags: append([]string(nil), cfg.bannedTags...),
	}

	if _, err := engine.newSet(nil); err != nil {
		return nil, err
	}
	if err := engine.GlobalContext(cfg.globalData); err != nil {
		return nil, fmt.Errorf("pongo: apply global data: %w", err)
	}
	for name, fn := range cfg.templateFn {
		if err := engine.registerTemplateFunc(name, fn); err != nil {
			return nil, fmt.Errorf("pongo: register template func %q: %w", name, err)
		}
	}

	return engine, nil
}

// RenderString parses and executes templateContent. Includes, imports and
// extends are located through resolve; names it cannot resolve, or files it
// cannot read, render as empty templates. Syntax and evaluation errors are
// returned wrapped in template.ErrRender and no output is written.
func (e *Engine) RenderString(templateContent string, data template.Context, resolve template.ResolveFunc, out ...io.Writer) (string, error) {
	if e == nil {
		return "", errors.New("pongo: engine is nil")
	}

	set, err := e.newSet(resolve)
	if err != nil {
		return "", err
	}

	tmpl, err := parse(set, templateContent)
	if err != nil {
		return "", fmt.Errorf("%w: parse: %w", template.ErrRender, err)
	}

	viewContext, err := convertToContext(map[string]any(data))
	if err != nil {
		return "", fmt.Errorf("pongo: convert data: %w", err)
	}

	rendered, err := tmpl.Execute(viewContext)
	if err != nil {
		return "", fmt.Errorf("%w: execute: %w", template.ErrRender, err)
	}

	for _, w := range out {
		if w == nil {
			continue
		}
		if _, err := io.WriteString(w, rendered); err != nil {
			return "", err
		}
	}
	return rendered, nil
}

// RegisterFilter registers a template filter. Filters are process-wide in
// pongo2, so registering an existing name fails.
func (e *Engine) RegisterFilter(name string, fn func(input any, param any) (any, error)) error {
	if strings.TrimSpace(name) == "" || fn == nil {
		return errors.New("pongo: filter name and function required")
	}

	filter := func(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
		var paramVal any
		if param != nil {
			paramVal = param.Interface()
		}
		result, err := fn(in.Interface(), paramVal)
		if err != nil {
			return nil, &pongo2.Error{Sender: "filter:" + name, OrigError: err}
		}
		return pongo2.AsValue(result), nil
	}

	if pongo2.FilterExists(name) {
		return fmt.Errorf("pongo: filter %q already exists", name)
	}
	return pongo2.RegisterFilter(name, filter)
}

// GlobalContext merges data into the values visible to every template.
func (e *Engine) GlobalContext(data any) error {
	if e == nil {
		return errors.New("pongo: engine is nil")
	}
	if data == nil {
		return nil
	}

	globalCtx, err := convertToContext(data)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.globals.Update(globalCtx)
	return nil
}

func (e *Engine) newSet(resolve template.ResolveFunc) (*pongo2.TemplateSet, error) {
	set := pongo2.NewSet(e.name, newIncludeLoader(resolve))

	e.mu.RLock()
	globals := maps.Clone(e.globals)
	banned := e.bannedTags
	e.mu.RUnlock()

	set.Globals = globals
	for _, tag := range banned {
		if err := set.BanTag(tag); err != nil {
			return nil, fmt.Errorf("pongo: ban tag %q: %w", tag, err)
		}
	}
	return set, nil
}

// parse turns a parser panic into an error so one bad template cannot take
// the host down.
func parse(set *pongo2.TemplateSet, content string) (tmpl *pongo2.Template, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pongo: parser panic: %v", r)
		}
	}()
	return set.FromString(content)
}

func (e *Engine) registerTemplateFunc(name string, fn any) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || fn == nil {
		return nil
	}

	if filter, ok := fn.(pongo2.FilterFunction); ok {
		if pongo2.FilterExists(trimmed) {
			return nil
		}
		return pongo2.RegisterFilter(trimmed, filter)
	}

	if !isCallable(fn) {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.globals[trimmed] = fn
	return nil
}

func isCallable(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	return rv.IsValid() && rv.Kind() == reflect.Func
}

func convertToContext(data any) (pongo2.Context, error) {
	switch v := data.(type) {
	case nil:
		return pongo2.Context{}, nil
	case pongo2.Context:
		return convertMapToContext(map[string]any(v))
	case template.Context:
		return convertMapToContext(map[string]any(v))
	case map[string]any:
		return convertMapToContext(v)
	default:
		m, err := jsonToMap(v)
		if err != nil {
			return nil, err
		}
		return convertMapToContext(m)
	}
}

func convertMapToContext(in map[string]any) (pongo2.Context, error) {
	out := make(pongo2.Context, len(in))
	for key, value := range in {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		converted, err := convertValue(value)
		if err != nil {
			return nil, err
		}
		out[key] = converted
	}
	return out, nil
}

// convertValue keeps scalars as-is so integers stay integers; only values
// pongo2 cannot walk (structs and the like) go through a JSON round trip.
func convertValue(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if isCallable(value) {
		return value, nil
	}

	switch v := value.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		return v.Float64()
	case map[string]string:
		out := make(map[string]any, len(v))
		for key, s := range v {
			out[key] = s
		}
		return out, nil
	case pongo2.Context:
		return convertMap(map[string]any(v))
	case map[string]any:
		return convertMap(v)
	case []any:
		return convertSlice(v)
	case []string:
		out := make([]any, 0, len(v))
		for _, s := range v {
			out = append(out, s)
		}
		return out, nil
	default:
		raw, err := jsonToAny(v)
		if err != nil {
			return nil, err
		}
		switch decoded := raw.(type) {
		case map[string]any:
			return convertMap(decoded)
		case []any:
			return convertSlice(decoded)
		case json.Number:
			return convertValue(decoded)
		default:
			return decoded, nil
		}
	}
}

func convertMap(in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for key, value := range in {
		converted, err := convertValue(value)
		if err != nil {
			return nil, err
		}
		out[key] = converted
	}
	return out, nil
}

func convertSlice(in []any) ([]any, error) {
	out := make([]any, 0, len(in))
	for _, value := range in {
		converted, err := convertValue(value)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

func jsonToMap(v any) (map[string]any, error) {
	raw, err := jsonToAny(v)
	if err != nil {
		return nil, err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("pongo: context must be an object, got %T", v)
	}
	return m, nil
}

func jsonToAny(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
