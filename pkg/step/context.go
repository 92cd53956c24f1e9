package step

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/goliatone/go-filetemplate/pkg/config"
	"github.com/goliatone/go-filetemplate/pkg/record"
	"github.com/goliatone/go-filetemplate/pkg/render/template"
)

// Context keys exposed to templates.
const (
	KeyAttributes = "attributes"
	KeyContent    = "content"
)

// BuildContext assembles the rendering context for rec. `attributes` is
// always present. `content` is present only when JSON parsing is enabled and
// the record is not empty; the content must then be exactly one JSON object.
func BuildContext(cfg config.Config, rec record.Record) (template.Context, error) {
	data := template.Context{
		KeyAttributes: rec.Attributes(),
	}
	if !cfg.ParseJSONContent || rec.Size() <= 0 {
		return data, nil
	}

	content, err := readJSONObject(rec)
	if err != nil {
		return nil, err
	}
	data[KeyContent] = content
	return data, nil
}

func readJSONObject(rec record.Record) (map[string]any, error) {
	rc, err := rec.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContentRead, err)
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		if isParseError(err) {
			return nil, fmt.Errorf("%w: %w", ErrContentParse, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrContentRead, err)
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top-level value is %s", ErrContentParse, jsonKind(raw))
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err != nil && !isParseError(err) {
			return nil, fmt.Errorf("%w: %w", ErrContentRead, err)
		}
		return nil, fmt.Errorf("%w: unexpected data after the top-level object", ErrContentParse)
	}

	return normalizeObject(obj), nil
}

// normalizeObject turns json.Number values into int64 when integral and
// float64 otherwise, so templates print `1` rather than `1.000000`.
func normalizeObject(in map[string]any) map[string]any {
	for key, value := range in {
		in[key] = normalizeValue(value)
	}
	return in
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		return normalizeObject(v)
	case []any:
		for i := range v {
			v[i] = normalizeValue(v[i])
		}
		return v
	default:
		return v
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case json.Number:
		return "a number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
