// Package template renders action payloads with text/template against the execution context.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/rentflow/pkg/models"
)

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"date": func(v any) string {
		t, ok := models.ParseDate(v)
		if !ok {
			return fmt.Sprint(v)
		}

		return models.FormatDate(t)
	},
	"addDays": func(v any, days int) string {
		t, ok := models.ParseDate(v)
		if !ok {
			return fmt.Sprint(v)
		}

		return models.FormatDate(t.AddDate(0, 0, days))
	},
	"default": func(fallback, v any) any {
		if v == nil || v == "" {
			return fallback
		}

		return v
	},
}

// Check parses every template string found in v without executing it.
func Check(v any) error {
	switch value := v.(type) {
	case string:
		if !strings.Contains(value, "{{") {
			return nil
		}

		_, err := template.New("check").Funcs(funcs).Parse(value)
		if err != nil {
			return fmt.Errorf("invalid template '%s': %w", value, err)
		}

		return nil
	case map[string]any:
		for key, item := range value {
			err := Check(item)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}

		return nil
	case []any:
		for _, item := range value {
			err := Check(item)
			if err != nil {
				return err
			}
		}

		return nil
	default:
		return nil
	}
}

// Render executes templateStr against data. Referencing a missing key is an error.
func Render(templateStr string, data any) (string, error) {
	if !strings.Contains(templateStr, "{{") {
		return templateStr, nil
	}

	tmpl, err := template.
		New("action").
		Option("missingkey=error").
		Funcs(funcs).
		Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// RenderValue renders every string found in v, descending into maps and slices.
// Rendered strings that are JSON documents, numbers or booleans are decoded to those types.
func RenderValue(v any, data any) (any, error) {
	switch value := v.(type) {
	case string:
		if !strings.Contains(value, "{{") {
			return value, nil
		}

		rendered, err := Render(value, data)
		if err != nil {
			return nil, err
		}

		return coerce(rendered), nil
	case map[string]any:
		return RenderMap(value, data)
	case []any:
		out := make([]any, len(value))

		for i, item := range value {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, err
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return v, nil
	}
}

// RenderMap renders every value of m into a new map.
func RenderMap(m map[string]any, data any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}

	out := make(map[string]any, len(m))

	for key, item := range m {
		rendered, err := RenderValue(item, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}

		out[key] = rendered
	}

	return out, nil
}

func coerce(result string) any {
	trimmed := strings.TrimSpace(result)

	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var jsonResult any

		if err := json.Unmarshal([]byte(trimmed), &jsonResult); err == nil {
			return jsonResult
		}

		return result
	}

	if num, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return num
	}

	if b, err := strconv.ParseBool(trimmed); err == nil {
		return b
	}

	return result
}
