// Package template renders the prompts step handlers send to the LLM gateway.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Funcs are available to every prompt template.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"json": func(v any) (string, error) {
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return "", err
			}

			return string(data), nil
		},
		"add": func(a, b int) int {
			return a + b
		},
		"default": func(fallback, v any) any {
			if v == nil {
				return fallback
			}

			if s, ok := v.(string); ok && s == "" {
				return fallback
			}

			return v
		},
	}
}

// Parse compiles a prompt template. Missing map keys render as an error
// instead of "<no value>".
func Parse(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(Funcs()).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", name, err)
	}

	return tmpl, nil
}

// Execute renders tmpl and trims surrounding whitespace.
func Execute(tmpl *template.Template, data any) (string, error) {
	var buf strings.Builder

	err := tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", tmpl.Name(), err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// Render parses and executes a template in one call.
func Render(text string, data any) (string, error) {
	tmpl, err := Parse("inline", text)
	if err != nil {
		return "", err
	}

	return Execute(tmpl, data)
}
