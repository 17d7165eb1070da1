// Copyright 2024-2026 Aiku AI

package notifier

import (
	"strings"
	"text/template"
)

// Render executes the template of eventName with keys. Templates that
// reference a key outside the message key set fail instead of rendering a
// placeholder.
func (c *Config) Render(eventName string, keys MessageKeys) (string, error) {
	tmpl, err := c.template(eventName)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, map[string]string(keys)); err != nil {
		return "", &ConfigError{
			Field:   "events." + eventName + ".template",
			Message: "template does not match message keys",
			Err:     err,
		}
	}
	return buf.String(), nil
}

func (c *Config) template(eventName string) (*template.Template, error) {
	if tmpl, ok := c.templates[eventName]; ok {
		return tmpl, nil
	}
	evt, ok := c.Events[eventName]
	if !ok || evt == nil {
		return nil, &ConfigError{Field: "events." + eventName, Message: "no template configured"}
	}
	// PostProcess was not called, compile without caching.
	tmpl, err := parseTemplate(eventName, evt.Template)
	if err != nil {
		return nil, &ConfigError{Field: "events." + eventName + ".template", Message: "invalid template", Err: err}
	}
	return tmpl, nil
}
