// Package delivery renders notification templates and hands them to the
// email, SMS and Telegram channels.
package delivery

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Template is one localized message. Subject is only used by email.
type Template struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// Catalog maps template name -> language -> Template.
type Catalog struct {
	DefaultLanguage string                         `yaml:"default_language"`
	Templates       map[string]map[string]Template `yaml:"templates"`
}

// Rendered is a template with its placeholders filled in.
type Rendered struct {
	Subject string
	Body    string
}

// LoadCatalog reads a templates YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a templates document and checks that every template
// body compiles.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = "en"
	}
	for name, langs := range c.Templates {
		for lang, t := range langs {
			if _, err := compile(t.Body); err != nil {
				return nil, fmt.Errorf("template %s/%s: %w", name, lang, err)
			}
		}
	}
	return &c, nil
}

// Render fills the named template for lang, falling back to the catalog's
// default language.
func (c *Catalog) Render(name, lang string, data map[string]string) (Rendered, error) {
	langs, ok := c.Templates[name]
	if !ok {
		return Rendered{}, fmt.Errorf("unknown template %q", name)
	}
	t, ok := langs[lang]
	if !ok {
		t, ok = langs[c.DefaultLanguage]
	}
	if !ok {
		return Rendered{}, fmt.Errorf("template %q has no %q or default translation", name, lang)
	}

	subject, err := execute(t.Subject, data)
	if err != nil {
		return Rendered{}, fmt.Errorf("render %s subject: %w", name, err)
	}
	body, err := execute(t.Body, data)
	if err != nil {
		return Rendered{}, fmt.Errorf("render %s body: %w", name, err)
	}
	return Rendered{Subject: subject, Body: body}, nil
}

func compile(text string) (*template.Template, error) {
	return template.New("msg").Option("missingkey=zero").Parse(text)
}

func execute(text string, data map[string]string) (string, error) {
	if text == "" {
		return "", nil
	}
	tpl, err := compile(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
