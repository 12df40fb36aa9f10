// Package notiftmpl loads and renders per-channel notification templates.
package notiftmpl

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"

	"github.com/gomarkdown/markdown"

	"github.com/sapcc/monasca-notification/internal/config"
)

const (
	MimePlain = "text/plain"
	MimeHTML  = "text/html"
	MimeJSON  = "application/json"
)

// Template is a compiled channel template with its declared mime type.
type Template struct {
	body *template.Template
	mime string
}

// Load compiles a channel template from its configuration section. The
// template text comes inline or from a file read once at configure time;
// any I/O or syntax error fails the dispatcher's registration.
func Load(cfg *config.TemplateConfig) (*Template, error) {
	text := cfg.Text
	if text == "" {
		if cfg.TemplateFile == "" {
			return nil, fmt.Errorf("template requires text or template_file")
		}
		data, err := os.ReadFile(cfg.TemplateFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read template file: %w", err)
		}
		text = string(data)
	}

	body, err := Compile(text)
	if err != nil {
		return nil, err
	}

	mime := cfg.MimeType
	if mime == "" {
		mime = MimePlain
	}

	return &Template{body: body, mime: mime}, nil
}

// Compile parses template text for rendering against a notification's
// template variables.
func Compile(text string) (*template.Template, error) {
	tpl, err := template.New("notification").Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return tpl, nil
}

// MimeType returns the template's declared mime type.
func (t *Template) MimeType() string {
	return t.mime
}

// Render executes the template with the given variables.
func (t *Template) Render(vars map[string]any) (string, error) {
	return Render(t.body, vars)
}

// Render executes a compiled template with the given variables.
func Render(tpl *template.Template, vars map[string]any) (string, error) {
	var out strings.Builder
	if err := tpl.Execute(&out, vars); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return out.String(), nil
}

var markdownLink = regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)

// PlainLinks rewrites markdown link syntax [text](url) as "text (url)".
func PlainLinks(text string) string {
	return markdownLink.ReplaceAllString(text, "$1 ($2)")
}

// SlackLinks rewrites markdown link syntax as Slack's <url|text> form.
func SlackLinks(text string) string {
	return markdownLink.ReplaceAllString(text, "<$2|$1>")
}

// ToHTML converts markdown text to HTML.
func ToHTML(text string) string {
	return strings.TrimSpace(string(markdown.ToHTML([]byte(text), nil, nil)))
}
