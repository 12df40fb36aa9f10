package notiftmpl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sapcc/monasca-notification/internal/config"
)

func TestLoad_InlineText(t *testing.T) {
	tpl, err := Load(&config.TemplateConfig{Text: "alarm {{.alarm_name}} is {{.state}}"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if tpl.MimeType() != MimePlain {
		t.Errorf("MimeType() = %v, want default %v", tpl.MimeType(), MimePlain)
	}

	out, err := tpl.Render(map[string]any{"alarm_name": "cpu high", "state": "ALARM"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if out != "alarm cpu high is ALARM" {
		t.Errorf("Render() = %q", out)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.txt")
	if err := os.WriteFile(path, []byte("state: {{.state}}"), 0o600); err != nil {
		t.Fatalf("failed to write template file: %v", err)
	}

	tpl, err := Load(&config.TemplateConfig{TemplateFile: path, MimeType: MimeHTML})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if tpl.MimeType() != MimeHTML {
		t.Errorf("MimeType() = %v, want %v", tpl.MimeType(), MimeHTML)
	}

	out, err := tpl.Render(map[string]any{"state": "OK"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if out != "state: OK" {
		t.Errorf("Render() = %q", out)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TemplateConfig
	}{
		{
			name: "no text and no file",
			cfg:  config.TemplateConfig{},
		},
		{
			name: "missing file",
			cfg:  config.TemplateConfig{TemplateFile: "/nonexistent/template.txt"},
		},
		{
			name: "syntax error",
			cfg:  config.TemplateConfig{Text: "broken {{.state"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(&tt.cfg); err == nil {
				t.Error("Load() expected error, got nil")
			}
		})
	}
}

func TestCompile_MissingKeyIsZero(t *testing.T) {
	tpl, err := Compile("value: {{.missing}}")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	out, err := Render(tpl, map[string]any{})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.HasPrefix(out, "value:") {
		t.Errorf("Render() = %q", out)
	}
}

func TestPlainLinks(t *testing.T) {
	got := PlainLinks("see [the dashboard](http://example.com/d) for details")
	want := "see the dashboard (http://example.com/d) for details"
	if got != want {
		t.Errorf("PlainLinks() = %q, want %q", got, want)
	}
}

func TestSlackLinks(t *testing.T) {
	got := SlackLinks("see [the dashboard](http://example.com/d) for details")
	want := "see <http://example.com/d|the dashboard> for details"
	if got != want {
		t.Errorf("SlackLinks() = %q, want %q", got, want)
	}
}

func TestLinkRewrites_NoLinks(t *testing.T) {
	text := "no links here"
	if got := PlainLinks(text); got != text {
		t.Errorf("PlainLinks() = %q, want unchanged", got)
	}
	if got := SlackLinks(text); got != text {
		t.Errorf("SlackLinks() = %q, want unchanged", got)
	}
}

func TestToHTML(t *testing.T) {
	got := ToHTML("some **bold** text")
	if !strings.Contains(got, "<strong>bold</strong>") {
		t.Errorf("ToHTML() = %q, want bold markup", got)
	}
}
