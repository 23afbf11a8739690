package site

import (
	"strings"
	"testing"
)

func TestPipelineRendersChartWidget(t *testing.T) {
	p := NewPipeline(nil)
	body := "Intro text\n```chart\n{\"type\": \"line\"}\n```\nOutro"

	got := p.Render(body)
	if !strings.Contains(got, `data-widget="chart"`) {
		t.Fatalf("chart widget missing: %q", got)
	}
	if !strings.Contains(got, `<div class="markdown">Intro text</div>`) {
		t.Fatalf("leading markdown missing: %q", got)
	}
	if !strings.Contains(got, `<div class="markdown">Outro</div>`) {
		t.Fatalf("trailing markdown missing: %q", got)
	}
}

func TestPipelineRejectsInvalidChartPayload(t *testing.T) {
	p := NewPipeline(nil)
	got := p.Render("```chart\nnot json\n```")
	if !strings.Contains(got, "widget-error") {
		t.Fatalf("invalid payload should render an error block: %q", got)
	}
	if strings.Contains(got, "data-config") {
		t.Fatalf("invalid payload must not emit a config attribute: %q", got)
	}
}

func TestPipelineRendersMermaidAndMath(t *testing.T) {
	p := NewPipeline(nil)

	got := p.Render("```mermaid\ngraph TD; A-->B;\n```")
	if !strings.Contains(got, `data-widget="mermaid"`) || !strings.Contains(got, "A--&gt;B") {
		t.Fatalf("mermaid block malformed: %q", got)
	}

	got = p.Render("$$\nx^2 + y^2 = r^2\n$$")
	if !strings.Contains(got, `data-widget="math"`) || !strings.Contains(got, "x^2 + y^2 = r^2") {
		t.Fatalf("math block malformed: %q", got)
	}
}

func TestPipelineEscapesMarkdown(t *testing.T) {
	p := NewPipeline(nil)
	got := p.Render("<script>alert(1)</script>")
	if strings.Contains(got, "<script>") {
		t.Fatalf("markdown content must be escaped: %q", got)
	}
}

func TestPipelineUnterminatedBlockFallsBack(t *testing.T) {
	p := NewPipeline(nil)
	got := p.Render("```chart\n{\"unclosed\": true}")
	if strings.Contains(got, "data-widget") {
		t.Fatalf("unterminated block should not emit a widget: %q", got)
	}
	if !strings.Contains(got, "markdown") {
		t.Fatalf("unterminated block should render as markdown: %q", got)
	}
}

func TestPipelinePlainCodeFenceStaysMarkdown(t *testing.T) {
	p := NewPipeline(nil)
	got := p.Render("```go\nfmt.Println()\n```")
	if strings.Contains(got, "data-widget") {
		t.Fatalf("ordinary code fences are not widgets: %q", got)
	}
}
