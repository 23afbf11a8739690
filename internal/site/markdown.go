package site

import (
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"strings"
)

// Pipeline rewrites a markdown body for client-side rendering: custom fenced
// blocks (chart, mermaid, math) become placeholder widget markup consumed by
// the in-browser renderers, and the remaining markdown is escaped into raw
// content containers. A malformed widget payload renders an inline error
// block and never fails the page.
type Pipeline struct {
	logger *slog.Logger
}

func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger.With(slog.String("agent", "markdown"))}
}

var widgetFences = map[string]struct{}{
	"chart":   {},
	"mermaid": {},
	"math":    {},
}

// Render transforms one markdown body into rendering-ready markup.
func (p *Pipeline) Render(body string) string {
	var out strings.Builder
	var markdown []string
	var block []string
	widget := ""

	flushMarkdown := func() {
		chunk := strings.TrimSpace(strings.Join(markdown, "\n"))
		markdown = markdown[:0]
		if chunk == "" {
			return
		}
		out.WriteString(`<div class="markdown">`)
		out.WriteString(html.EscapeString(chunk))
		out.WriteString("</div>\n")
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)

		if widget != "" {
			if trimmed == "```" || (widget == "math" && trimmed == "$$") {
				p.emitWidget(&out, widget, strings.Join(block, "\n"))
				block = block[:0]
				widget = ""
				continue
			}
			block = append(block, line)
			continue
		}

		if lang, ok := strings.CutPrefix(trimmed, "```"); ok {
			lang = strings.TrimSpace(lang)
			if _, known := widgetFences[lang]; known {
				flushMarkdown()
				widget = lang
				continue
			}
		}
		if trimmed == "$$" {
			flushMarkdown()
			widget = "math"
			continue
		}

		markdown = append(markdown, line)
	}

	// Unterminated widget blocks fall back to plain markdown.
	if widget != "" {
		markdown = append(markdown, block...)
	}
	flushMarkdown()

	return out.String()
}

func (p *Pipeline) emitWidget(out *strings.Builder, widget, payload string) {
	payload = strings.TrimSpace(payload)
	switch widget {
	case "chart":
		if !json.Valid([]byte(payload)) {
			p.logger.Warn("invalid chart payload skipped", slog.Int("bytes", len(payload)))
			fmt.Fprintf(out, `<div class="widget widget-error" data-widget="chart">invalid chart configuration</div>`+"\n")
			return
		}
		fmt.Fprintf(out, `<div class="widget" data-widget="chart" data-config="%s"></div>`+"\n", html.EscapeString(payload))
	case "mermaid", "math":
		fmt.Fprintf(out, `<div class="widget" data-widget="%s">%s</div>`+"\n", widget, html.EscapeString(payload))
	}
}
