package content

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

var frontMatterDelimiter = []byte("---")

// splitFrontMatter separates a markdown document into its YAML front-matter
// metadata and body. Documents without a leading delimiter are all body.
func splitFrontMatter(data []byte) (map[string]any, string, error) {
	trimmed := bytes.TrimLeft(data, "\ufeff")
	if !bytes.HasPrefix(trimmed, frontMatterDelimiter) {
		return map[string]any{}, string(trimmed), nil
	}
	rest := trimmed[len(frontMatterDelimiter):]
	rest = bytes.TrimPrefix(rest, []byte("\r"))
	if len(rest) == 0 || rest[0] != '\n' {
		return map[string]any{}, string(trimmed), nil
	}
	rest = rest[1:]

	end := bytes.Index(rest, append([]byte("\n"), frontMatterDelimiter...))
	if end < 0 {
		return nil, "", fmt.Errorf("content: unterminated front matter")
	}
	meta := rest[:end]
	body := rest[end+1+len(frontMatterDelimiter):]
	body = bytes.TrimPrefix(body, []byte("\r"))
	body = bytes.TrimPrefix(body, []byte("\n"))

	fields := map[string]any{}
	if err := yaml.Unmarshal(meta, &fields); err != nil {
		return nil, "", fmt.Errorf("content: parse front matter: %w", err)
	}
	return fields, string(body), nil
}
