// Package markdown renders Markdown bodies with goldmark and decodes YAML
// front matter into the flat string map the content assembler consumes.
package markdown

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"gopkg.in/yaml.v3"

	"cms-go/internal/cms"
)

// Renderer implements cms.Markdown. Raw HTML in the source is not passed
// through, so rendered output is safe to embed.
type Renderer struct {
	md goldmark.Markdown
}

// New creates a Renderer with GitHub Flavored Markdown enabled.
func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
		),
	}
}

// RenderHTML converts markdown to HTML.
func (r *Renderer) RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}

// ParseFrontMatter decodes block as YAML. Nested maps are flattened with
// "_" ("seo: {title: x}" becomes "seo_title"), sequences become "[a, b]"
// with items holding separators or quotes quoted, and timestamps RFC 3339. Blocks that are not valid YAML fall back to one
// "key: value" pair per line.
func (r *Renderer) ParseFrontMatter(block string) (map[string]string, error) {
	out := make(map[string]string)
	if strings.TrimSpace(block) == "" {
		return out, nil
	}

	var doc map[string]any
	if err := yaml.Unmarshal([]byte(block), &doc); err == nil {
		for k, v := range doc {
			flatten(k, v, out)
		}
		return out, nil
	} else if lines := parseLines(block); len(lines) > 0 {
		return lines, nil
	} else {
		return nil, fmt.Errorf("front matter is neither YAML nor key/value lines: %w", err)
	}
}

func flatten(key string, v any, out map[string]string) {
	switch val := v.(type) {
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(val)) {
			flatten(key+"_"+k, val[k], out)
		}
	case []any:
		items := make([]string, 0, len(val))
		for _, item := range val {
			s := scalar(item)
			if s == "" {
				continue
			}
			if strings.ContainsAny(s, ",;\"'") {
				s = strconv.Quote(s)
			}
			items = append(items, s)
		}
		out[key] = "[" + strings.Join(items, ", ") + "]"
	default:
		out[key] = scalar(val)
	}
}

func scalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

// parseLines is the lenient fallback for front matter that YAML rejects,
// such as unquoted values containing ": ".
func parseLines(block string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		key, value, ok := strings.Cut(trimmed, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

var _ cms.Markdown = (*Renderer)(nil)
