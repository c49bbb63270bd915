// Package parser extracts wikilinks and front matter from node content.
package parser

import (
	"bytes"
	"fmt"
	"iter"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/nous/internal/models"
)

var (
	openMarker  = []byte("[[")
	closeMarker = []byte("]]")
)

// Diagnostic describes a malformed marker that was skipped.
type Diagnostic struct {
	Offset int
	Line   int
	Reason string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("line %d (offset %d): %s", d.Line, d.Offset, d.Reason)
}

// Result holds the output of parsing a node.
type Result struct {
	Title       string
	Frontmatter map[string]any
	Links       []models.Link
	Diagnostics []Diagnostic
}

// Parse extracts the title, every well-formed wikilink and a diagnostic for
// every malformed marker in data.
func Parse(data []byte) *Result {
	fm, body := splitFrontmatter(data)
	res := &Result{
		Frontmatter: fm,
		Title:       deriveTitle(fm, body),
	}
	for link := range scan(data, func(d Diagnostic) {
		res.Diagnostics = append(res.Diagnostics, d)
	}) {
		res.Links = append(res.Links, link)
	}
	return res
}

// Links returns a lazy sequence of the wikilinks in data, in source order.
// The sequence can be ranged over any number of times.
func Links(data []byte) iter.Seq[models.Link] {
	return scan(data, nil)
}

// scan walks data marker by marker. A marker must close on the line it opens;
// an unclosed, nested or empty marker is reported and skipped.
func scan(data []byte, report func(Diagnostic)) iter.Seq[models.Link] {
	return func(yield func(models.Link) bool) {
		pos, line, counted := 0, 1, 0
		for pos < len(data) {
			i := bytes.Index(data[pos:], openMarker)
			if i < 0 {
				return
			}
			start := pos + i
			line += bytes.Count(data[counted:start], []byte{'\n'})
			counted = start

			body := start + len(openMarker)
			limit := len(data)
			if eol := bytes.IndexByte(data[body:], '\n'); eol >= 0 {
				limit = body + eol
			}
			seg := data[body:limit]

			end := bytes.Index(seg, closeMarker)
			if end < 0 {
				if report != nil {
					report(Diagnostic{Offset: start, Line: line, Reason: "unterminated marker"})
				}
				pos = body
				continue
			}
			if nested := bytes.Index(seg[:end], openMarker); nested >= 0 {
				if report != nil {
					report(Diagnostic{Offset: start, Line: line, Reason: "nested marker"})
				}
				pos = body + nested
				continue
			}
			pos = body + end + len(closeMarker)

			link, ok := split(string(seg[:end]))
			if !ok {
				if report != nil {
					report(Diagnostic{Offset: start, Line: line, Reason: "empty target"})
				}
				continue
			}
			link.Offset = start
			link.Line = line
			if !yield(link) {
				return
			}
		}
	}
}

// split breaks the marker text into target, section and alias:
// target#section|alias.
func split(inner string) (models.Link, bool) {
	var link models.Link
	target := inner
	if i := strings.IndexByte(inner, '|'); i >= 0 {
		target = inner[:i]
		link.Alias = strings.TrimSpace(inner[i+1:])
	}
	if i := strings.IndexByte(target, '#'); i >= 0 {
		link.Section = strings.TrimSpace(target[i+1:])
		target = target[:i]
	}
	link.Target = strings.TrimSpace(target)
	return link, link.Target != ""
}

// splitFrontmatter separates YAML front matter (between leading --- delimiters)
// from the body. Missing or invalid front matter leaves the whole content as body.
func splitFrontmatter(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data)
	}

	return fm, body
}

// deriveTitle returns the front matter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]any, body string) string {
	if t, ok := fm["title"].(string); ok && t != "" {
		return t
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
