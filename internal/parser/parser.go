// Package parser extracts frontmatter, title, tags and the note date from Markdown content.
package parser

import (
	"bytes"
	"path"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/ansuz/internal/models"
)

var (
	tagRe        = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
	datePrefixRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`)
)

// Result holds the output of parsing a note.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Tags        []string
	Title       string
	Date        models.Date
}

// Parse extracts metadata from the raw bytes of the note identified by id.
func Parse(id string, data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	return &Result{
		Frontmatter: fm,
		Body:        body,
		Tags:        extractTags(body, fm),
		Title:       deriveTitle(id, fm, body),
		Date:        deriveDate(id, fm),
	}, nil
}

// Note parses data into an immutable models.Note.
func Note(id string, data []byte) (models.Note, error) {
	res, err := Parse(id, data)
	if err != nil {
		return models.Note{}, err
	}
	return models.Note{
		ID:      id,
		Content: string(data),
		Date:    res.Date,
		Title:   res.Title,
		Tags:    res.Tags,
	}, nil
}

// DateFromName returns the date encoded as a leading YYYY-MM-DD in the
// base name of id, or the zero date.
func DateFromName(id string) models.Date {
	m := datePrefixRe.FindStringSubmatch(path.Base(id))
	if m == nil {
		return models.Date{}
	}
	d, err := models.ParseDate(m[1])
	if err != nil {
		return models.Date{}
	}
	return d
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML is treated as plain body.
		return nil, string(data), nil
	}

	return fm, body, nil
}

// extractTags collects #tags from body and from the frontmatter "tags" field.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if raw, ok := fm["tags"]; ok {
		switch v := raw.(type) {
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		case string:
			for _, s := range strings.Split(v, ",") {
				add(s)
			}
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

// deriveTitle returns the frontmatter "title", otherwise the first H1
// heading, otherwise the file name without extension.
func deriveTitle(id string, fm map[string]interface{}, body string) string {
	if s, ok := fm["title"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	base := path.Base(id)
	return strings.TrimSuffix(base, path.Ext(base))
}

// deriveDate prefers the file name prefix, then frontmatter "date" or "created".
func deriveDate(id string, fm map[string]interface{}) models.Date {
	if d := DateFromName(id); !d.IsZero() {
		return d
	}
	for _, key := range []string{"date", "created"} {
		switch v := fm[key].(type) {
		case time.Time:
			return models.NewDate(v.Year(), v.Month(), v.Day())
		case string:
			s := strings.TrimSpace(v)
			if len(s) >= 10 {
				s = s[:10]
			}
			if d, err := models.ParseDate(s); err == nil {
				return d
			}
		}
	}
	return models.Date{}
}
