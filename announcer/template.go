package announcer

import (
	"strconv"
	"strings"
)

// DefaultTemplate is spoken when none is configured
const DefaultTemplate = "{count} people"

// Template turns a count into announcement text. "{count}" and "{topic}"
// are substituted.
type Template struct {
	raw string
}

// NewTemplate creates a template, falling back to DefaultTemplate
func NewTemplate(raw string) Template {
	if strings.TrimSpace(raw) == "" {
		raw = DefaultTemplate
	}
	return Template{raw: raw}
}

// Render produces the text for value on topic
func (t Template) Render(topic string, value int64) string {
	return strings.NewReplacer(
		"{count}", strconv.FormatInt(value, 10),
		"{topic}", topic,
	).Replace(t.raw)
}

// String returns the raw template
func (t Template) String() string {
	return t.raw
}
