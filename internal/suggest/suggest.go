package suggest

import (
	"strings"

	"github.com/zwy923/onebox/pkg/config"
)

// Template is a canned reply. Keywords is a pipe-delimited list.
type Template struct {
	Type     string
	Keywords string
	Response string
}

// DefaultTemplates is used when no templates are configured.
func DefaultTemplates() []Template {
	return []Template{
		{
			Type:     "interview_request",
			Keywords: "interview|technical interview|schedule a call",
			Response: "Thank you for considering my profile! I would be happy to schedule a technical interview. You can book a time that works best for you here: https://cal.com/example",
		},
		{
			Type:     "follow_up",
			Keywords: "following up|check in|status update",
			Response: "Thank you for following up. I remain very interested in the opportunity and look forward to discussing next steps.",
		},
	}
}

// FromConfig converts configured templates, falling back to DefaultTemplates.
func FromConfig(cfgs []config.TemplateConfig) []Template {
	if len(cfgs) == 0 {
		return DefaultTemplates()
	}
	out := make([]Template, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, Template{Type: c.Type, Keywords: c.Keywords, Response: c.Response})
	}
	return out
}

type compiled struct {
	template Template
	keywords []string
}

// Engine picks the first template, in order, with a keyword contained in the text.
type Engine struct {
	templates []compiled
}

func NewEngine(templates []Template) *Engine {
	e := &Engine{templates: make([]compiled, 0, len(templates))}
	for _, t := range templates {
		c := compiled{template: t}
		for _, kw := range strings.Split(t.Keywords, "|") {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				c.keywords = append(c.keywords, kw)
			}
		}
		e.templates = append(e.templates, c)
	}
	return e
}

// Suggest returns the response of the first template with a keyword in any
// of fields. Each field is searched on its own.
func (e *Engine) Suggest(fields ...string) (string, bool) {
	t, ok := e.Match(fields...)
	if !ok {
		return "", false
	}
	return t.Response, true
}

// Match is Suggest returning the whole template.
func (e *Engine) Match(fields ...string) (Template, bool) {
	lower := make([]string, len(fields))
	for i, f := range fields {
		lower[i] = strings.ToLower(f)
	}
	for _, c := range e.templates {
		for _, kw := range c.keywords {
			for _, f := range lower {
				if strings.Contains(f, kw) {
					return c.template, true
				}
			}
		}
	}
	return Template{}, false
}
