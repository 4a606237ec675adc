package prompts

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// TemplateEngine manages facilitator sentence templates
type TemplateEngine struct {
	templates map[string]*Template
	mu        sync.RWMutex
}

// Template is a sentence with {{variable}} placeholders
type Template struct {
	Name        string   `json:"name"`
	Content     string   `json:"content"`
	Variables   []string `json:"variables"`
	Description string   `json:"description"`
}

var varRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// NewTemplateEngine creates an engine preloaded with the default templates
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range defaultTemplates {
		tmpl := t
		_ = e.RegisterTemplate(&tmpl)
	}
	return e
}

// RegisterTemplate adds or replaces a template. Variables are derived from
// the content when not given.
func (e *TemplateEngine) RegisterTemplate(tmpl *Template) error {
	if tmpl.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if len(tmpl.Variables) == 0 {
		tmpl.Variables = extractVariables(tmpl.Content)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[tmpl.Name] = tmpl
	return nil
}

func (e *TemplateEngine) GetTemplate(name string) (*Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tmpl, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	return tmpl, nil
}

// Names lists registered templates in sorted order.
func (e *TemplateEngine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render fills a template. Missing variables are an error so broken
// sentences never reach the facilitator.
func (e *TemplateEngine) Render(name string, vars map[string]string) (string, error) {
	tmpl, err := e.GetTemplate(name)
	if err != nil {
		return "", err
	}

	var missing string
	out := varRegex.ReplaceAllStringFunc(tmpl.Content, func(match string) string {
		key := varRegex.FindStringSubmatch(match)[1]
		if v, ok := vars[key]; ok {
			return v
		}
		if missing == "" {
			missing = key
		}
		return match
	})
	if missing != "" {
		return "", fmt.Errorf("template %s: missing variable %s", name, missing)
	}
	return out, nil
}

// MustRender is Render for the built-in templates, whose variables are
// fixed at compile time.
func (e *TemplateEngine) MustRender(name string, vars map[string]string) string {
	out, err := e.Render(name, vars)
	if err != nil {
		panic(err)
	}
	return out
}

func extractVariables(content string) []string {
	matches := varRegex.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool, len(matches))
	vars := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			vars = append(vars, m[1])
		}
	}
	return vars
}
