// Package prompt holds agent prompt text and the small {{var}} template
// language used to fill it in.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	varRe      = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseStr = "{{/if}}"
)

// Vars is a map of variable names to values for template rendering.
type Vars map[string]string

// Render expands a template string with the given variables.
// {{variable}} is replaced with its value. Missing required variables cause an error.
// {{#if variable}}...{{/if}} blocks are included only if the variable is non-empty.
func Render(tmpl string, vars Vars) (string, error) {
	// Process conditional blocks iteratively, innermost first
	result, err := processConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	// Second pass: expand variables, collecting any missing ones
	var missing []string
	expanded := varRe.ReplaceAllStringFunc(result, func(match string) string {
		m := varRe.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		varName := m[1]
		if val, ok := vars[varName]; ok {
			return val
		}
		missing = append(missing, varName)
		return match // leave placeholder for error reporting
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}

	return expanded, nil
}

// processConditionals handles {{#if var}}...{{/if}} blocks, supporting nesting.
// It processes innermost blocks first by finding the last {{#if before each {{/if}}.
func processConditionals(tmpl string, vars Vars) (string, error) {
	result := tmpl
	for {
		// Find the first {{/if}}
		closeIdx := strings.Index(result, ifCloseStr)
		if closeIdx == -1 {
			break
		}

		// Find the last {{#if ...}} before this {{/if}}; that's the innermost
		prefix := result[:closeIdx]
		openLocs := ifOpenRe.FindAllStringIndex(prefix, -1)
		if openLocs == nil {
			return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
		}

		// Take the last (innermost) opening tag
		lastOpen := openLocs[len(openLocs)-1]
		openStart := lastOpen[0]
		openEnd := lastOpen[1]

		// Extract variable name from the opening tag
		openTag := prefix[openStart:openEnd]
		m := ifOpenRe.FindStringSubmatch(openTag)
		if m == nil {
			return "", fmt.Errorf("failed to parse conditional tag: %s", openTag)
		}
		varName := m[1]

		// Extract body between opening and closing tags
		body := result[openEnd:closeIdx]
		closeEnd := closeIdx + len(ifCloseStr)

		// Evaluate: include body if variable is set and non-empty
		var replacement string
		if val, ok := vars[varName]; ok && val != "" {
			replacement = body
		}

		result = result[:openStart] + replacement + result[closeEnd:]
	}

	// Check for unclosed conditional blocks
	if ifOpenRe.MatchString(result) {
		loc := ifOpenRe.FindString(result)
		return "", fmt.Errorf("unclosed conditional block: %s", loc)
	}

	return result, nil
}

// DefaultOverrideDir is where projects drop replacement system prompts,
// one <agent>.md per agent.
const DefaultOverrideDir = ".devlution/prompts"

// Library resolves agent prompts: a project override when present, then the
// built-in text.
type Library struct {
	dir string
}

// NewLibrary returns a library reading overrides from dir. An empty dir
// disables overrides.
func NewLibrary(dir string) *Library {
	return &Library{dir: dir}
}

// Dir returns the override directory.
func (l *Library) Dir() string {
	return l.dir
}

func validName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid prompt name %q", name)
	}
	return nil
}

// System returns the system prompt for agent. Unknown agents without an
// override get a one-line generic prompt.
func (l *Library) System(agent string) string {
	if validName(agent) == nil && l.dir != "" {
		if data, err := os.ReadFile(filepath.Join(l.dir, agent+".md")); err == nil {
			return string(data)
		}
	}
	if s, ok := systemPrompts[agent]; ok {
		return s
	}
	return fmt.Sprintf("You are the %s agent in the Devlution pipeline.", agent)
}

// User renders the built-in user message template for agent.
func (l *Library) User(agent string, vars Vars) (string, error) {
	tmpl, ok := userTemplates[agent]
	if !ok {
		return "", fmt.Errorf("no user template for %q", agent)
	}
	return Render(tmpl, vars)
}

// Install writes the built-in system prompts into the override directory so
// users can edit them. Existing files are kept unless overwrite is set.
func (l *Library) Install(overwrite bool) ([]string, error) {
	if l.dir == "" {
		return nil, fmt.Errorf("prompt library has no override directory")
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create prompts dir: %w", err)
	}
	var written []string
	for _, name := range Names() {
		path := filepath.Join(l.dir, name+".md")
		if _, err := os.Stat(path); err == nil && !overwrite {
			continue
		}
		if err := os.WriteFile(path, []byte(systemPrompts[name]), 0o644); err != nil {
			return written, fmt.Errorf("write prompt %q: %w", name, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// Names lists the agents with a built-in system prompt, sorted.
func Names() []string {
	names := make([]string, 0, len(systemPrompts))
	for n := range systemPrompts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
