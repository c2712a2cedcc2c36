package escalation

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Render substitutes {{name}} tokens in a template with values from data.
// Tokens without a matching key are left verbatim so newer templates keep
// working against older data maps. Values are substituted as plain strings
// and never re-scanned for tokens.
func Render(template string, data map[string]string) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := data[name]; ok {
			return value
		}
		return match
	})
}
