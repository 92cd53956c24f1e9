// Package expression evaluates the attribute-expression subset accepted by
// path-valued options: `${name}` is replaced with the named record attribute.
package expression

import (
	"regexp"
	"strings"
)

// escaped `$${` keeps a literal `${` in the output.
const escapedOpen = "$${"

var pattern = regexp.MustCompile(`\$\{\s*([a-zA-Z0-9_.\-]+)\s*\}`)

// Evaluate replaces every `${name}` in expr with attrs[name]. Unknown names
// evaluate to the empty string.
func Evaluate(expr string, attrs map[string]string) string {
	if !strings.Contains(expr, "${") {
		return expr
	}

	parts := strings.Split(expr, escapedOpen)
	for i, part := range parts {
		parts[i] = pattern.ReplaceAllStringFunc(part, func(match string) string {
			name := pattern.FindStringSubmatch(match)[1]
			return attrs[name]
		})
	}
	return strings.Join(parts, "${")
}

// HasExpression reports whether s contains at least one unescaped expression.
func HasExpression(s string) bool {
	for _, part := range strings.Split(s, escapedOpen) {
		if pattern.MatchString(part) {
			return true
		}
	}
	return false
}
