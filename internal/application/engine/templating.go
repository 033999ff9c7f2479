package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// tokenPattern matches {{path}} placeholders in node config values.
var tokenPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// renderValue substitutes {{path}} tokens in a config value recursively.
// Substitution is lenient: unresolved tokens are left in place so the
// adapter sees what was asked for.
func renderValue(value any, vars map[string]any) any {
	switch v := value.(type) {
	case string:
		return renderString(v, vars)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = renderValue(item, vars)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = renderValue(item, vars)
		}
		return out
	default:
		return value
	}
}

// renderConfig substitutes tokens in every value of a node config.
func renderConfig(config map[string]any, vars map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = renderValue(v, vars)
	}
	return out
}

func renderString(s string, vars map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}

	// A string that is exactly one token renders as the resolved value's
	// string form (resolveTemplated is the variant that keeps the type);
	// an unresolved token is left as is.
	if m := tokenPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		if value := lookupPath(vars, strings.TrimSpace(m[1])); value != nil {
			if str, ok := value.(string); ok {
				return str
			}
			return fmt.Sprint(value)
		}
		return s
	}

	return tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		path := strings.TrimSpace(token[2 : len(token)-2])
		value := lookupPath(vars, path)
		if value == nil {
			return token
		}
		return fmt.Sprint(value)
	})
}

// resolveTemplated resolves a token-or-value config entry to its typed
// value: "{{x}}" yields vars["x"] unchanged, anything else renders as a
// string.
func resolveTemplated(value any, vars map[string]any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if m := tokenPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		if resolved := lookupPath(vars, strings.TrimSpace(m[1])); resolved != nil {
			return resolved
		}
	}
	return renderString(s, vars)
}

// lookupPath resolves dotted paths through nested maps.
func lookupPath(vars map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = vars
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}
