// Package placeholder implements the {VARIABLE} substitution used by email
// subjects, email bodies and certificate text fields. It is plain text
// replacement: no escaping, conditionals or loops.
package placeholder

import (
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\{([A-Z_]+)\}`)

// Extract returns the distinct variable names referenced by content, sorted.
func Extract(content string) []string {
	matches := tokenPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	sort.Strings(names)
	return names
}

// Render replaces every {NAME} with its value. Names are upper-cased before
// matching; placeholders without a value are left untouched.
func Render(content string, vars map[string]string) string {
	if content == "" || len(vars) == 0 {
		return content
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		content = strings.ReplaceAll(content, "{"+strings.ToUpper(k)+"}", vars[k])
	}
	return content
}

// Unresolved lists the names still present in rendered content.
func Unresolved(rendered string) []string {
	return Extract(rendered)
}

// Merge layers each map over the previous one; later maps win on collisions.
func Merge(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			out[strings.ToUpper(k)] = v
		}
	}
	return out
}
