package spreadsheet

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Field is a logical column and the header aliases accepted for it, best first.
type Field struct {
	Name    string
	Aliases []string
}

// MissingColumnError reports a logical field that no header matched.
type MissingColumnError struct {
	Field     string
	Available []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing required column %q; available columns: %s", e.Field, strings.Join(e.Available, ", "))
}

// ResolveColumns maps every field in schema to a header index.
//
// Fields are resolved in schema order. For each alias an exact match wins
// over a substring match, comparisons ignore case and accents, and a header
// claimed by an earlier field is not reused.
func ResolveColumns(headers []string, schema []Field) (map[string]int, error) {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = Normalize(h)
	}

	claimed := make(map[int]bool, len(headers))
	resolved := make(map[string]int, len(schema))
	for _, field := range schema {
		idx := matchField(normalized, claimed, field.Aliases)
		if idx < 0 {
			return nil, &MissingColumnError{Field: field.Name, Available: nonEmpty(headers)}
		}
		claimed[idx] = true
		resolved[field.Name] = idx
	}
	return resolved, nil
}

func matchField(headers []string, claimed map[int]bool, aliases []string) int {
	for _, alias := range aliases {
		a := Normalize(alias)
		if a == "" {
			continue
		}
		for i, h := range headers {
			if !claimed[i] && h == a {
				return i
			}
		}
		for i, h := range headers {
			if !claimed[i] && h != "" && strings.Contains(h, a) {
				return i
			}
		}
	}
	return -1
}

// Normalize lower-cases s, strips diacritics and collapses inner whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

func nonEmpty(headers []string) []string {
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		if strings.TrimSpace(h) != "" {
			out = append(out, h)
		}
	}
	return out
}
