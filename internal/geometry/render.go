// Package geometry renders per-run processing inputs (XDS.INP and
// CrystFEL .geom files) from the shipped templates. Rendering is a pure
// substitution of $PLACEHOLDER tokens; everything else in the template,
// panel geometry included, passes through byte-identical.
package geometry

import (
	"fmt"
	"strconv"
	"strings"
)

// Substitutions maps placeholder names to their rendered values.
type Substitutions map[string]string

// Render substitutes $NAME and ${NAME} tokens in the template text.
// "$$" renders as a literal "$". A placeholder without an entry in subs
// is an error so that a stale template cannot silently produce an
// input file with tokens left inside.
func Render(template string, subs Substitutions) (string, error) {
	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); {
		c := template[i]
		if c != '$' {
			b.WriteByte(c)
			i++
			continue
		}
		if i+1 < len(template) && template[i+1] == '$' {
			b.WriteByte('$')
			i += 2
			continue
		}

		name, next, ok := scanPlaceholder(template, i+1)
		if !ok {
			// A bare "$" with no identifier is kept as-is.
			b.WriteByte('$')
			i++
			continue
		}
		value, found := subs[name]
		if !found {
			return "", fmt.Errorf("unresolved placeholder $%s", name)
		}
		b.WriteString(value)
		i = next
	}
	return b.String(), nil
}

func scanPlaceholder(s string, start int) (name string, next int, ok bool) {
	if start >= len(s) {
		return "", 0, false
	}
	braced := s[start] == '{'
	i := start
	if braced {
		i++
	}
	j := i
	for j < len(s) && isIdentByte(s[j], j > i) {
		j++
	}
	if j == i {
		return "", 0, false
	}
	if braced {
		if j >= len(s) || s[j] != '}' {
			return "", 0, false
		}
		return s[i:j], j + 1, true
	}
	return s[i:j], j, true
}

func isIdentByte(c byte, notFirst bool) bool {
	switch {
	case c == '_', 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		return true
	case '0' <= c && c <= '9':
		return notFirst
	}
	return false
}

// formatNumber renders floats the shortest way that round-trips, so
// 0.1 stays "0.1" and 12000.0 becomes "12000".
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
