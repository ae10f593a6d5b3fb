package schematemplate

import (
	"regexp"
	"strings"
)

var dollarTagPattern = regexp.MustCompile(`^\$(?:[A-Za-z_][A-Za-z0-9_]*)?\$`)

// SplitStatements breaks a SQL script into individual statements on top-level semicolons.
// Semicolons inside single-quoted literals, quoted identifiers, dollar-quoted bodies and
// comments do not terminate a statement. Comments are dropped from the output.
func SplitStatements(script string) []string {
	var (
		out     []string
		current strings.Builder
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			out = append(out, stmt)
		}
		current.Reset()
	}

	for i := 0; i < len(script); {
		c := script[i]

		switch {
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				i = len(script)
			} else {
				i += end
			}
			current.WriteByte(' ')

		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			i = skipBlockComment(script, i)
			current.WriteByte(' ')

		case c == '\'' || c == '"':
			end := skipQuoted(script, i, c)
			current.WriteString(script[i:end])
			i = end

		case c == '$':
			tag := dollarTagPattern.FindString(script[i:])
			if tag == "" {
				current.WriteByte(c)
				i++
				continue
			}
			closeAt := strings.Index(script[i+len(tag):], tag)
			end := len(script)
			if closeAt >= 0 {
				end = i + len(tag) + closeAt + len(tag)
			}
			current.WriteString(script[i:end])
			i = end

		case c == ';':
			flush()
			i++

		default:
			current.WriteByte(c)
			i++
		}
	}
	flush()

	return out
}

// skipQuoted returns the index just past the closing quote; doubled quotes are escapes.
func skipQuoted(script string, start int, quote byte) int {
	for i := start + 1; i < len(script); i++ {
		if script[i] != quote {
			continue
		}
		if i+1 < len(script) && script[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(script)
}

// skipBlockComment handles nested /* */ comments the way PostgreSQL does.
func skipBlockComment(script string, start int) int {
	depth := 0
	for i := start; i < len(script)-1; i++ {
		switch {
		case script[i] == '/' && script[i+1] == '*':
			depth++
			i++
		case script[i] == '*' && script[i+1] == '/':
			depth--
			i++
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(script)
}
