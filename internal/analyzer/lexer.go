package analyzer

import (
	"strconv"
	"strings"

	"github.com/SimonWaldherr/sqlpagego/internal/dialect"
)

// scanAndRewrite walks stmt outside of quoted sections, replacing every
// top-level $name, :name, and sqlpage.func(...) occurrence with the
// dialect's native positional marker, and returns the ordered
// PlaceholderRef list those markers are bound to.
func scanAndRewrite(stmt string, d dialect.Dialect, known KnownFunctions, depth int) (string, []PlaceholderRef, error) {
	var out strings.Builder
	var refs []PlaceholderRef
	runes := []rune(stmt)
	n := len(runes)
	i := 0

	for i < n {
		c := runes[i]
		switch {
		case c == '\'' || c == '"':
			j, lit := readQuoted(runes, i)
			out.WriteString(lit)
			i = j
		case c == '$' && i+1 < n && isIdentStart(runes[i+1]):
			name, j := readIdent(runes, i+1)
			ordinal := len(refs) + 1
			refs = append(refs, PlaceholderRef{Ordinal: ordinal, Kind: SourceGetParam, Name: name})
			out.WriteString(d.Placeholder(ordinal))
			i = j
		case c == ':' && i+1 < n && isIdentStart(runes[i+1]):
			name, j := readIdent(runes, i+1)
			ordinal := len(refs) + 1
			refs = append(refs, PlaceholderRef{Ordinal: ordinal, Kind: SourceVar, Name: name})
			out.WriteString(d.Placeholder(ordinal))
			i = j
		case matchesFunctionCall(runes, i):
			fc, j, err := readFunctionCall(runes, i, known, depth)
			if err != nil {
				return "", nil, err
			}
			ordinal := len(refs) + 1
			refs = append(refs, PlaceholderRef{Ordinal: ordinal, Kind: SourceFunction, Call: fc})
			out.WriteString(d.Placeholder(ordinal))
			i = j
		default:
			out.WriteRune(c)
			i++
		}
	}
	return out.String(), refs, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

func readIdent(runes []rune, start int) (string, int) {
	j := start
	for j < len(runes) && isIdentPart(runes[j]) {
		j++
	}
	return string(runes[start:j]), j
}

// readQuoted copies a single- or double-quoted literal (with its ''/""
// escape convention) verbatim, returning the index just past its closing
// quote.
func readQuoted(runes []rune, start int) (int, string) {
	quote := runes[start]
	var b strings.Builder
	b.WriteRune(quote)
	i := start + 1
	n := len(runes)
	for i < n {
		b.WriteRune(runes[i])
		if runes[i] == quote {
			if i+1 < n && runes[i+1] == quote {
				b.WriteRune(runes[i+1])
				i += 2
				continue
			}
			i++
			break
		}
		i++
	}
	return i, b.String()
}

const functionPrefix = "sqlpage."

// matchesFunctionCall reports whether runes[i:] begins a `sqlpage.name(`
// call, case-insensitively on the "sqlpage" prefix.
func matchesFunctionCall(runes []rune, i int) bool {
	n := len(runes)
	if i+len(functionPrefix) > n {
		return false
	}
	if !strings.EqualFold(string(runes[i:i+len(functionPrefix)]), functionPrefix) {
		return false
	}
	j := i + len(functionPrefix)
	if j >= n || !isIdentStart(runes[j]) {
		return false
	}
	_, k := readIdent(runes, j)
	for k < n && runes[k] == ' ' {
		k++
	}
	return k < n && runes[k] == '('
}

// readFunctionCall parses a `sqlpage.name(arg, arg, ...)` call starting at
// runes[start], returning the parsed FunctionCall and the index just past
// its closing paren.
func readFunctionCall(runes []rune, start int, known KnownFunctions, depth int) (*FunctionCall, int, error) {
	if depth >= maxFunctionDepth {
		return nil, 0, &RecursiveFunctionError{Name: "sqlpage.*"}
	}
	i := start + len(functionPrefix)
	name, i := readIdent(runes, i)
	if known != nil && !known.IsKnown(name) {
		return nil, 0, &UnknownFunctionError{Name: name}
	}
	for i < len(runes) && runes[i] == ' ' {
		i++
	}
	// runes[i] == '('
	i++
	argTexts, i, err := readArgList(runes, i)
	if err != nil {
		return nil, 0, err
	}

	fc := &FunctionCall{Name: name}
	for _, argText := range argTexts {
		arg, err := parseArgument(argText, known, depth+1)
		if err != nil {
			return nil, 0, err
		}
		fc.Args = append(fc.Args, arg)
	}
	return fc, i, nil
}

// readArgList splits the text between a call's parens on top-level commas,
// respecting nested parens and quoted strings, returning the index just
// past the closing paren.
func readArgList(runes []rune, start int) ([]string, int, error) {
	var args []string
	var cur strings.Builder
	depth := 0
	i := start
	n := len(runes)
	for i < n {
		c := runes[i]
		switch {
		case c == '\'' || c == '"':
			j, lit := readQuoted(runes, i)
			cur.WriteString(lit)
			i = j
			continue
		case c == '(':
			depth++
			cur.WriteRune(c)
		case c == ')':
			if depth == 0 {
				if strings.TrimSpace(cur.String()) != "" {
					args = append(args, cur.String())
				}
				return args, i + 1, nil
			}
			depth--
			cur.WriteRune(c)
		case c == ',' && depth == 0:
			args = append(args, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(c)
		}
		i++
	}
	return nil, 0, &ParseError{Msg: "unterminated function call argument list"}
}

// parseArgument interprets one function-call argument text as a nested
// placeholder, a nested sqlpage.* call, or a literal.
func parseArgument(text string, known KnownFunctions, depth int) (PlaceholderRef, error) {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	n := len(runes)

	switch {
	case n == 0:
		return PlaceholderRef{Kind: SourceLiteral, Name: ""}, nil
	case runes[0] == '\'' || runes[0] == '"':
		_, lit := readQuoted(runes, 0)
		return PlaceholderRef{Kind: SourceLiteral, Name: unquote(lit)}, nil
	case runes[0] == '$' && n > 1:
		name, _ := readIdent(runes, 1)
		return PlaceholderRef{Kind: SourceGetParam, Name: name}, nil
	case runes[0] == ':' && n > 1:
		name, _ := readIdent(runes, 1)
		return PlaceholderRef{Kind: SourceVar, Name: name}, nil
	case matchesFunctionCall(runes, 0):
		fc, _, err := readFunctionCall(runes, 0, known, depth)
		if err != nil {
			return PlaceholderRef{}, err
		}
		return PlaceholderRef{Kind: SourceFunction, Call: fc}, nil
	default:
		return PlaceholderRef{Kind: SourceLiteral, Name: trimmed}, nil
	}
}

func unquote(lit string) string {
	if len(lit) < 2 {
		return lit
	}
	quote := lit[0]
	body := lit[1 : len(lit)-1]
	doubled := string(quote) + string(quote)
	return strings.ReplaceAll(body, doubled, string(quote))
}

// literalProjection recognizes a statement of the shape
// `SELECT <literal> AS col, <literal> AS col2, ...` (with no FROM clause)
// where every projected expression is a quoted string,
// numeric, NULL, TRUE, or FALSE literal, returning its columns in order.
// It is deliberately conservative: any non-literal expression, subquery,
// or FROM clause disqualifies the statement.
func literalProjection(stmt string) ([]StaticColumn, bool) {
	trimmed := strings.TrimSpace(stmt)
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT ") && upper != "SELECT" {
		return nil, false
	}
	body := strings.TrimSpace(trimmed[len("SELECT"):])
	if strings.Contains(strings.ToUpper(body), " FROM ") {
		return nil, false
	}

	parts, err := splitTopLevelCommas(body)
	if err != nil {
		return nil, false
	}

	cols := make([]StaticColumn, 0, len(parts))
	for idx, part := range parts {
		name, valueText, hasAlias := splitAlias(part)
		val, ok := parseLiteralValue(valueText)
		if !ok {
			return nil, false
		}
		if !hasAlias {
			name = defaultColumnName(idx)
		}
		cols = append(cols, StaticColumn{Name: name, Value: val})
	}
	if len(cols) == 0 {
		return nil, false
	}
	return cols, true
}

func defaultColumnName(idx int) string {
	return strconv.Itoa(idx + 1)
}

func splitTopLevelCommas(s string) ([]string, error) {
	runes := []rune(s)
	var parts []string
	var cur strings.Builder
	depth := 0
	i := 0
	n := len(runes)
	for i < n {
		c := runes[i]
		switch {
		case c == '\'' || c == '"':
			j, lit := readQuoted(runes, i)
			cur.WriteString(lit)
			i = j
			continue
		case c == '(':
			depth++
			cur.WriteRune(c)
		case c == ')':
			depth--
			if depth < 0 {
				return nil, &ParseError{Msg: "unbalanced parentheses"}
			}
			cur.WriteRune(c)
		case c == ',' && depth == 0:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(c)
		}
		i++
	}
	if depth != 0 {
		return nil, &ParseError{Msg: "unbalanced parentheses"}
	}
	parts = append(parts, cur.String())
	return parts, nil
}

// splitAlias recognizes a trailing `AS name` or bare `name` alias.
func splitAlias(part string) (name, value string, hasAlias bool) {
	trimmed := strings.TrimSpace(part)
	upper := strings.ToUpper(trimmed)
	if idx := strings.LastIndex(upper, " AS "); idx >= 0 {
		return strings.TrimSpace(trimmed[idx+4:]), strings.TrimSpace(trimmed[:idx]), true
	}
	return "", trimmed, false
}

func parseLiteralValue(s string) (any, bool) {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) == 0 {
		return nil, false
	}
	switch {
	case runes[0] == '\'' || runes[0] == '"':
		j, lit := readQuoted(runes, 0)
		if j != len(runes) {
			return nil, false
		}
		return unquote(lit), true
	case strings.EqualFold(s, "NULL"):
		return nil, true
	case strings.EqualFold(s, "TRUE"):
		return true, true
	case strings.EqualFold(s, "FALSE"):
		return false, true
	}
	if neg := strings.HasPrefix(s, "-"); neg || (runes[0] >= '0' && runes[0] <= '9') {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i, true
			}
			return f, true
		}
	}
	return nil, false
}
