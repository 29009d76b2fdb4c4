package sandbox

import "strings"

// Split breaks sqlText into statements at every ';'. The split is naive: a
// semicolon inside a string literal, a quoted identifier, or a procedural
// block still ends the statement. Fragments that are empty or hold nothing
// but "--" comments are dropped.
func Split(sqlText string) []string {
	var stmts []string
	for _, part := range strings.Split(sqlText, ";") {
		stmt := strings.TrimSpace(part)
		if stmt == "" || onlyComments(stmt) {
			continue
		}
		stmts = append(stmts, stmt)
	}
	return stmts
}

func onlyComments(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}

var queryPrefixes = []string{"SELECT", "WITH", "PRAGMA", "EXPLAIN", "VALUES", "SHOW", "DESCRIBE"}

// isQuery reports whether stmt returns rows. Leading comment lines are ignored.
func isQuery(stmt string) bool {
	kw := leadingKeyword(stmt)
	for _, p := range queryPrefixes {
		if kw == p {
			return true
		}
	}
	return false
}

// leadingKeyword returns the first word of stmt after any "--" comment
// lines and opening parentheses, upper-cased.
func leadingKeyword(stmt string) string {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		line = strings.TrimLeft(line, "( \t")
		end := strings.IndexFunc(line, func(r rune) bool {
			return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_')
		})
		if end < 0 {
			end = len(line)
		}
		return strings.ToUpper(line[:end])
	}
	return ""
}
