// Package sqlguard rejects SQL that is not a single read-only query over
// an allowed set of tables.
package sqlguard

import (
	"errors"
	"fmt"
	"strings"
)

var forbidden = keywordSet(
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "REPLACE", "TRUNCATE",
	"ATTACH", "DETACH", "PRAGMA", "GRANT", "REVOKE", "VACUUM", "MERGE", "UPSERT",
	"EXEC", "EXECUTE", "CALL", "COPY", "INTO", "LOCK", "REINDEX", "ANALYZE", "SET",
	"BEGIN", "COMMIT", "ROLLBACK", "SAVEPOINT", "LOAD", "RETURNING", "NOTIFY", "LISTEN",
	"DO", "SHOW", "EXPLAIN", "FOR",
)

// keywords may precede "(" without being a function call.
var keywords = keywordSet(
	"SELECT", "FROM", "WHERE", "AND", "OR", "NOT", "IN", "EXISTS", "AS", "ON",
	"JOIN", "USING", "WITH", "RECURSIVE", "UNION", "ALL", "ANY", "EXCEPT",
	"INTERSECT", "DISTINCT", "CASE", "WHEN", "THEN", "ELSE", "END", "BY", "GROUP",
	"ORDER", "HAVING", "LIKE", "ILIKE", "BETWEEN", "IS", "NULL", "LIMIT", "OFFSET",
	"INNER", "LEFT", "RIGHT", "OUTER", "FULL", "CROSS", "NATURAL", "ASC", "DESC",
	"ESCAPE", "COLLATE",
)

// functions lists the calls a directory query may make. Everything else,
// including sequence, file and extension functions, is rejected.
var functions = keywordSet(
	"COUNT", "MIN", "MAX", "SUM", "AVG", "LOWER", "UPPER", "TRIM", "LTRIM", "RTRIM",
	"COALESCE", "IFNULL", "NULLIF", "LENGTH", "ABS", "ROUND", "CAST",
	"GROUP_CONCAT", "STRING_AGG",
)

func keywordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// ViolationError describes why a statement was rejected.
type ViolationError struct {
	Reason string
}

func (e *ViolationError) Error() string {
	return "unsafe query: " + e.Reason
}

func violation(format string, args ...any) error {
	return &ViolationError{Reason: fmt.Sprintf(format, args...)}
}

// ValidateReadOnly accepts a single SELECT (optionally introduced by WITH)
// that reads only from allowedTables and calls only simple scalar and
// aggregate functions. Table names compare case-insensitively; an empty
// allow list permits any table.
func ValidateReadOnly(sql string, allowedTables []string) error {
	toks, err := tokenize(sql)
	if err != nil {
		return err
	}
	if n := len(toks); n > 0 && toks[n-1].kind == tokPunct && toks[n-1].text == ";" {
		toks = toks[:n-1]
	}
	if len(toks) == 0 {
		return violation("empty statement")
	}
	if !toks[0].is("SELECT") && !toks[0].is("WITH") {
		return violation("statement is not a SELECT")
	}

	ctes := map[string]bool{}
	for i, t := range toks {
		switch t.kind {
		case tokPunct:
			if t.text == ";" {
				return violation("multiple statements")
			}
		case tokWord:
			if forbidden[t.upper()] {
				return violation("forbidden keyword %s", t.upper())
			}
		}
		if i+2 < len(toks) && t.isName() && toks[i+1].is("AS") && toks[i+2].isPunct("(") {
			ctes[strings.ToLower(t.text)] = true
		}
		if t.isName() && i+1 < len(toks) && toks[i+1].isPunct("(") {
			if t.kind == tokWord && keywords[t.upper()] {
				continue
			}
			if !functions[strings.ToUpper(t.text)] {
				return violation("function %s is not allowed", t.text)
			}
		}
	}

	if len(allowedTables) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(allowedTables)+len(ctes))
	for _, t := range allowedTables {
		allowed[strings.ToLower(t)] = true
	}
	for name := range ctes {
		allowed[name] = true
	}

	tables, err := tableRefs(toks)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		return violation("statement reads from no table")
	}
	for _, name := range tables {
		if !allowed[strings.ToLower(name)] {
			return violation("table %s is not allowed", name)
		}
	}
	return nil
}

// IsViolation reports whether err came from ValidateReadOnly.
func IsViolation(err error) bool {
	var v *ViolationError
	return errors.As(err, &v)
}

// tableRefs returns every table named after FROM or JOIN, walking
// comma-separated FROM lists. Subqueries are skipped here; their own FROM
// clauses are found by the same scan.
func tableRefs(toks []token) ([]string, error) {
	var out []string
	for i := 0; i < len(toks); i++ {
		if !toks[i].is("FROM") && !toks[i].is("JOIN") {
			continue
		}
		j := i + 1
		for {
			if j >= len(toks) {
				return nil, violation("%s without a table", toks[i].upper())
			}
			if toks[j].isPunct("(") {
				j = skipGroup(toks, j)
			} else {
				name, next, ok := qualifiedName(toks, j)
				if !ok {
					return nil, violation("unexpected %q after %s", toks[j].text, toks[i].upper())
				}
				out = append(out, name)
				j = next
			}
			if j < len(toks) && toks[j].is("AS") {
				j++
			}
			if j < len(toks) && toks[j].isName() && !(toks[j].kind == tokWord && keywords[toks[j].upper()]) {
				j++
			}
			if toks[i].is("FROM") && j < len(toks) && toks[j].isPunct(",") {
				j++
				continue
			}
			break
		}
	}
	return out, nil
}

func qualifiedName(toks []token, j int) (string, int, bool) {
	if !toks[j].isName() || (toks[j].kind == tokWord && keywords[toks[j].upper()]) {
		return "", j, false
	}
	parts := []string{toks[j].text}
	j++
	for j+1 < len(toks) && toks[j].isPunct(".") && toks[j+1].isName() {
		parts = append(parts, toks[j+1].text)
		j += 2
	}
	return strings.Join(parts, "."), j, true
}

// skipGroup returns the index after the parenthesis matching toks[j].
func skipGroup(toks []token, j int) int {
	depth := 0
	for ; j < len(toks); j++ {
		switch {
		case toks[j].isPunct("("):
			depth++
		case toks[j].isPunct(")"):
			depth--
			if depth == 0 {
				return j + 1
			}
		}
	}
	return j
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuoted
	tokString
	tokNumber
	tokParam
	tokPunct
)

type token struct {
	kind tokenKind
	text string
}

func (t token) upper() string { return strings.ToUpper(t.text) }

// is matches an unquoted keyword.
func (t token) is(word string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, word)
}

func (t token) isPunct(p string) bool { return t.kind == tokPunct && t.text == p }

func (t token) isName() bool { return t.kind == tokWord || t.kind == tokQuoted }

func tokenize(sql string) ([]token, error) {
	var toks []token
	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-', c == '/' && i+1 < len(sql) && sql[i+1] == '*', c == '#':
			return nil, violation("comments are not allowed")
		case c == '\'':
			j := i + 1
			for {
				if j >= len(sql) {
					return nil, violation("unterminated string")
				}
				if sql[j] == '\'' {
					if j+1 < len(sql) && sql[j+1] == '\'' {
						j += 2
						continue
					}
					break
				}
				j++
			}
			toks = append(toks, token{tokString, sql[i : j+1]})
			i = j + 1
		case c == '"' || c == '`':
			end := strings.IndexByte(sql[i+1:], c)
			if end < 0 {
				return nil, violation("unterminated identifier")
			}
			toks = append(toks, token{tokQuoted, sql[i+1 : i+1+end]})
			i += end + 2
		case c == '?' || c == '$':
			j := i + 1
			for j < len(sql) && isDigit(sql[j]) {
				j++
			}
			toks = append(toks, token{tokParam, sql[i:j]})
			i = j
		case isDigit(c):
			j := i
			for j < len(sql) && (isDigit(sql[j]) || sql[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, sql[i:j]})
			i = j
		case isWordStart(c):
			j := i
			for j < len(sql) && (isWordStart(sql[j]) || isDigit(sql[j])) {
				j++
			}
			toks = append(toks, token{tokWord, sql[i:j]})
			i = j
		case strings.IndexByte("(),.;=<>!*+-/%|:", c) >= 0:
			toks = append(toks, token{tokPunct, string(c)})
			i++
		default:
			return nil, violation("unexpected character %q", c)
		}
	}
	return toks, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
