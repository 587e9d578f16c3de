package gate

import (
	"regexp"
	"strings"

	"github.com/askdb/askdb/internal/database"
)

var (
	fencePattern  = regexp.MustCompile("(?is)```(?:sql)?\\s*(.*?)\\s*```")
	labelPattern  = regexp.MustCompile(`(?i)^(?:sql\s*query|sql|query)\s*:\s*`)
	resultPattern = regexp.MustCompile(`(?i)\n\s*SQL\s*Result:`)
	wordPattern   = regexp.MustCompile(`^[A-Za-z]+`)

	dollarTagPattern = regexp.MustCompile(`^\$(?:[A-Za-z_][A-Za-z0-9_]*)?\$`)

	writeClausePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bINTO\b`),
		regexp.MustCompile(`\bFOR\s+(?:NO\s+KEY\s+)?UPDATE\b`),
		regexp.MustCompile(`\bFOR\s+(?:KEY\s+)?SHARE\b`),
		regexp.MustCompile(`\bLOCK\s+IN\s+SHARE\s+MODE\b`),
	}

	// Functions that read server files, sleep, or touch sessions and sequences.
	deniedFunctionPattern = regexp.MustCompile(`\b(?:PG_READ_FILE|PG_READ_BINARY_FILE|PG_LS_DIR|PG_STAT_FILE|LO_IMPORT|LO_EXPORT|PG_TERMINATE_BACKEND|PG_CANCEL_BACKEND|PG_SLEEP|DBLINK\w*|LOAD_FILE|SLEEP|BENCHMARK|SET_CONFIG|NEXTVAL|SETVAL|READ_CSV\w*|READ_PARQUET|READ_JSON\w*|READ_TEXT|READ_BLOB|GLOB)\s*\(`)
)

var statementKeywords = map[string]struct{}{
	"SELECT": {}, "WITH": {}, "INSERT": {}, "UPDATE": {}, "DELETE": {}, "MERGE": {},
	"UPSERT": {}, "REPLACE": {}, "CREATE": {}, "DROP": {}, "ALTER": {}, "TRUNCATE": {},
	"RENAME": {}, "GRANT": {}, "REVOKE": {}, "COPY": {}, "CALL": {}, "EXEC": {},
	"EXECUTE": {}, "DO": {}, "SET": {}, "RESET": {}, "SHOW": {}, "DESCRIBE": {},
	"EXPLAIN": {}, "PRAGMA": {}, "ATTACH": {}, "DETACH": {}, "INSTALL": {}, "LOAD": {},
	"VACUUM": {}, "ANALYZE": {}, "BEGIN": {}, "COMMIT": {}, "ROLLBACK": {}, "LOCK": {},
	"COMMENT": {}, "HANDLER": {}, "USE": {},
}

// CheckSyntax extracts one statement from model output and accepts it only
// when it is a single plain SELECT. Literals and comments are tokenized the
// way dialect's server reads them. The returned statement has leading
// comments and trailing semicolons removed.
func CheckSyntax(candidate string, dialect database.Dialect) (string, ReasonCode, error) {
	text := strings.TrimSpace(candidate)
	if text == "" {
		return "", "", ErrEmptyQuery
	}
	statement := strings.TrimSpace(extractStatement(text))
	if statement == "" {
		return "", "", ErrEmptyQuery
	}

	masked, ok := mask(statement, dialect)
	if !ok {
		return "", ReasonMalformed, nil
	}

	start := len(masked) - len(strings.TrimLeft(masked, " \t\r\n"))
	masked = strings.TrimRight(masked[start:], " \t\r\n;")
	statement = statement[start : start+len(masked)]
	if masked == "" {
		return "", "", ErrEmptyQuery
	}

	upper := strings.ToUpper(masked)
	if wordPattern.FindString(upper) != "SELECT" {
		return "", ReasonNotSelect, nil
	}
	if strings.Contains(masked, ";") {
		return "", ReasonMultipleStatements, nil
	}
	for _, pattern := range writeClausePatterns {
		if pattern.MatchString(upper) {
			return "", ReasonWriteClause, nil
		}
	}
	if deniedFunctionPattern.MatchString(upper) {
		return "", ReasonDeniedFunction, nil
	}
	return statement, ReasonApproved, nil
}

func extractStatement(text string) string {
	if match := fencePattern.FindStringSubmatch(text); match != nil {
		text = match[1]
	}
	if loc := resultPattern.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		candidate := labelPattern.ReplaceAllString(strings.TrimSpace(line), "")
		if isLeadIn(candidate) {
			continue
		}
		keyword := strings.ToUpper(wordPattern.FindString(candidate))
		if _, ok := statementKeywords[keyword]; !ok {
			continue
		}
		rest := append([]string{candidate}, lines[i+1:]...)
		return strings.Join(rest, "\n")
	}
	return labelPattern.ReplaceAllString(text, "")
}

// isLeadIn reports prose that introduces the query, such as "With the
// schema above, the query is:". SQL lines never end in a colon.
func isLeadIn(line string) bool {
	return strings.HasSuffix(line, ":")
}

// mask blanks string literals and comments byte for byte so keyword scans
// see only SQL structure while offsets still line up with the input.
// Quoted identifiers are skipped but left visible. It reports false on
// anything it cannot tokenize the way the dialect's server would: an
// unterminated literal or comment, a backslash whose meaning depends on
// server settings, an unrecognized dollar quote, or a MySQL executable
// comment. An empty dialect gets the strictest reading across dialects.
func mask(sql string, dialect database.Dialect) (string, bool) {
	out := []byte(sql)
	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == '\'':
			end, ok := scanQuoted(sql, i, '\'', literalEscape(sql, i, dialect))
			if !ok {
				return "", false
			}
			blank(out, i, end)
			i = end
		case c == '"' || c == '`':
			end, ok := scanQuoted(sql, i, c, identifierEscape(c, dialect))
			if !ok {
				return "", false
			}
			i = end
		case c == '$':
			end, ok := scanDollar(sql, i, dialect)
			if !ok {
				return "", false
			}
			blank(out, i, end)
			if end == i {
				end++
			}
			i = end
		case strings.HasPrefix(sql[i:], "--"):
			if !lineCommentAt(sql, i, dialect) {
				if dialect == "" {
					return "", false
				}
				i += 2
				continue
			}
			end := lineEnd(sql, i)
			blank(out, i, end)
			i = end
		case c == '#':
			switch dialect {
			case database.DialectMySQL:
				end := lineEnd(sql, i)
				blank(out, i, end)
				i = end
			case "":
				return "", false
			default:
				i++
			}
		case strings.HasPrefix(sql[i:], "/*"):
			end, ok := scanBlockComment(sql, i, dialect)
			if !ok {
				return "", false
			}
			blank(out, i, end)
			i = end
		default:
			i++
		}
	}
	return string(out), true
}

type escapeMode int

const (
	escapeNone escapeMode = iota
	escapeBackslash
	escapeReject
)

// literalEscape picks how backslashes behave inside the single-quoted
// literal opening at i. Postgres plain literals depend on
// standard_conforming_strings, so a backslash there is rejected.
func literalEscape(sql string, i int, dialect database.Dialect) escapeMode {
	prefixed := i > 0 && (sql[i-1] == 'E' || sql[i-1] == 'e') && (i < 2 || !isIdentByte(sql[i-2]))
	switch dialect {
	case database.DialectMySQL:
		return escapeBackslash
	case database.DialectDuckDB:
		if prefixed {
			return escapeBackslash
		}
		return escapeNone
	default:
		if prefixed {
			return escapeBackslash
		}
		return escapeReject
	}
}

// identifierEscape covers double quotes and backticks. MySQL double quotes
// are either literals with backslash escapes or identifiers under
// ANSI_QUOTES, so a backslash inside them is rejected.
func identifierEscape(quote byte, dialect database.Dialect) escapeMode {
	if quote == '"' && (dialect == database.DialectMySQL || dialect == "") {
		return escapeReject
	}
	return escapeNone
}

func scanQuoted(sql string, start int, quote byte, mode escapeMode) (int, bool) {
	for j := start + 1; j < len(sql); j++ {
		switch sql[j] {
		case '\\':
			switch mode {
			case escapeBackslash:
				j++
			case escapeReject:
				return 0, false
			}
		case quote:
			if j+1 < len(sql) && sql[j+1] == quote {
				j++
				continue
			}
			return j + 1, true
		}
	}
	return 0, false
}

// scanDollar returns the end of the dollar-quoted string opening at i, or
// i itself when the '$' belongs to an identifier or a positional parameter.
func scanDollar(sql string, i int, dialect database.Dialect) (int, bool) {
	if dialect == database.DialectMySQL || (i > 0 && isIdentByte(sql[i-1])) {
		return i, true
	}
	if i+1 < len(sql) && sql[i+1] >= '0' && sql[i+1] <= '9' {
		return i, true
	}
	tag := dollarTagPattern.FindString(sql[i:])
	if tag == "" {
		return 0, false
	}
	body := i + len(tag)
	closing := strings.Index(sql[body:], tag)
	if closing < 0 {
		return 0, false
	}
	return body + closing + len(tag), true
}

// lineCommentAt reports whether "--" at i opens a comment. MySQL needs
// whitespace or end of input after the dashes.
func lineCommentAt(sql string, i int, dialect database.Dialect) bool {
	if dialect != database.DialectMySQL && dialect != "" {
		return true
	}
	next := i + 2
	return next >= len(sql) || sql[next] <= ' '
}

func lineEnd(sql string, i int) int {
	end := strings.IndexByte(sql[i:], '\n')
	if end < 0 {
		return len(sql)
	}
	return end + i
}

// scanBlockComment returns the end of the comment opening at i. Postgres
// and DuckDB nest block comments; MySQL does not, and runs /*! ... */.
func scanBlockComment(sql string, i int, dialect database.Dialect) (int, bool) {
	nests := dialect == database.DialectPostgres || dialect == database.DialectDuckDB
	if dialect != database.DialectPostgres && dialect != database.DialectDuckDB {
		rest := sql[i+2:]
		if strings.HasPrefix(rest, "!") || strings.HasPrefix(rest, "M!") {
			return 0, false
		}
	}
	depth := 1
	for j := i + 2; j < len(sql)-1; j++ {
		switch {
		case sql[j] == '*' && sql[j+1] == '/':
			depth--
			j++
			if depth == 0 {
				return j + 1, true
			}
		case sql[j] == '/' && sql[j+1] == '*':
			if dialect == "" {
				return 0, false
			}
			if nests {
				depth++
				j++
			}
		}
	}
	return 0, false
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' || b >= 0x80 ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func blank(b []byte, from, to int) {
	for i := from; i < to; i++ {
		if b[i] != '\n' {
			b[i] = ' '
		}
	}
}
