package dump

import (
	"regexp"
	"strings"
)

// Statement is one executable unit of a SQL script.
type Statement struct {
	SQL string
	// Line is the 1-based line on which the statement's first character appears.
	Line int
	// NonCritical marks dump-tool artifacts (SET, LOCK TABLES, UNLOCK TABLES)
	// that the importer skips.
	NonCritical bool
}

var nonCriticalPattern = regexp.MustCompile(`(?i)^(SET\s|LOCK\s+TABLES|UNLOCK\s+TABLES)`)

// IsNonCritical reports whether stmt is a SET, LOCK TABLES or UNLOCK TABLES statement.
func IsNonCritical(stmt string) bool {
	return nonCriticalPattern.MatchString(strings.TrimSpace(stmt))
}

// Tokenizer splits SQL text into statements on semicolons that are outside
// quoted strings and comments. Use it like bufio.Scanner:
//
//	tok := NewTokenizer(script)
//	for tok.Scan() {
//		stmt := tok.Statement()
//	}
//
// A quote is treated as escaped when the previous character is a backslash.
// An unterminated string absorbs the rest of the input into one statement.
type Tokenizer struct {
	src  string
	pos  int
	line int

	buf       strings.Builder
	startLine int

	inString bool
	quote    byte

	current Statement
}

// NewTokenizer returns a Tokenizer reading from script.
func NewTokenizer(script string) *Tokenizer {
	return &Tokenizer{src: script, line: 1}
}

// Scan advances to the next statement. It returns false at end of input.
func (t *Tokenizer) Scan() bool {
	for t.pos < len(t.src) {
		c := t.src[t.pos]

		if t.inString {
			t.write(c)
			if c == t.quote && !t.escaped() {
				t.inString = false
			}
			t.advance()
			continue
		}

		switch {
		case c == '\'' || c == '"':
			t.inString = true
			t.quote = c
			t.write(c)
			t.advance()

		case c == '#' || (c == '-' && t.peek(1) == '-'):
			t.skipLineComment()

		case c == '/' && t.peek(1) == '*':
			t.skipBlockComment()

		case c == ';':
			t.advance()
			if t.emit() {
				return true
			}

		default:
			t.write(c)
			t.advance()
		}
	}

	return t.emit()
}

// Statement returns the statement produced by the last successful Scan.
func (t *Tokenizer) Statement() Statement {
	return t.current
}

// Line returns the current line of the scan position.
func (t *Tokenizer) Line() int {
	return t.line
}

// InString reports whether the scan ended inside an unterminated quoted string.
func (t *Tokenizer) InString() bool {
	return t.inString
}

func (t *Tokenizer) write(c byte) {
	if t.buf.Len() == 0 {
		if isSpace(c) {
			return
		}
		t.startLine = t.line
	}
	t.buf.WriteByte(c)
}

func (t *Tokenizer) advance() {
	if t.src[t.pos] == '\n' {
		t.line++
	}
	t.pos++
}

func (t *Tokenizer) peek(offset int) byte {
	if t.pos+offset < len(t.src) {
		return t.src[t.pos+offset]
	}
	return 0
}

func (t *Tokenizer) escaped() bool {
	return t.pos > 0 && t.src[t.pos-1] == '\\'
}

// skipLineComment consumes through the next newline. The newline is kept in the
// buffer so tokens on either side of the comment stay separated.
func (t *Tokenizer) skipLineComment() {
	for t.pos < len(t.src) && t.src[t.pos] != '\n' {
		t.pos++
	}
	if t.pos < len(t.src) {
		t.write('\n')
		t.advance()
	}
}

// skipBlockComment consumes through the matching */ and is replaced by a single space.
func (t *Tokenizer) skipBlockComment() {
	t.pos += 2
	for t.pos < len(t.src) {
		if t.src[t.pos] == '*' && t.peek(1) == '/' {
			t.pos += 2
			t.write(' ')
			return
		}
		t.advance()
	}
}

func (t *Tokenizer) emit() bool {
	sql := strings.TrimSpace(t.buf.String())
	t.buf.Reset()
	if sql == "" {
		return false
	}

	t.current = Statement{
		SQL:         sql,
		Line:        t.startLine,
		NonCritical: IsNonCritical(sql),
	}
	return true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// Split tokenizes script and returns every statement, including non-critical ones.
func Split(script string) []Statement {
	var statements []Statement
	tok := NewTokenizer(script)
	for tok.Scan() {
		statements = append(statements, tok.Statement())
	}
	return statements
}

// Executable returns the statements of script that the importer would run.
func Executable(script string) []Statement {
	var statements []Statement
	for _, stmt := range Split(script) {
		if !stmt.NonCritical {
			statements = append(statements, stmt)
		}
	}
	return statements
}
