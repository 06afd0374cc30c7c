// Package lexer provides a string and comment aware scanner for JavaScript
// (Apps Script) and CSS source. It does not recognise regular expression
// literals, so a quote or brace inside a regex is treated as code.
package lexer

import "strings"

// Options selects the syntax the scanner recognises.
type Options struct {
	// LineComments enables `//` comments.
	LineComments bool
	// TemplateLiterals treats backticks as string delimiters that may span lines.
	TemplateLiterals bool
}

var (
	// JavaScript covers Apps Script .gs files and <script> blocks.
	JavaScript = Options{LineComments: true, TemplateLiterals: true}
	// CSS has block comments only.
	CSS = Options{}
)

// Position is a zero-based line and column.
type Position struct {
	Line   int
	Column int
}

// Scanner carries string and comment state from one line to the next.
// Line comments end with their line; block comments and template literals
// persist. A single or double quoted string that reaches the end of a line
// without a continuation backslash is recorded as unterminated and closed.
type Scanner struct {
	opts           Options
	stringDelim    byte
	stringStart    Position
	inBlockComment bool
	blockStart     Position
	unterminated   []Position
}

// New returns a scanner in its initial state.
func New(opts Options) *Scanner {
	return &Scanner{opts: opts}
}

// ScanLine feeds one line, without its newline, to the scanner. visit is
// called for every character outside strings and comments; returning false
// stops the scan and ScanLine reports false.
func (s *Scanner) ScanLine(lineIdx int, line string, visit func(col int, ch byte) bool) bool {
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case s.inBlockComment:
			if ch == '*' && i+1 < len(line) && line[i+1] == '/' {
				s.inBlockComment = false
				i++
			}
		case s.stringDelim != 0:
			if ch == s.stringDelim && !escaped(line, i) {
				s.stringDelim = 0
			}
		case ch == '"' || ch == '\'' || (ch == '`' && s.opts.TemplateLiterals):
			s.stringDelim = ch
			s.stringStart = Position{Line: lineIdx, Column: i}
		case ch == '/' && i+1 < len(line) && line[i+1] == '/' && s.opts.LineComments:
			// rest of the line is a comment
			i = len(line)
		case ch == '/' && i+1 < len(line) && line[i+1] == '*':
			s.inBlockComment = true
			s.blockStart = Position{Line: lineIdx, Column: i}
			i++
		default:
			if visit != nil && !visit(i, ch) {
				return false
			}
		}
	}

	if (s.stringDelim == '"' || s.stringDelim == '\'') && !escaped(line, len(line)) {
		s.unterminated = append(s.unterminated, s.stringStart)
		s.stringDelim = 0
	}
	return true
}

// Unterminated returns the start of every quoted string that ran past the
// end of its line.
func (s *Scanner) Unterminated() []Position {
	return s.unterminated
}

// OpenString reports a string (in practice a template literal) that is
// still open.
func (s *Scanner) OpenString() (Position, bool) {
	return s.stringStart, s.stringDelim != 0
}

// OpenComment reports a block comment that is still open.
func (s *Scanner) OpenComment() (Position, bool) {
	return s.blockStart, s.inBlockComment
}

// escaped reports whether the character at i is preceded by an odd number
// of backslashes.
func escaped(line string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && line[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

// Mask returns lines with every string and comment character replaced by a
// space, so column positions are preserved. The scanner used is returned
// for inspection of unterminated constructs.
func Mask(lines []string, opts Options) ([]string, *Scanner) {
	s := New(opts)
	masked := make([]string, len(lines))
	for i, line := range lines {
		buf := []byte(strings.Repeat(" ", len(line)))
		s.ScanLine(i, line, func(col int, ch byte) bool {
			buf[col] = ch
			return true
		})
		masked[i] = string(buf)
	}
	return masked, s
}

// SplitLines splits text on "\n" without dropping a trailing empty line.
func SplitLines(text string) []string {
	return strings.Split(text, "\n")
}
