package lexer

// FindClosingBrace returns the index of the line holding the brace that
// closes the first `{` found at or after startLine. Braces inside strings
// and comments are ignored. ok is false when the input runs out first, or
// when a `}` appears before any `{` and drives the depth negative.
func FindClosingBrace(lines []string, startLine int) (line int, ok bool) {
	return FindClosingBraceFrom(lines, startLine, 0)
}

// FindClosingBraceFrom is FindClosingBrace with the search for the opening
// `{` starting at column col of startLine. Characters before col are still
// scanned for string and comment state.
func FindClosingBraceFrom(lines []string, startLine, col int) (line int, ok bool) {
	pos, ok := findClosing(lines, startLine, col, '{', '}')
	return pos.Line, ok
}

// FindClosingParen returns the position of the `)` that closes the first
// `(` at or after column col of startLine, such as the end of a parameter
// list that contains default values or destructuring braces.
func FindClosingParen(lines []string, startLine, col int) (Position, bool) {
	return findClosing(lines, startLine, col, '(', ')')
}

func findClosing(lines []string, startLine, col int, open, close byte) (Position, bool) {
	if startLine < 0 || startLine >= len(lines) {
		return Position{}, false
	}

	s := New(JavaScript)
	depth, target := 0, -1
	var found Position
	done, broken := false, false

	for i := startLine; i < len(lines); i++ {
		s.ScanLine(i, lines[i], func(c int, ch byte) bool {
			if i == startLine && c < col {
				return true
			}
			switch ch {
			case open:
				depth++
				if target < 0 {
					target = depth
				}
			case close:
				depth--
				if target < 0 && depth < 0 {
					broken = true
					return false
				}
				if target >= 0 && depth == target-1 {
					found, done = Position{Line: i, Column: c}, true
					return false
				}
			}
			return true
		})
		if broken {
			return Position{}, false
		}
		if done {
			return found, true
		}
	}
	return Position{}, false
}
