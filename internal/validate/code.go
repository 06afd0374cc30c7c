package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sammcj/mcp-workspace/internal/lexer"
)

type bracketKind int

const (
	callParen bracketKind = iota
	controlParen
	groupParen
	objectBrace
	blockBrace
	arrayBracket
	ruleBrace
	cssParen
	attrBracket
)

var bracketNames = map[bracketKind]string{
	callParen:    "function call parenthesis",
	controlParen: "control-flow parenthesis",
	groupParen:   "grouping parenthesis",
	objectBrace:  "object literal brace",
	blockBrace:   "block brace",
	arrayBracket: "array bracket",
	ruleBrace:    "rule block brace",
	cssParen:     "parenthesis",
	attrBracket:  "attribute selector bracket",
}

var closerFor = map[byte]byte{'(': ')', '[': ']', '{': '}'}

var closerNames = map[byte]string{
	')': "closing parenthesis ')'",
	']': "closing bracket ']'",
	'}': "closing brace '}'",
}

type opener struct {
	kind bracketKind
	ch   byte
	line int
	col  int
}

func (o opener) describe() string {
	return fmt.Sprintf("%s '%c' opened at line %d, column %d", bracketNames[o.kind], o.ch, o.line+1, o.col+1)
}

// tokenContext is the code immediately before a bracket.
type tokenContext struct {
	prevChar byte
	prevWord string
}

type classifier func(ch byte, ctx tokenContext) bracketKind

var controlKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true, "with": true,
}

// objectPrecursors are the characters after which `{` starts an object
// literal rather than a block.
const objectPrecursors = "=(,:[?&|!"

func classifyJS(ch byte, ctx tokenContext) bracketKind {
	switch ch {
	case '(':
		if ctx.prevWord != "" {
			if controlKeywords[ctx.prevWord] {
				return controlParen
			}
			return callParen
		}
		if ctx.prevChar == ')' || ctx.prevChar == ']' {
			return callParen
		}
		return groupParen
	case '[':
		return arrayBracket
	default:
		if ctx.prevWord == "return" {
			return objectBrace
		}
		if ctx.prevWord == "" && ctx.prevChar != 0 && strings.IndexByte(objectPrecursors, ctx.prevChar) >= 0 {
			return objectBrace
		}
		return blockBrace
	}
}

func classifyCSS(ch byte, _ tokenContext) bracketKind {
	switch ch {
	case '(':
		return cssParen
	case '[':
		return attrBracket
	default:
		return ruleBrace
	}
}

var (
	anonymousFunctionRe = regexp.MustCompile(`^\s*function\s*\(`)
	emptyConditionRe    = regexp.MustCompile(`\b(if|for|while)\s*\(\s*\)`)
)

func isIdent(ch byte) bool {
	return ch == '_' || ch == '$' ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

func checkJavaScript(content string) *issue {
	return checkCode(content, lexer.JavaScript, classifyJS, true)
}

func checkCSS(content string, lineOffset, colOffset int) *issue {
	return shift(checkCode(content, lexer.CSS, classifyCSS, false), lineOffset, colOffset)
}

// shift moves an issue found in an embedded block to file coordinates.
// colOffset applies to the block's first line only.
func shift(iss *issue, lineOffset, colOffset int) *issue {
	if iss == nil || iss.line < 0 {
		return iss
	}
	if iss.line == 0 && iss.col >= 0 {
		iss.col += colOffset
	}
	iss.line += lineOffset
	return iss
}

// checkCode runs the string, bracket and pattern checks in that order of
// precedence.
func checkCode(content string, opts lexer.Options, classify classifier, patterns bool) *issue {
	lines := lexer.SplitLines(content)
	masked, sc := lexer.Mask(lines, opts)

	if un := sc.Unterminated(); len(un) > 0 {
		p := un[0]
		return &issue{
			line: p.Line,
			col:  p.Column,
			msg:  fmt.Sprintf("unterminated string literal starting at line %d, column %d", p.Line+1, p.Column+1),
			suggestions: []string{
				"Close the string with its opening quote",
				"Escape quotes inside the string with a backslash",
			},
		}
	}
	if p, open := sc.OpenString(); open {
		return &issue{
			line:        p.Line,
			col:         p.Column,
			msg:         fmt.Sprintf("unterminated template literal starting at line %d, column %d", p.Line+1, p.Column+1),
			suggestions: []string{"Close the template literal with a backtick"},
		}
	}
	if p, open := sc.OpenComment(); open {
		return &issue{
			line:        p.Line,
			col:         p.Column,
			msg:         fmt.Sprintf("unterminated block comment starting at line %d, column %d", p.Line+1, p.Column+1),
			suggestions: []string{"Close the comment with */"},
		}
	}

	var (
		stack     []opener
		ctx       tokenContext
		wordBreak bool
		pattern   *issue
	)

	for li, line := range masked {
		if patterns && pattern == nil {
			pattern = checkPatterns(li, line, ctx)
		}

		for col := 0; col < len(line); col++ {
			ch := line[col]
			if ch == ' ' || ch == '\t' || ch == '\r' {
				wordBreak = true
				continue
			}

			switch ch {
			case '(', '[', '{':
				stack = append(stack, opener{kind: classify(ch, ctx), ch: ch, line: li, col: col})
			case ')', ']', '}':
				if len(stack) == 0 {
					return &issue{
						line: li,
						col:  col,
						msg:  fmt.Sprintf("unexpected %s at line %d, column %d with no matching opener", closerNames[ch], li+1, col+1),
						suggestions: []string{
							fmt.Sprintf("Remove the extra %s or add its opener", closerNames[ch]),
						},
					}
				}
				top := stack[len(stack)-1]
				if closerFor[top.ch] != ch {
					return &issue{
						line: li,
						col:  col,
						msg: fmt.Sprintf("mismatched brackets: %s at line %d, column %d does not close the %s",
							closerNames[ch], li+1, col+1, top.describe()),
						suggestions: []string{
							fmt.Sprintf("Add '%c' before line %d, column %d", closerFor[top.ch], li+1, col+1),
						},
					}
				}
				stack = stack[:len(stack)-1]
			}

			if isIdent(ch) {
				if wordBreak || !isIdent(ctx.prevChar) {
					ctx.prevWord = ""
				}
				ctx.prevWord += string(ch)
			} else {
				ctx.prevWord = ""
			}
			ctx.prevChar = ch
			wordBreak = false
		}
		wordBreak = true
	}

	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return &issue{
			line: top.line,
			col:  top.col,
			msg:  "unclosed " + top.describe(),
			suggestions: []string{
				fmt.Sprintf("Add a matching '%c' for the %s", closerFor[top.ch], bracketNames[top.kind]),
				"Check the edited region for a deleted closing token",
			},
		}
	}
	return pattern
}

// checkPatterns looks for constructs that parse as brackets but are not
// valid JavaScript. ctx is the code state before the line.
func checkPatterns(li int, line string, ctx tokenContext) *issue {
	if loc := anonymousFunctionRe.FindStringIndex(line); loc != nil {
		expression := ctx.prevWord == "return" ||
			(ctx.prevWord == "" && ctx.prevChar != 0 && strings.IndexByte(objectPrecursors, ctx.prevChar) >= 0)
		if !expression {
			col := strings.Index(line, "function")
			return &issue{
				line:        li,
				col:         col,
				msg:         fmt.Sprintf("function declaration without a name at line %d", li+1),
				suggestions: []string{"Give the function a name, or assign the function expression to a variable"},
			}
		}
	}
	if loc := emptyConditionRe.FindStringSubmatchIndex(line); loc != nil {
		keyword := line[loc[2]:loc[3]]
		return &issue{
			line:        li,
			col:         loc[0],
			msg:         fmt.Sprintf("empty %s() condition at line %d", keyword, li+1),
			suggestions: []string{fmt.Sprintf("Add a condition inside %s( )", keyword)},
		}
	}
	return nil
}
