package validate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/sammcj/mcp-workspace/internal/lexer"
)

// voidElements never take a closing tag.
var voidElements = map[string]bool{
	"br": true, "hr": true, "img": true, "input": true, "meta": true, "link": true,
	"area": true, "base": true, "col": true, "embed": true, "source": true, "track": true, "wbr": true,
}

type openTag struct {
	name string
	line int
	col  int
}

// advance moves a zero-based position past raw.
func advance(raw []byte, line, col int) (int, int) {
	if n := bytes.Count(raw, []byte{'\n'}); n > 0 {
		return line + n, len(raw) - bytes.LastIndexByte(raw, '\n') - 1
	}
	return line, col + len(raw)
}

func (v *Validator) checkHTML(content string) (*issue, []string) {
	z := html.NewTokenizer(strings.NewReader(content))

	var (
		stack      []openTag
		warnings   []string
		line, col  int
		divDepth   int
		warnedDeep bool
		embedded   string
	)

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return &issue{line: line, col: col, msg: fmt.Sprintf("html tokenizer error: %v", z.Err())}, warnings
		}

		tokLine, tokCol := line, col
		line, col = advance(z.Raw(), line, col)

		switch tt {
		case html.StartTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			switch tag {
			case "script":
				embedded = ""
				if !hasAttr || isJavaScriptType(z) {
					embedded = tag
				}
			case "style":
				embedded = tag
			}
			if voidElements[tag] {
				continue
			}
			stack = append(stack, openTag{name: tag, line: tokLine, col: tokCol})
			if tag == "div" {
				divDepth++
				if divDepth > v.opts.MaxDivDepth && !warnedDeep {
					warnedDeep = true
					warnings = append(warnings, fmt.Sprintf(
						"div nesting depth %d exceeds %d at line %d; deeply nested markup is hard to patch reliably",
						divDepth, v.opts.MaxDivDepth, tokLine+1))
				}
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			embedded = ""
			if voidElements[tag] {
				continue
			}
			if len(stack) == 0 {
				return &issue{
					line:        tokLine,
					col:         tokCol,
					msg:         fmt.Sprintf("unexpected closing tag </%s> at line %d with no open element", tag, tokLine+1),
					suggestions: []string{fmt.Sprintf("Remove </%s> or add the matching <%s>", tag, tag)},
				}, warnings
			}
			top := stack[len(stack)-1]
			if top.name != tag {
				return mismatchedTags(stack, tag, tokLine, tokCol), warnings
			}
			stack = stack[:len(stack)-1]
			if tag == "div" {
				divDepth--
			}

		case html.TextToken:
			if embedded == "" {
				continue
			}
			body := string(z.Raw())
			var iss *issue
			if embedded == "style" {
				iss = checkCSS(body, tokLine, tokCol)
			} else {
				iss = shift(checkCode(body, lexer.JavaScript, classifyJS, true), tokLine, tokCol)
			}
			if iss != nil {
				iss.msg = fmt.Sprintf("in <%s> block: %s", embedded, iss.msg)
				if iss.line >= 0 {
					iss.msg = fmt.Sprintf("%s (file line %d)", iss.msg, iss.line+1)
				}
				return iss, warnings
			}
			embedded = ""
		}
	}

	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return &issue{
			line:        top.line,
			col:         top.col,
			msg:         fmt.Sprintf("unclosed tag <%s> opened at line %d", top.name, top.line+1),
			suggestions: []string{fmt.Sprintf("Add </%s> after the element's content", top.name)},
		}, warnings
	}
	return nil, warnings
}

func mismatchedTags(stack []openTag, closing string, line, col int) *issue {
	top := stack[len(stack)-1]
	msg := fmt.Sprintf("mismatched tags: <%s> opened at line %d is closed by </%s> at line %d",
		top.name, top.line+1, closing, line+1)
	for i := len(stack) - 2; i >= 0; i-- {
		if stack[i].name == closing {
			msg += fmt.Sprintf("; <%s> was opened at line %d", closing, stack[i].line+1)
			break
		}
	}
	return &issue{
		line: line,
		col:  col,
		msg:  msg,
		suggestions: []string{
			fmt.Sprintf("Add </%s> before </%s> at line %d", top.name, closing, line+1),
			"Check that the patch did not remove a closing tag",
		},
	}
}

// isJavaScriptType reads the type attribute of the current <script> tag.
// Templates such as type="text/html" are not JavaScript.
func isJavaScriptType(z *html.Tokenizer) bool {
	for {
		key, val, more := z.TagAttr()
		if string(key) == "type" {
			t := strings.ToLower(strings.TrimSpace(string(val)))
			return t == "" || t == "module" || strings.Contains(t, "javascript")
		}
		if !more {
			return true
		}
	}
}
