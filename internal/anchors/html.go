package anchors

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/sammcj/mcp-workspace/internal/lexer"
)

var htmlKinds = map[string]Kind{
	"div":      KindDiv,
	"form":     KindForm,
	"input":    KindInputElement,
	"button":   KindInputElement,
	"select":   KindInputElement,
	"textarea": KindInputElement,
}

var voidTags = map[string]bool{
	"br": true, "hr": true, "img": true, "input": true, "meta": true, "link": true,
	"area": true, "base": true, "col": true, "embed": true, "source": true, "track": true, "wbr": true,
}

type openElement struct {
	tag       string
	name      string
	line, col int
	ownLine   bool
}

// htmlRegions tokenises content and returns a region for each tracked
// element whose start tag begins its line and whose end tag ends its line,
// plus the functions declared in <script> blocks.
func htmlRegions(content string, lines []string) ([]region, []string) {
	z := html.NewTokenizer(strings.NewReader(content))

	var (
		regions   []region
		skipped   []string
		stack     []openElement
		line, col int
		inScript  bool
		positions = map[string]int{}
	)

	startsLine := func(l, c int) bool {
		return l < len(lines) && c <= len(lines[l]) && strings.TrimSpace(lines[l][:c]) == ""
	}
	endsLine := func(l, c int) bool {
		return l < len(lines) && c <= len(lines[l]) && strings.TrimSpace(lines[l][c:]) == ""
	}

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}

		raw := z.Raw()
		tokLine, tokCol := line, col
		if n := bytes.Count(raw, []byte{'\n'}); n > 0 {
			line += n
			col = len(raw) - bytes.LastIndexByte(raw, '\n') - 1
		} else {
			col += len(raw)
		}

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			tagName, hasAttr := z.TagName()
			tag := string(tagName)
			if tag == "script" && tt == html.StartTagToken {
				inScript = true
			}
			kind, tracked := htmlKinds[tag]
			var elemName string
			if tracked {
				elemName = elementName(z, hasAttr)
				if elemName == "" {
					positions[tag]++
					elemName = fmt.Sprintf("%s_%d", tag, positions[tag])
				}
			}

			if voidTags[tag] || tt == html.SelfClosingTagToken {
				if tracked {
					if startsLine(tokLine, tokCol) && endsLine(line, col) {
						regions = append(regions, region{kind: kind, name: elemName, html: true, start: tokLine, end: line})
					} else {
						skipped = append(skipped, fmt.Sprintf("%s %s at line %d: shares its line with other markup", kind, elemName, tokLine+1))
					}
				}
				continue
			}
			stack = append(stack, openElement{tag: tag, name: elemName, line: tokLine, col: tokCol, ownLine: startsLine(tokLine, tokCol)})

		case html.EndTagToken:
			tagName, _ := z.TagName()
			tag := string(tagName)
			if tag == "script" {
				inScript = false
			}
			idx := -1
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].tag == tag {
					idx = i
					break
				}
			}
			if idx < 0 {
				continue
			}
			el := stack[idx]
			stack = stack[:idx]

			kind, tracked := htmlKinds[tag]
			if !tracked {
				continue
			}
			if el.ownLine && endsLine(line, col) {
				regions = append(regions, region{kind: kind, name: el.name, html: true, start: el.line, end: line})
			} else {
				skipped = append(skipped, fmt.Sprintf("%s %s at line %d: shares its line with other markup", kind, el.name, el.line+1))
			}

		case html.TextToken:
			if !inScript {
				continue
			}
			body := lexer.SplitLines(string(raw))
			// the first body line follows <script> and the last precedes
			// </script>, so only whole lines in between can take markers
			found, notes := jsRegions(body, tokLine, 1, len(body)-1)
			regions = append(regions, found...)
			skipped = append(skipped, notes...)
		}
	}
	return regions, skipped
}

// elementName returns the id of the current tag, or its first class.
func elementName(z *html.Tokenizer, hasAttr bool) string {
	var id, class string
	for hasAttr {
		key, val, more := z.TagAttr()
		switch string(key) {
		case "id":
			id = strings.TrimSpace(string(val))
		case "class":
			if fields := strings.Fields(string(val)); len(fields) > 0 {
				class = fields[0]
			}
		}
		hasAttr = more
	}
	if id != "" {
		return id
	}
	return class
}
