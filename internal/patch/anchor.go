package patch

import (
	"strings"
)

// Span is a byte range of the original content.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ApplyAnchor replaces the text between the first anchorStart and the first
// anchorEnd that follows it. Both markers are kept. When the markers sit on
// their own lines the replacement is placed on the lines between them and
// takes the indentation of the start marker's line. The returned span is
// the range of content that was replaced.
func ApplyAnchor(content, anchorStart, anchorEnd, replacement string) (string, Span, error) {
	startIdx := strings.Index(content, anchorStart)
	if startIdx < 0 {
		return content, Span{}, &AnchorNotFoundError{Reason: StartNotFound, Start: anchorStart, End: anchorEnd}
	}
	bodyStart := startIdx + len(anchorStart)

	rel := strings.Index(content[bodyStart:], anchorEnd)
	if rel < 0 {
		reason := EndNotFound
		if strings.Contains(content[:bodyStart], anchorEnd) {
			reason = EndBeforeStart
		}
		return content, Span{}, &AnchorNotFoundError{Reason: reason, Start: anchorStart, End: anchorEnd}
	}
	endIdx := bodyStart + rel
	span := Span{Start: bodyStart, End: endIdx}

	before, body, after := content[:bodyStart], content[bodyStart:endIdx], content[endIdx:]

	// markers on one line: splice in place
	if !strings.Contains(body, "\n") {
		return before + replacement + after, span, nil
	}

	indent := lineIndent(content, startIdx)
	endLine := content[strings.LastIndexByte(content[:endIdx], '\n')+1 : endIdx]
	endIndent := endLine[:len(endLine)-len(strings.TrimLeft(endLine, " \t"))]

	var b strings.Builder
	b.Grow(len(content) + len(replacement))
	b.WriteString(before)
	b.WriteByte('\n')
	b.WriteString(indentBlock(strings.TrimSuffix(replacement, "\n"), indent))
	b.WriteByte('\n')
	b.WriteString(endIndent)
	b.WriteString(after)
	return b.String(), span, nil
}

// lineIndent returns the leading spaces and tabs of the line holding pos.
func lineIndent(content string, pos int) string {
	lineStart := strings.LastIndexByte(content[:pos], '\n') + 1
	i := lineStart
	for i < len(content) && (content[i] == ' ' || content[i] == '\t') {
		i++
	}
	return content[lineStart:i]
}

// indentBlock prefixes every non-blank line with indent.
func indentBlock(text, indent string) string {
	if indent == "" {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
