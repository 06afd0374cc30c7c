// Package anchors inserts paired begin/end marker comments around
// functions, classes and HTML blocks so later patches can address a region
// by text instead of by line number.
package anchors

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sammcj/mcp-workspace/internal/lexer"
	"github.com/sammcj/mcp-workspace/internal/validate"
)

// Kind is the construct an anchor brackets.
type Kind string

const (
	KindFunction     Kind = "function"
	KindClass        Kind = "class"
	KindDiv          Kind = "div"
	KindForm         Kind = "form"
	KindInputElement Kind = "input_element"
)

// Mode selects the scanner.
type Mode string

const (
	ModeJS   Mode = "js"
	ModeHTML Mode = "html"
)

// ModeFor returns the mode for a validator language.
func ModeFor(lang validate.Language) (Mode, error) {
	switch lang {
	case validate.JS:
		return ModeJS, nil
	case validate.HTML:
		return ModeHTML, nil
	case validate.CSS, validate.JSON, validate.Other:
	}
	return "", fmt.Errorf("anchor generation is not supported for %s files", lang)
}

// Anchor is one generated marker pair. StartLine and EndLine are the
// 1-based lines of the region in the input; MarkerStartLine and
// MarkerEndLine are the 1-based lines of the markers in the output.
type Anchor struct {
	Kind            Kind   `json:"kind"`
	Name            string `json:"name"`
	StartMarker     string `json:"start_marker"`
	EndMarker       string `json:"end_marker"`
	StartLine       int    `json:"start_line"`
	EndLine         int    `json:"end_line"`
	MarkerStartLine int    `json:"marker_start_line"`
	MarkerEndLine   int    `json:"marker_end_line"`
}

// Result is the outcome of a generation run.
type Result struct {
	Content string   `json:"-"`
	Anchors []Anchor `json:"anchors"`
	Skipped []string `json:"skipped,omitempty"`
	Summary string   `json:"summary"`
	Preview bool     `json:"preview"`
}

// region is a candidate before insertion. start and end are zero-based
// line indices of the first and last line of the construct.
type region struct {
	kind       Kind
	name       string
	html       bool
	start, end int
}

// Generate inserts markers around every recognised region of content.
func Generate(content string, mode Mode) Result {
	lines := lexer.SplitLines(content)

	var regions []region
	var skipped []string
	switch mode {
	case ModeHTML:
		regions, skipped = htmlRegions(content, lines)
	default:
		regions, skipped = jsRegions(lines, 0, 0, len(lines))
	}

	anchors, regions, dupes := assignNames(content, regions)
	skipped = append(skipped, dupes...)

	out := insert(lines, anchors, regions)

	return Result{
		Content: strings.Join(out, "\n"),
		Anchors: anchors,
		Skipped: skipped,
		Summary: summarise(anchors, skipped, false),
	}
}

// Preview reports the anchors Generate would insert and returns content
// unchanged.
func Preview(content string, mode Mode) Result {
	res := Generate(content, mode)
	res.Content = content
	res.Preview = true
	res.Summary = summarise(res.Anchors, res.Skipped, true)
	return res
}

var (
	functionDeclRe = regexp.MustCompile(`^\s*(?:async\s+)?function(?:\s*\*\s*|\s+)([A-Za-z_$][\w$]*)\s*\(`)
	classDeclRe    = regexp.MustCompile(`^\s*class\s+([A-Za-z_$][\w$]*)`)
)

// jsRegions finds function and class declarations in lines[from:to]. The
// lines are scanned with strings and comments masked. Regions whose
// closing brace cannot be found are skipped. lineOffset is added to every
// reported line.
func jsRegions(lines []string, lineOffset, from, to int) ([]region, []string) {
	masked, _ := lexer.Mask(lines, lexer.JavaScript)

	var regions []region
	var skipped []string
	for i := from; i < to && i < len(masked); i++ {
		var kind Kind
		var ident string
		bodyLine, bodyCol := i, 0
		if m := functionDeclRe.FindStringSubmatchIndex(masked[i]); m != nil {
			kind, ident = KindFunction, masked[i][m[2]:m[3]]
			// The body brace follows the parameter list, which may hold its own braces.
			params, ok := lexer.FindClosingParen(lines, i, m[1]-1)
			if !ok || params.Line >= to {
				skipped = append(skipped, fmt.Sprintf("%s %s at line %d: parameter list not closed", kind, ident, i+lineOffset+1))
				continue
			}
			bodyLine, bodyCol = params.Line, params.Column+1
		} else if m := classDeclRe.FindStringSubmatch(masked[i]); m != nil {
			kind, ident = KindClass, m[1]
		} else {
			continue
		}

		end, ok := lexer.FindClosingBraceFrom(lines, bodyLine, bodyCol)
		if !ok || end >= to {
			skipped = append(skipped, fmt.Sprintf("%s %s at line %d: closing brace not found", kind, ident, i+lineOffset+1))
			continue
		}
		regions = append(regions, region{kind: kind, name: ident, start: i + lineOffset, end: end + lineOffset})
	}
	return regions, skipped
}

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9_$]+`)

func sanitise(name string, kind Kind) string {
	name = strings.Trim(unsafeNameRe.ReplaceAllString(name, "_"), "_")
	if name == "" {
		return string(kind)
	}
	return name
}

// markerCore is the part of a begin marker that identifies it regardless
// of comment syntax.
func markerCore(name string, html bool) string {
	if html {
		return ">>>BEGIN_" + name + "_block<<<"
	}
	return ">>>BEGIN_" + name + "<<<"
}

func markers(name string, html bool) (string, string) {
	if html {
		return "<!-- >>>BEGIN_" + name + "_block<<< -->", "<!-- >>>END_" + name + "_block<<< -->"
	}
	return "// >>>BEGIN_" + name + "<<<", "// >>>END_" + name + "<<<"
}

// assignNames assigns unique marker names in file order and drops regions whose
// begin marker is already present, so generation is idempotent.
func assignNames(content string, regions []region) ([]Anchor, []region, []string) {
	sort.SliceStable(regions, func(i, j int) bool { return regions[i].start < regions[j].start })

	used := map[string]int{}
	var anchors []Anchor
	var kept []region
	var skipped []string
	for _, r := range regions {
		base := sanitise(r.name, r.kind)
		key := markerCore(base, r.html)
		n := base
		if count := used[key]; count > 0 {
			n = fmt.Sprintf("%s_%d", base, count+1)
		}
		used[key]++

		begin, end := markers(n, r.html)
		if strings.Contains(content, markerCore(n, r.html)) {
			skipped = append(skipped, fmt.Sprintf("%s %s at line %d: already anchored", r.kind, n, r.start+1))
			continue
		}

		anchors = append(anchors, Anchor{
			Kind:        r.kind,
			Name:        n,
			StartMarker: begin,
			EndMarker:   end,
			StartLine:   r.start + 1,
			EndLine:     r.end + 1,
		})
		kept = append(kept, r)
	}
	return anchors, kept, skipped
}

// insertion is a marker line placed before line index at. anchor indexes
// the Anchor it belongs to.
type insertion struct {
	at     int
	begin  bool
	start  int
	end    int
	anchor int
	text   string
}

// insert splices the markers into lines and records where each marker
// landed. Markers are flattened into insertion points and applied from the
// bottom of the file up, so every point still to be applied keeps its
// original line index. Multiple markers before the same line are stacked so
// that closing markers come first (innermost first) followed by opening
// markers (outermost first).
func insert(lines []string, anchors []Anchor, regions []region) []string {
	points := make([]insertion, 0, 2*len(regions))
	for i, r := range regions {
		points = append(points,
			insertion{at: r.start, begin: true, start: r.start, end: r.end, anchor: i, text: indentOf(lines[r.start]) + anchors[i].StartMarker},
			insertion{at: r.end + 1, begin: false, start: r.start, end: r.end, anchor: i, text: indentOf(lines[r.end]) + anchors[i].EndMarker},
		)
	}

	sort.SliceStable(points, func(i, j int) bool {
		a, b := points[i], points[j]
		if a.at != b.at {
			return a.at > b.at
		}
		if a.begin != b.begin {
			return !a.begin
		}
		if a.begin {
			return a.end > b.end
		}
		return a.start > b.start
	})

	out := append([]string(nil), lines...)
	for i := 0; i < len(points); {
		j := i
		var block []string
		for j < len(points) && points[j].at == points[i].at {
			block = append(block, points[j].text)
			j++
		}
		at := points[i].at
		out = append(out[:at], append(block, out[at:]...)...)

		// Points after j sit above this block, so each shifts it down by one.
		above := len(points) - j
		for k := i; k < j; k++ {
			line := at + above + (k - i) + 1
			if points[k].begin {
				anchors[points[k].anchor].MarkerStartLine = line
			} else {
				anchors[points[k].anchor].MarkerEndLine = line
			}
		}
		i = j
	}
	return out
}

func indentOf(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

func summarise(anchors []Anchor, skipped []string, preview bool) string {
	counts := map[Kind]int{}
	for _, a := range anchors {
		counts[a.Kind]++
	}

	verb := "Inserted"
	if preview {
		verb = "Would insert"
	}
	var parts []string
	for _, k := range []Kind{KindFunction, KindClass, KindDiv, KindForm, KindInputElement} {
		if counts[k] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[k], k))
		}
	}
	s := fmt.Sprintf("%s %d anchor pairs", verb, len(anchors))
	if len(parts) > 0 {
		s += " (" + strings.Join(parts, ", ") + ")"
	}
	if len(skipped) > 0 {
		s += fmt.Sprintf("; skipped %d regions", len(skipped))
	}
	return s
}
