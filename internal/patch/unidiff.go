package patch

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// DiffResult is the outcome of applying a unified diff.
type DiffResult struct {
	Content    string            `json:"-"`
	Hunks      int               `json:"hunks"`
	Deleted    int               `json:"deleted"`
	Inserted   int               `json:"inserted"`
	Mismatches []MismatchWarning `json:"mismatches,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
}

type deletion struct {
	index int
	text  string
}

type insertion struct {
	index int
	seq   int
	text  string
}

// ApplyUnifiedDiff applies diffText to content. Deletions are matched
// against the old line numbers and applied from the bottom of the file up;
// insertions are placed at their new line numbers from the top down, so
// hunk order in the diff text does not matter. Deleted lines that do not
// match the file are still removed and reported as mismatches.
func ApplyUnifiedDiff(content, diffText string) (DiffResult, error) {
	var res DiffResult

	trailingNewline := strings.HasSuffix(content, "\n")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if content == "" {
		lines = nil
	}

	var (
		deletions  []deletion
		insertions []insertion
		oldCursor  int
		newCursor  int
		inHunk     bool
	)

	diffLines := strings.Split(diffText, "\n")
	for n, raw := range diffLines {
		dl := strings.TrimSuffix(raw, "\r")

		if strings.HasPrefix(dl, "@@") {
			m := hunkHeaderRe.FindStringSubmatch(dl)
			if m == nil {
				return DiffResult{}, &DiffParseError{Line: n + 1, Text: dl, Reason: "malformed hunk header"}
			}
			oldStart, oldLen := atoi(m[1]), countOrOne(m[2])
			newStart, newLen := atoi(m[3]), countOrOne(m[4])
			oldCursor = hunkCursor(oldStart, oldLen)
			newCursor = hunkCursor(newStart, newLen)
			inHunk = true
			res.Hunks++
			continue
		}

		if !inHunk {
			continue
		}
		if isFileHeader(diffLines, n) {
			inHunk = false
			continue
		}

		switch {
		case strings.HasPrefix(dl, `\`):
			// "\ No newline at end of file"
		case strings.HasPrefix(dl, "-"):
			text := dl[1:]
			actual, inRange := lineAt(lines, oldCursor)
			if !inRange || strings.TrimRight(actual, " \t") != strings.TrimRight(text, " \t") {
				res.Mismatches = append(res.Mismatches, MismatchWarning{Line: oldCursor + 1, Expected: text, Actual: actual})
			}
			deletions = append(deletions, deletion{index: oldCursor, text: text})
			oldCursor++
		case strings.HasPrefix(dl, "+"):
			insertions = append(insertions, insertion{index: newCursor, seq: len(insertions), text: dl[1:]})
			newCursor++
		case dl == "" && n == len(diffLines)-1:
			// final newline of the diff text
		case dl == "" || strings.HasPrefix(dl, " "):
			oldCursor++
			newCursor++
		default:
			inHunk = false
		}
	}

	if res.Hunks == 0 {
		return DiffResult{}, &DiffParseError{Reason: "no hunks found"}
	}

	sort.SliceStable(deletions, func(i, j int) bool { return deletions[i].index > deletions[j].index })
	last := -1
	for _, d := range deletions {
		if d.index == last {
			continue
		}
		last = d.index
		if d.index < 0 || d.index >= len(lines) {
			res.Warnings = append(res.Warnings, "deletion at line "+strconv.Itoa(d.index+1)+" is beyond the end of the file")
			continue
		}
		lines = append(lines[:d.index], lines[d.index+1:]...)
		res.Deleted++
	}

	sort.SliceStable(insertions, func(i, j int) bool {
		if insertions[i].index != insertions[j].index {
			return insertions[i].index < insertions[j].index
		}
		return insertions[i].seq < insertions[j].seq
	})
	for _, ins := range insertions {
		at := ins.index
		if at > len(lines) {
			res.Warnings = append(res.Warnings, "insertion at line "+strconv.Itoa(at+1)+" is beyond the end of the file; appended")
			at = len(lines)
		}
		if at < 0 {
			at = 0
		}
		lines = append(lines, "")
		copy(lines[at+1:], lines[at:])
		lines[at] = ins.text
		res.Inserted++
	}

	out := strings.Join(lines, "\n")
	if trailingNewline && len(lines) > 0 {
		out += "\n"
	}
	res.Content = out
	return res, nil
}

// hunkCursor converts a 1-based hunk start to a 0-based index. A zero
// length range names the line after which the change applies.
func hunkCursor(start, length int) int {
	if length == 0 {
		return start
	}
	return max(start-1, 0)
}

func countOrOne(s string) int {
	if s == "" {
		return 1
	}
	return atoi(s)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func lineAt(lines []string, i int) (string, bool) {
	if i < 0 || i >= len(lines) {
		return "", false
	}
	return lines[i], true
}

// isFileHeader reports whether diffLines[n] starts the header of another
// file in a multi-file diff.
func isFileHeader(diffLines []string, n int) bool {
	dl := diffLines[n]
	if strings.HasPrefix(dl, "diff ") || strings.HasPrefix(dl, "index ") {
		return true
	}
	return strings.HasPrefix(dl, "--- ") && n+1 < len(diffLines) && strings.HasPrefix(diffLines[n+1], "+++ ")
}
