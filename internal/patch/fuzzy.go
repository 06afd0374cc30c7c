package patch

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// FuzzyOptions tunes the approximate matcher.
type FuzzyOptions struct {
	// MatchThreshold is the diff-match-patch match threshold: 0 demands an
	// exact match, 1 accepts anything.
	MatchThreshold float64
	// MatchDistance is how far, in characters, a match may sit from its
	// expected location.
	MatchDistance int
	// DeleteThreshold is how closely deleted text must match.
	DeleteThreshold float64
}

// DefaultFuzzyOptions returns the standard tolerances.
func DefaultFuzzyOptions() FuzzyOptions {
	return FuzzyOptions{
		MatchThreshold:  0.5,
		MatchDistance:   1000,
		DeleteThreshold: 0.5,
	}
}

// FuzzyResult is a successful fuzzy application.
type FuzzyResult struct {
	Content  string  `json:"-"`
	Applied  int     `json:"applied"`
	Total    int     `json:"total"`
	Accuracy float64 `json:"accuracy"`
	// Location is the byte offset where find was located, or -1.
	Location int `json:"location"`
	// Exact is true when find occurred verbatim.
	Exact bool `json:"exact"`
}

// FuzzyMatcher applies find/replace edits to content that may have drifted
// from what the caller expected. It is safe for concurrent use.
type FuzzyMatcher struct {
	opts FuzzyOptions
	dmp  *diffmatchpatch.DiffMatchPatch
}

// NewFuzzyMatcher builds a matcher. Zero fields in opts take their defaults.
func NewFuzzyMatcher(opts FuzzyOptions) *FuzzyMatcher {
	def := DefaultFuzzyOptions()
	if opts.MatchThreshold <= 0 {
		opts.MatchThreshold = def.MatchThreshold
	}
	if opts.MatchDistance <= 0 {
		opts.MatchDistance = def.MatchDistance
	}
	if opts.DeleteThreshold <= 0 {
		opts.DeleteThreshold = def.DeleteThreshold
	}

	dmp := diffmatchpatch.New()
	dmp.MatchThreshold = opts.MatchThreshold
	dmp.MatchDistance = opts.MatchDistance
	dmp.PatchDeleteThreshold = opts.DeleteThreshold

	return &FuzzyMatcher{opts: opts, dmp: dmp}
}

// Options returns the matcher's tolerances.
func (m *FuzzyMatcher) Options() FuzzyOptions {
	return m.opts
}

// Apply turns find into replace within content. The edit script is built
// from find and replace, anchored where find is located in content, and
// applied patch by patch. Accuracy is the share of sub-patches that
// applied. An error is returned only when nothing applied.
func (m *FuzzyMatcher) Apply(content, find, replace string) (FuzzyResult, error) {
	if find == "" {
		return FuzzyResult{}, &UserInputError{Message: "find text is empty"}
	}
	if find == replace {
		return FuzzyResult{}, &UserInputError{Message: "find and replace are identical"}
	}

	loc, exact := m.locate(content, find)
	res := FuzzyResult{Location: loc, Exact: exact}
	if loc < 0 {
		loc = 0
	}

	patches := m.dmp.PatchMake(find, replace)
	for i := range patches {
		patches[i].Start1 += loc
		patches[i].Start2 += loc
	}
	res.Total = len(patches)

	out, applied := m.dmp.PatchApply(patches, content)
	for _, ok := range applied {
		if ok {
			res.Applied++
		}
	}
	if res.Total > 0 {
		res.Accuracy = float64(res.Applied) / float64(res.Total) * 100
	}
	if res.Applied == 0 {
		return res, &FuzzyNoMatchError{Applied: 0, Total: res.Total}
	}

	res.Content = out
	return res, nil
}

// locate finds the byte offset of find in content. An exact occurrence wins;
// otherwise the line window of the same height that is most similar, once
// whitespace is normalised, is accepted if its similarity clears the match
// threshold.
func (m *FuzzyMatcher) locate(content, find string) (int, bool) {
	if idx := strings.Index(content, find); idx >= 0 {
		return idx, true
	}

	lines := strings.Split(content, "\n")
	height := strings.Count(strings.TrimSuffix(find, "\n"), "\n") + 1
	if height > len(lines) {
		return -1, false
	}

	want := normalizeWhitespace(find)
	offsets := make([]int, len(lines))
	for i, pos := 0, 0; i < len(lines); i++ {
		offsets[i] = pos
		pos += len(lines[i]) + 1
	}

	best, bestSim := -1, 0.0
	for i := 0; i+height <= len(lines); i++ {
		candidate := normalizeWhitespace(strings.Join(lines[i:i+height], "\n"))
		if s := m.similarity(candidate, want); s > bestSim {
			best, bestSim = i, s
		}
	}
	if best < 0 || bestSim < 1-m.opts.MatchThreshold {
		return -1, false
	}

	// skip the indentation the caller left out
	start := offsets[best]
	for start < len(content) && (content[start] == ' ' || content[start] == '\t') {
		start++
	}
	return start, false
}

// similarity is the Levenshtein ratio of a and b in [0, 1].
func (m *FuzzyMatcher) similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	distance := m.dmp.DiffLevenshtein(m.dmp.DiffMain(a, b, false))
	maxLen := max(len(a), len(b))
	return 1 - float64(distance)/float64(maxLen)
}

// normalizeWhitespace trims each line and collapses runs of spaces and tabs.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n")
}
