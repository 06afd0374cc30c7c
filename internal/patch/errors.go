package patch

import (
	"errors"
	"fmt"
	"strings"
)

// UserInputError reports a malformed or incomplete patch request. No
// strategy is attempted.
type UserInputError struct {
	Message string
}

func (e *UserInputError) Error() string {
	return e.Message
}

// AnchorFailure names the way an anchor lookup failed.
type AnchorFailure string

const (
	StartNotFound  AnchorFailure = "start_not_found"
	EndNotFound    AnchorFailure = "end_not_found"
	EndBeforeStart AnchorFailure = "end_before_start"
)

// AnchorNotFoundError is returned when a marker is missing or the markers
// are out of order.
type AnchorNotFoundError struct {
	Reason AnchorFailure
	Start  string
	End    string
}

func (e *AnchorNotFoundError) Error() string {
	switch e.Reason {
	case StartNotFound:
		return fmt.Sprintf("anchor start marker %q not found", e.Start)
	case EndBeforeStart:
		return fmt.Sprintf("anchor end marker %q only appears before start marker %q", e.End, e.Start)
	default:
		return fmt.Sprintf("anchor end marker %q not found after start marker %q", e.End, e.Start)
	}
}

// Marker returns the marker text that could not be matched.
func (e *AnchorNotFoundError) Marker() string {
	if e.Reason == StartNotFound {
		return e.Start
	}
	return e.End
}

// FuzzyNoMatchError is returned when no sub-patch applied, or when the
// share that applied is below the accepted accuracy.
type FuzzyNoMatchError struct {
	Applied     int
	Total       int
	Accuracy    float64
	MinAccuracy float64
}

func (e *FuzzyNoMatchError) Error() string {
	if e.Applied == 0 {
		return fmt.Sprintf("fuzzy match failed: none of %d sub-patches applied", e.Total)
	}
	return fmt.Sprintf("fuzzy match accuracy %.1f%% (%d of %d sub-patches) is below the minimum %.1f%%",
		e.Accuracy, e.Applied, e.Total, e.MinAccuracy)
}

// DiffParseError is returned for unified diff text that cannot be parsed.
type DiffParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *DiffParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid unified diff at line %d (%q): %s", e.Line, e.Text, e.Reason)
	}
	return "invalid unified diff: " + e.Reason
}

// MismatchWarning records a deleted line whose expected text differs from
// the file. The line is still deleted.
type MismatchWarning struct {
	Line     int    `json:"line"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (w MismatchWarning) String() string {
	return fmt.Sprintf("unified diff deletion at line %d expected %q but found %q", w.Line, w.Expected, w.Actual)
}

// StrategiesFailedError collects the failure of every attempted strategy.
type StrategiesFailedError struct {
	Errors []error
}

func (e *StrategiesFailedError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return "all patch methods failed: " + strings.Join(msgs, "; ")
}

func (e *StrategiesFailedError) Unwrap() []error {
	return e.Errors
}

// IsUserInput reports whether err is a request problem the caller must fix.
func IsUserInput(err error) bool {
	var ue *UserInputError
	return errors.As(err, &ue)
}
