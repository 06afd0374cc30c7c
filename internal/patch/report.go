package patch

import (
	"fmt"
	"strings"

	"github.com/sammcj/mcp-workspace/internal/validate"
)

// Method is the strategy that produced the committed content.
type Method string

const (
	MethodAnchor      Method = "anchor"
	MethodFuzzy       Method = "fuzzy"
	MethodUnifiedDiff Method = "unified_diff"
	MethodNone        Method = "none"
)

// State is a step of the orchestrator state machine.
type State string

const (
	StateIdle           State = "idle"
	StateTryAnchor      State = "try_anchor"
	StateTryFuzzy       State = "try_fuzzy"
	StateTryUnifiedDiff State = "try_unified_diff"
	StateValidate       State = "validate"
	StateCommit         State = "commit"
	StateRolledBack     State = "rolled_back"
)

// Report describes one patch attempt. It is immutable once returned.
type Report struct {
	Method         Method            `json:"method_used"`
	BytesBefore    int               `json:"bytes_before"`
	BytesAfter     int               `json:"bytes_after"`
	ByteDelta      int               `json:"byte_delta"`
	SyntaxOK       bool              `json:"syntax_ok"`
	Success        bool              `json:"success"`
	Warnings       []string          `json:"warnings"`
	Accuracy       *float64          `json:"accuracy,omitempty"`
	AnchorSpan     *Span             `json:"anchor_span,omitempty"`
	DiffMismatches []MismatchWarning `json:"diff_mismatches,omitempty"`
	Validation     *validate.Result  `json:"validation,omitempty"`
	States         []State           `json:"states"`
	Error          string            `json:"error,omitempty"`

	err error
}

// FinalState is the last state the orchestrator entered.
func (r *Report) FinalState() State {
	if len(r.States) == 0 {
		return StateIdle
	}
	return r.States[len(r.States)-1]
}

// Err returns the typed cause of a failed patch, or nil.
func (r *Report) Err() error {
	return r.err
}

// Summary renders the report for a human or model reader.
func (r *Report) Summary() string {
	var b strings.Builder
	if r.Success {
		fmt.Fprintf(&b, "Patch applied using %s: %d -> %d bytes (%+d), syntax ok", r.Method, r.BytesBefore, r.BytesAfter, r.ByteDelta)
		if r.Accuracy != nil {
			fmt.Fprintf(&b, ", fuzzy accuracy %.1f%%", *r.Accuracy)
		}
	} else {
		fmt.Fprintf(&b, "Patch not applied, content unchanged: %s", r.Error)
	}
	for _, w := range r.Warnings {
		b.WriteString("\n- warning: ")
		b.WriteString(w)
	}
	return b.String()
}

func (r *Report) enter(s State) {
	r.States = append(r.States, s)
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}
