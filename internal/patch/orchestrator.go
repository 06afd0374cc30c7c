package patch

import (
	"github.com/sirupsen/logrus"

	"github.com/sammcj/mcp-workspace/internal/validate"
)

// DefaultMinAccuracy is the fuzzy accuracy, in percent, accepted when a
// request does not set one.
const DefaultMinAccuracy = 50.0

// Request selects the strategies to try. Anchors are tried first when both
// markers are set, then find/replace, then the unified diff.
type Request struct {
	FileName    string
	AnchorStart string
	AnchorEnd   string
	Find        string
	// Replace is required by the anchor and fuzzy strategies.
	Replace     *string
	UnifiedDiff string
	// MinAccuracy overrides the orchestrator's fuzzy acceptance threshold
	// when positive.
	MinAccuracy float64
}

// Outcome is the content to commit, or the untouched original when the
// report is not successful.
type Outcome struct {
	Content string
	Report  Report
}

// Orchestrator runs the strategy chain and the validation gate. It performs
// no I/O and holds no per-request state.
type Orchestrator struct {
	fuzzy       *FuzzyMatcher
	validator   *validate.Validator
	minAccuracy float64
	logger      *logrus.Logger
}

// NewOrchestrator wires the matcher and validator built at startup.
func NewOrchestrator(fuzzy *FuzzyMatcher, validator *validate.Validator, minAccuracy float64, logger *logrus.Logger) *Orchestrator {
	if minAccuracy <= 0 {
		minAccuracy = DefaultMinAccuracy
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	return &Orchestrator{fuzzy: fuzzy, validator: validator, minAccuracy: minAccuracy, logger: logger}
}

func checkRequest(req Request) (hasAnchor, hasFind, hasDiff bool, err error) {
	partial := (req.AnchorStart == "") != (req.AnchorEnd == "")
	hasAnchor = req.AnchorStart != "" && req.AnchorEnd != ""
	hasFind = req.Find != ""
	hasDiff = req.UnifiedDiff != ""

	switch {
	case !hasAnchor && !hasFind && !hasDiff && partial:
		return false, false, false, &UserInputError{Message: "no patch strategy specified: anchor_start and anchor_end must be supplied together"}
	case !hasAnchor && !hasFind && !hasDiff:
		return false, false, false, &UserInputError{Message: "no patch strategy specified: supply anchor_start and anchor_end, find, or unified_diff"}
	case req.Replace == nil && !hasDiff:
		return false, false, false, &UserInputError{Message: "replace is required unless a unified diff is supplied"}
	}
	return hasAnchor, hasFind, hasDiff, nil
}

// Apply runs the chain against content. A non-nil error is always a
// *UserInputError and means no strategy was tried. Every other failure is
// reported through Outcome.Report, with Outcome.Content equal to content.
func (o *Orchestrator) Apply(content string, lang validate.Language, req Request) (*Outcome, error) {
	hasAnchor, hasFind, hasDiff, err := checkRequest(req)
	if err != nil {
		return nil, err
	}

	r := Report{
		Method:      MethodNone,
		BytesBefore: len(content),
		BytesAfter:  len(content),
		Warnings:    []string{},
	}
	r.enter(StateIdle)

	log := o.logger.WithFields(logrus.Fields{"file": req.FileName, "language": lang.String()})

	if (req.AnchorStart == "") != (req.AnchorEnd == "") {
		r.warn("anchor_start and anchor_end must both be set; anchor strategy skipped")
	}

	var (
		patched  string
		applied  bool
		failures []error
	)

	if hasAnchor {
		r.enter(StateTryAnchor)
		if req.Replace == nil {
			r.warn("anchor strategy skipped: replace not supplied")
		} else if out, span, err := ApplyAnchor(content, req.AnchorStart, req.AnchorEnd, *req.Replace); err != nil {
			failures = append(failures, err)
			r.warn("anchor: %v", err)
		} else {
			patched, applied = out, true
			r.Method = MethodAnchor
			r.AnchorSpan = &span
		}
	}

	if !applied && hasFind {
		r.enter(StateTryFuzzy)
		minAccuracy := o.minAccuracy
		if req.MinAccuracy > 0 {
			minAccuracy = req.MinAccuracy
		}
		if req.Replace == nil {
			r.warn("fuzzy strategy skipped: replace not supplied")
		} else if res, err := o.fuzzy.Apply(content, req.Find, *req.Replace); err != nil {
			failures = append(failures, err)
			r.warn("fuzzy: %v", err)
		} else if res.Accuracy < minAccuracy {
			err := &FuzzyNoMatchError{Applied: res.Applied, Total: res.Total, Accuracy: res.Accuracy, MinAccuracy: minAccuracy}
			failures = append(failures, err)
			r.warn("fuzzy: %v", err)
		} else {
			patched, applied = res.Content, true
			r.Method = MethodFuzzy
			accuracy := res.Accuracy
			r.Accuracy = &accuracy
			if !res.Exact {
				r.warn("fuzzy: find text did not occur verbatim; applied %d of %d sub-patches", res.Applied, res.Total)
			}
		}
	}

	if !applied && hasDiff {
		r.enter(StateTryUnifiedDiff)
		res, err := ApplyUnifiedDiff(content, req.UnifiedDiff)
		if err != nil {
			failures = append(failures, err)
			r.warn("unified_diff: %v", err)
		} else {
			patched, applied = res.Content, true
			r.Method = MethodUnifiedDiff
			r.DiffMismatches = res.Mismatches
			for _, m := range res.Mismatches {
				log.WithField("line", m.Line).Warn(m.String())
				r.warn("%s", m.String())
			}
			for _, w := range res.Warnings {
				r.warn("unified_diff: %s", w)
			}
		}
	}

	if !applied {
		r.enter(StateRolledBack)
		r.Method = MethodNone
		if len(failures) == 0 {
			r.err = &UserInputError{Message: "no applicable patch strategy: replace not supplied"}
		} else {
			r.err = &StrategiesFailedError{Errors: failures}
		}
		r.Error = r.err.Error()
		log.WithError(r.err).Debug("Patch strategies exhausted")
		return &Outcome{Content: content, Report: r}, nil
	}

	r.enter(StateValidate)
	result := o.validator.Validate(lang, patched, content)
	r.Validation = &result
	r.SyntaxOK = result.IsValid
	r.Warnings = append(r.Warnings, result.Warnings...)

	if !result.IsValid {
		r.enter(StateRolledBack)
		r.err = result.Err(lang)
		r.Error = r.err.Error()
		r.warn("syntax validation failed after %s patch; changes rolled back", r.Method)
		log.WithField("method", r.Method).WithError(r.err).Info("Patch rolled back by validator")
		return &Outcome{Content: content, Report: r}, nil
	}

	if patched == content {
		r.warn("patch produced no change")
	}

	r.enter(StateCommit)
	r.Success = true
	r.BytesAfter = len(patched)
	r.ByteDelta = r.BytesAfter - r.BytesBefore
	log.WithFields(logrus.Fields{
		"method":       r.Method,
		"bytes_before": r.BytesBefore,
		"bytes_after":  r.BytesAfter,
	}).Debug("Patch applied")
	return &Outcome{Content: patched, Report: r}, nil
}
