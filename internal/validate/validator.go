// Package validate checks patched content before it is committed.
//
// Every check is pure: validating the same input twice yields the same
// Result. Line and column numbers in results are 1-based.
package validate

import (
	"fmt"
)

// Result is the outcome of one validation.
type Result struct {
	IsValid     bool     `json:"is_valid"`
	Error       string   `json:"error,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Line        int      `json:"line,omitempty"`
	Column      int      `json:"column,omitempty"`
}

// SyntaxError wraps a failed Result.
type SyntaxError struct {
	Language Language
	Result   Result
}

func (e *SyntaxError) Error() string {
	if e.Result.Line > 0 {
		return fmt.Sprintf("%s validation failed at line %d: %s", e.Language, e.Result.Line, e.Result.Error)
	}
	return fmt.Sprintf("%s validation failed: %s", e.Language, e.Result.Error)
}

// Err returns nil for a valid result and a *SyntaxError otherwise.
func (r Result) Err(lang Language) error {
	if r.IsValid {
		return nil
	}
	return &SyntaxError{Language: lang, Result: r}
}

// Options holds the tunable thresholds.
type Options struct {
	// MaxShrinkRatio is the largest fraction of the original length a
	// change may remove. It only limits shrinking; growth is bounded by
	// MaxGrowthFactor alone.
	MaxShrinkRatio float64
	// MaxGrowthFactor is the largest multiple of the original length the
	// new content may reach.
	MaxGrowthFactor float64
	// MaxDivDepth is the nesting depth above which a warning is raised.
	MaxDivDepth int
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		MaxShrinkRatio:  0.5,
		MaxGrowthFactor: 10,
		MaxDivDepth:     12,
	}
}

// Validator runs the per-language checks.
type Validator struct {
	opts Options
}

// New creates a Validator. Zero fields in opts take their defaults.
func New(opts Options) *Validator {
	def := DefaultOptions()
	if opts.MaxShrinkRatio <= 0 {
		opts.MaxShrinkRatio = def.MaxShrinkRatio
	}
	if opts.MaxGrowthFactor <= 0 {
		opts.MaxGrowthFactor = def.MaxGrowthFactor
	}
	if opts.MaxDivDepth <= 0 {
		opts.MaxDivDepth = def.MaxDivDepth
	}
	return &Validator{opts: opts}
}

// Validate checks content as lang. original is the pre-change content used
// by the size check; pass "" to skip it.
func (v *Validator) Validate(lang Language, content, original string) Result {
	var iss *issue
	var warnings []string

	switch lang {
	case JS:
		iss = checkJavaScript(content)
		if iss == nil {
			iss = v.checkSize(content, original)
		}
	case HTML:
		iss, warnings = v.checkHTML(content)
		if iss == nil {
			iss = v.checkSize(content, original)
		}
	case CSS:
		iss = checkCSS(content, 0, 0)
		if iss == nil {
			iss = v.checkSize(content, original)
		}
	case JSON:
		iss = checkJSON(content)
	case Other:
	}

	if iss == nil {
		return Result{IsValid: true, Warnings: warnings}
	}
	return iss.result(warnings)
}

// issue is an internal finding with zero-based coordinates and column -1
// when the column is unknown.
type issue struct {
	line        int
	col         int
	msg         string
	suggestions []string
}

func (i *issue) result(warnings []string) Result {
	r := Result{
		IsValid:     false,
		Error:       i.msg,
		Suggestions: i.suggestions,
		Warnings:    warnings,
	}
	if i.line >= 0 {
		r.Line = i.line + 1
	}
	if i.col >= 0 {
		r.Column = i.col + 1
	}
	return r
}

func (v *Validator) checkSize(content, original string) *issue {
	if original == "" {
		return nil
	}
	before, after := float64(len(original)), float64(len(content))

	if after < before*(1-v.opts.MaxShrinkRatio) {
		return &issue{
			line: -1,
			col:  -1,
			msg: fmt.Sprintf("content shrank from %d to %d bytes, more than %.0f%% of the original",
				len(original), len(content), v.opts.MaxShrinkRatio*100),
			suggestions: []string{
				"Check that the patch did not truncate the file",
				"Use anchors to replace only the intended region",
			},
		}
	}
	if after > before*v.opts.MaxGrowthFactor {
		return &issue{
			line: -1,
			col:  -1,
			msg: fmt.Sprintf("content grew from %d to %d bytes, more than %.0fx the original",
				len(original), len(content), v.opts.MaxGrowthFactor),
			suggestions: []string{
				"Check that the patch did not duplicate the file contents",
			},
		}
	}
	return nil
}
