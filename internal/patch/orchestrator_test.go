package patch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammcj/mcp-workspace/internal/validate"
)

func newOrchestrator() *Orchestrator {
	return NewOrchestrator(
		NewFuzzyMatcher(DefaultFuzzyOptions()),
		validate.New(validate.DefaultOptions()),
		DefaultMinAccuracy,
		nil,
	)
}

func strPtr(s string) *string { return &s }

const anchoredFile = "// >>>BEGIN_f<<<\nold\n// >>>END_f<<<"

func TestOrchestratorAnchorSuccess(t *testing.T) {
	out, err := newOrchestrator().Apply(anchoredFile, validate.JS, Request{
		FileName:    "Code.gs",
		AnchorStart: "// >>>BEGIN_f<<<",
		AnchorEnd:   "// >>>END_f<<<",
		Replace:     strPtr("new"),
	})
	require.NoError(t, err)

	assert.Contains(t, out.Content, "// >>>BEGIN_f<<<\nnew\n// >>>END_f<<<")
	r := out.Report
	assert.True(t, r.Success)
	assert.True(t, r.SyntaxOK)
	assert.Equal(t, MethodAnchor, r.Method)
	assert.Equal(t, len(anchoredFile), r.BytesBefore)
	assert.Equal(t, len(out.Content), r.BytesAfter)
	assert.Equal(t, []State{StateIdle, StateTryAnchor, StateValidate, StateCommit}, r.States)
	assert.NoError(t, r.Err())
}

func TestOrchestratorAnchorNotFound(t *testing.T) {
	out, err := newOrchestrator().Apply(anchoredFile, validate.JS, Request{
		AnchorStart: "// >>>BEGIN_g<<<",
		AnchorEnd:   "// >>>END_f<<<",
		Replace:     strPtr("new"),
	})
	require.NoError(t, err)

	assert.Equal(t, anchoredFile, out.Content)
	assert.False(t, out.Report.Success)
	assert.Equal(t, MethodNone, out.Report.Method)
	assert.Equal(t, StateRolledBack, out.Report.FinalState())
	assert.Contains(t, out.Report.Error, "all patch methods failed")
	assert.Contains(t, out.Report.Error, "// >>>BEGIN_g<<<")

	var anf *AnchorNotFoundError
	require.ErrorAs(t, out.Report.Err(), &anf)
	assert.Equal(t, StartNotFound, anf.Reason)
}

func TestOrchestratorFallsBackToFuzzy(t *testing.T) {
	content := "function a() {\n  return 1;\n}\n"
	out, err := newOrchestrator().Apply(content, validate.JS, Request{
		AnchorStart: "// >>>BEGIN_a<<<",
		AnchorEnd:   "// >>>END_a<<<",
		Find:        "return 1;",
		Replace:     strPtr("return 2;"),
	})
	require.NoError(t, err)

	assert.True(t, out.Report.Success)
	assert.Equal(t, MethodFuzzy, out.Report.Method)
	assert.Equal(t, "function a() {\n  return 2;\n}\n", out.Content)
	require.NotNil(t, out.Report.Accuracy)
	assert.Equal(t, 100.0, *out.Report.Accuracy)
	assert.Equal(t, []State{StateIdle, StateTryAnchor, StateTryFuzzy, StateValidate, StateCommit}, out.Report.States)
	assert.NotEmpty(t, out.Report.Warnings)
}

func TestOrchestratorFallsBackToUnifiedDiff(t *testing.T) {
	content := "function a() {\n  return 1;\n}\n"
	out, err := newOrchestrator().Apply(content, validate.JS, Request{
		Find:        "zzqqxxjjkkvvww",
		Replace:     strPtr("x"),
		UnifiedDiff: "@@ -2 +2 @@\n-  return one;\n+  return 2;\n",
	})
	require.NoError(t, err)

	assert.True(t, out.Report.Success)
	assert.Equal(t, MethodUnifiedDiff, out.Report.Method)
	assert.Equal(t, "function a() {\n  return 2;\n}\n", out.Content)
	require.Len(t, out.Report.DiffMismatches, 1)
	assert.Equal(t, 2, out.Report.DiffMismatches[0].Line)
}

func TestOrchestratorSyntaxGatedRollback(t *testing.T) {
	content := "function a() {\n  return 1;\n}\n"
	out, err := newOrchestrator().Apply(content, validate.JS, Request{
		Find:    "return 1;",
		Replace: strPtr("return {;"),
	})
	require.NoError(t, err)

	assert.Equal(t, content, out.Content)
	assert.False(t, out.Report.Success)
	assert.False(t, out.Report.SyntaxOK)
	assert.Equal(t, MethodFuzzy, out.Report.Method)
	assert.Equal(t, out.Report.BytesBefore, out.Report.BytesAfter)
	assert.Equal(t, StateRolledBack, out.Report.FinalState())

	var se *validate.SyntaxError
	require.ErrorAs(t, out.Report.Err(), &se)
}

func TestOrchestratorSizeSanityRejection(t *testing.T) {
	content := "function a() {\n  return 1;\n}\n" + strings.Repeat("// padding line\n", 4)
	require.Less(t, len(content), 200)

	huge := "return 1;\n" + strings.Repeat("  // generated filler comment line\n", 60)
	out, err := newOrchestrator().Apply(content, validate.JS, Request{
		Find:    "return 1;",
		Replace: strPtr(huge),
	})
	require.NoError(t, err)

	assert.False(t, out.Report.Success)
	assert.Equal(t, content, out.Content)
	require.NotNil(t, out.Report.Validation)
	assert.Contains(t, out.Report.Validation.Error, "grew")
}

func TestOrchestratorRollbackProperty(t *testing.T) {
	content := "<div>\n  <span>hi</span>\n</div>\n"
	requests := []Request{
		{Find: "<span>hi</span>", Replace: strPtr("<span>hi")},
		{Find: "</div>", Replace: strPtr("</form>")},
		{UnifiedDiff: "@@ -3 +3 @@\n-</div>\n+</p>\n"},
	}
	for _, req := range requests {
		out, err := newOrchestrator().Apply(content, validate.HTML, req)
		require.NoError(t, err)
		assert.False(t, out.Report.SyntaxOK)
		assert.False(t, out.Report.Success)
		assert.Equal(t, content, out.Content)
	}
}

func TestOrchestratorMinAccuracy(t *testing.T) {
	content := "function a() {\n  return 1;\n}\n"
	out, err := newOrchestrator().Apply(content, validate.JS, Request{
		Find:        "return 1;",
		Replace:     strPtr("return 2;"),
		MinAccuracy: 100.5,
	})
	require.NoError(t, err)

	assert.False(t, out.Report.Success)
	var nm *FuzzyNoMatchError
	require.ErrorAs(t, out.Report.Err(), &nm)
	assert.Equal(t, 100.5, nm.MinAccuracy)
}

func TestOrchestratorUserInputErrors(t *testing.T) {
	o := newOrchestrator()

	tests := []struct {
		name string
		req  Request
		msg  string
	}{
		{"nothing supplied", Request{Replace: strPtr("x")}, "no patch strategy specified"},
		{"half an anchor pair", Request{AnchorStart: "// a", Replace: strPtr("x")}, "must be supplied together"},
		{"replace missing", Request{Find: "a"}, "replace is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := o.Apply("a", validate.JS, tt.req)
			assert.Nil(t, out)
			require.Error(t, err)
			assert.True(t, IsUserInput(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestOrchestratorPartialAnchorWarns(t *testing.T) {
	out, err := newOrchestrator().Apply("var a = 1;\n", validate.JS, Request{
		AnchorStart: "// >>>BEGIN_a<<<",
		Find:        "var a = 1;",
		Replace:     strPtr("var a = 2;"),
	})
	require.NoError(t, err)
	assert.True(t, out.Report.Success)
	assert.Contains(t, out.Report.Warnings[0], "must both be set")
	assert.NotContains(t, out.Report.States, StateTryAnchor)
}

func TestReportSummary(t *testing.T) {
	out, err := newOrchestrator().Apply(anchoredFile, validate.JS, Request{
		AnchorStart: "// >>>BEGIN_f<<<",
		AnchorEnd:   "// >>>END_f<<<",
		Replace:     strPtr("new"),
	})
	require.NoError(t, err)
	assert.Contains(t, out.Report.Summary(), "Patch applied using anchor")
}
