package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindClosingBrace(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		startLine int
		wantLine  int
		wantOK    bool
	}{
		{
			name:     "simple function",
			source:   "function a() {\n  return 1;\n}",
			wantLine: 2,
			wantOK:   true,
		},
		{
			name:     "brace in double quoted string",
			source:   "function a() {\n  var s = \"{\";\n  return s;\n}\nfunction b() {}",
			wantLine: 3,
			wantOK:   true,
		},
		{
			name:     "closing brace in line comment",
			source:   "function a() {\n  // }\n  return 1;\n}",
			wantLine: 3,
			wantOK:   true,
		},
		{
			name:     "braces in block comment spanning lines",
			source:   "function a() {\n  /* }\n  } */\n  x();\n}",
			wantLine: 4,
			wantOK:   true,
		},
		{
			name:     "escaped quote keeps string open",
			source:   "function a() {\n  var s = 'it\\'s }';\n}",
			wantLine: 2,
			wantOK:   true,
		},
		{
			name:     "double backslash closes string",
			source:   "function a() {\n  var s = '\\\\';\n  if (x) {}\n}",
			wantLine: 3,
			wantOK:   true,
		},
		{
			name:     "template literal across lines",
			source:   "function a() {\n  var s = `\n  }\n  `;\n}",
			wantLine: 4,
			wantOK:   true,
		},
		{
			name:     "nested blocks",
			source:   "function a() {\n  if (x) {\n    y();\n  }\n}\n}",
			wantLine: 4,
			wantOK:   true,
		},
		{
			name:      "start at later function",
			source:    "function a() {\n}\nfunction b() {\n  {}\n}",
			startLine: 2,
			wantLine:  4,
			wantOK:    true,
		},
		{
			name:     "opening brace on following line",
			source:   "function a()\n{\n  x();\n}",
			wantLine: 3,
			wantOK:   true,
		},
		{
			name:   "unclosed",
			source: "function a() {\n  x();",
			wantOK: false,
		},
		{
			name:   "close before open",
			source: "}\nfunction a() {\n}",
			wantOK: false,
		},
		{
			name:      "start out of range",
			source:    "function a() {}",
			startLine: 5,
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, ok := FindClosingBrace(SplitLines(tt.source), tt.startLine)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantLine, line)
			}
		})
	}
}

func TestFindClosingParenAndBraceFrom(t *testing.T) {
	lines := SplitLines("function f({a, b} = {}, s = \")\") {\n  return a;\n}")

	pos, ok := FindClosingParen(lines, 0, 10)
	require.True(t, ok)
	assert.Equal(t, Position{Line: 0, Column: 31}, pos)
	assert.Equal(t, byte(')'), lines[0][pos.Column])

	// From column zero the parameter braces are taken for the body.
	line, ok := FindClosingBrace(lines, 0)
	require.True(t, ok)
	assert.Equal(t, 0, line)

	line, ok = FindClosingBraceFrom(lines, pos.Line, pos.Column+1)
	require.True(t, ok)
	assert.Equal(t, 2, line)

	_, ok = FindClosingParen(SplitLines("f(a,\n  b"), 0, 0)
	assert.False(t, ok)
	_, ok = FindClosingParen(lines, 5, 0)
	assert.False(t, ok)
}

func TestScannerUnterminatedStrings(t *testing.T) {
	s := New(JavaScript)
	lines := SplitLines("var a = \"open;\nvar b = 'ok';\nvar c = 'cont\\\nstill';")
	for i, line := range lines {
		s.ScanLine(i, line, nil)
	}

	require.Len(t, s.Unterminated(), 1)
	assert.Equal(t, Position{Line: 0, Column: 8}, s.Unterminated()[0])

	_, open := s.OpenString()
	assert.False(t, open)
}

func TestScannerOpenConstructs(t *testing.T) {
	t.Run("block comment", func(t *testing.T) {
		s := New(JavaScript)
		s.ScanLine(0, "x(); /* never closed", nil)
		pos, open := s.OpenComment()
		assert.True(t, open)
		assert.Equal(t, Position{Line: 0, Column: 5}, pos)
	})

	t.Run("template literal", func(t *testing.T) {
		s := New(JavaScript)
		s.ScanLine(3, "var t = `abc", nil)
		pos, open := s.OpenString()
		assert.True(t, open)
		assert.Equal(t, 3, pos.Line)
	})
}

func TestMask(t *testing.T) {
	masked, _ := Mask([]string{`call("a{b", 'c') // tail {`, `/* x */ y`}, JavaScript)

	assert.Equal(t, `call(     ,    )          `, masked[0])
	assert.Equal(t, `        y`, masked[1])
}

func TestCSSOptionsIgnoreLineComments(t *testing.T) {
	masked, _ := Mask([]string{`a { background: url(//x.png); }`}, CSS)
	assert.Equal(t, `a { background: url(//x.png); }`, masked[0])
}
