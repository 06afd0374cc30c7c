package validate

import (
	"encoding/json"
	"errors"
	"fmt"
)

func checkJSON(content string) *issue {
	var v any
	err := json.Unmarshal([]byte(content), &v)
	if err == nil {
		return nil
	}

	var se *json.SyntaxError
	if errors.As(err, &se) {
		line, col := offsetPosition(content, int(se.Offset)-1)
		return &issue{
			line:        line,
			col:         col,
			msg:         fmt.Sprintf("invalid JSON at line %d, column %d: %v", line+1, col+1, err),
			suggestions: []string{"Check for trailing commas, unquoted keys and missing closing brackets"},
		}
	}
	return &issue{line: -1, col: -1, msg: fmt.Sprintf("invalid JSON: %v", err)}
}

// offsetPosition converts a byte offset to a zero-based line and column.
func offsetPosition(content string, offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(content) {
		offset = len(content)
	}
	line, col := 0, 0
	for i := 0; i < offset; i++ {
		if content[i] == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}
	return line, col
}
