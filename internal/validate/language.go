package validate

import (
	"path"
	"strings"

	"github.com/sammcj/mcp-workspace/internal/source"
)

// Language selects the checks applied to a file.
type Language int

const (
	Other Language = iota
	JS
	HTML
	CSS
	JSON
)

func (l Language) String() string {
	switch l {
	case JS:
		return "javascript"
	case HTML:
		return "html"
	case CSS:
		return "css"
	case JSON:
		return "json"
	case Other:
		return "other"
	}
	return "unknown"
}

// LanguageForExtension maps a file extension, with or without the dot.
func LanguageForExtension(ext string) Language {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch ext {
	case "gs", "js", "mjs", "cjs":
		return JS
	case "html", "htm":
		return HTML
	case "css":
		return CSS
	case "json":
		return JSON
	}
	return Other
}

// LanguageForFile uses the name's extension when it has one, and the Apps
// Script file type otherwise.
func LanguageForFile(name string, fileType source.FileType) Language {
	if ext := path.Ext(name); ext != "" {
		if lang := LanguageForExtension(ext); lang != Other {
			return lang
		}
	}
	switch fileType {
	case source.ServerJS:
		return JS
	case source.HTML:
		return HTML
	case source.JSON:
		return JSON
	}
	return Other
}
