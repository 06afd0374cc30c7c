// Package source holds the Apps Script project file model shared by the
// patch engine, the validator and the remote store.
package source

import (
	"fmt"
	"path"
	"strings"

	"github.com/sahilm/fuzzy"
)

// FileType is the Apps Script API file type.
type FileType string

const (
	ServerJS FileType = "SERVER_JS"
	HTML     FileType = "HTML"
	JSON     FileType = "JSON"
)

// File is one file of an Apps Script project. Content is never mutated in
// place; edits produce a new File.
type File struct {
	Name    string   `json:"name"`
	Type    FileType `json:"type"`
	Content string   `json:"content"`
}

// WithContent returns a copy of f carrying content.
func (f File) WithContent(content string) File {
	f.Content = content
	return f
}

// Extension returns the conventional editor extension for the file.
func (f File) Extension() string {
	if ext := path.Ext(f.Name); ext != "" {
		return strings.ToLower(ext)
	}
	switch f.Type {
	case ServerJS:
		return ".gs"
	case HTML:
		return ".html"
	case JSON:
		return ".json"
	}
	return ""
}

// DisplayName is the name with its conventional extension.
func (f File) DisplayName() string {
	if path.Ext(f.Name) != "" {
		return f.Name
	}
	return f.Name + f.Extension()
}

// FileNotFoundError is returned when a file name cannot be resolved.
type FileNotFoundError struct {
	Name        string
	Suggestions []string
}

func (e *FileNotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("file %q not found in project", e.Name)
	}
	return fmt.Sprintf("file %q not found in project (did you mean: %s?)", e.Name, strings.Join(e.Suggestions, ", "))
}

var typeForExtension = map[string]FileType{
	".gs":   ServerJS,
	".js":   ServerJS,
	".html": HTML,
	".htm":  HTML,
	".json": JSON,
}

// Resolve returns the index of the file called name. The API stores names
// without extensions, so "Code.gs" resolves to a SERVER_JS file named "Code".
func Resolve(files []File, name string) (int, error) {
	for i, f := range files {
		if f.Name == name {
			return i, nil
		}
	}

	ext := strings.ToLower(path.Ext(name))
	if want, ok := typeForExtension[ext]; ok {
		base := strings.TrimSuffix(name, path.Ext(name))
		for i, f := range files {
			if f.Name == base && f.Type == want {
				return i, nil
			}
		}
	}

	return -1, &FileNotFoundError{Name: name, Suggestions: suggest(files, name)}
}

const maxSuggestions = 3

func suggest(files []File, name string) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.DisplayName()
	}

	pattern := strings.TrimSuffix(name, path.Ext(name))
	var out []string
	for _, m := range fuzzy.Find(pattern, names) {
		out = append(out, m.Str)
		if len(out) == maxSuggestions {
			return out
		}
	}
	if len(out) == 0 && len(names) <= maxSuggestions {
		return names
	}
	return out
}
