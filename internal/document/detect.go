package document

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"
)

// DetectType classifies content by its headings and body shape. Unmatched
// documents default to TypeFeature.
func DetectType(path string, content []byte) Type {
	title := strings.ToLower(TitleOf(path, content))
	switch {
	case strings.Contains(title, "vision"):
		return TypeVision
	case hasWord(title, "adr"), strings.Contains(title, "architecture decision"):
		return TypeADR
	case hasWord(title, "prd"), strings.Contains(title, "product requirements"):
		return TypePRD
	case strings.Contains(title, "epic"):
		return TypeEpic
	case strings.Contains(title, "spec"):
		return TypeSpec
	case strings.Contains(title, "task"), strings.Contains(title, "todo"), hasTaskList(content):
		return TypeTask
	default:
		return TypeFeature
	}
}

// hasWord matches word at word boundaries, so "ADR-007" is an ADR but
// "quadrant" is not.
func hasWord(title, word string) bool {
	for _, field := range strings.FieldsFunc(title, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		if field == word {
			return true
		}
	}
	return false
}

// TitleOf returns the document's leading markdown heading, falling back to
// the file name without its extension.
func TitleOf(path string, content []byte) string {
	if heading := leadingHeading(content); heading != "" {
		return heading
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// leadingHeading returns the heading only when it is the first non-empty
// line; body text before a heading means the document has no title heading.
func leadingHeading(content []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "# "))
		}
		return ""
	}
	return ""
}

// hasTaskList reports whether the body contains markdown checkboxes.
func hasTaskList(content []byte) bool {
	return bytes.Contains(content, []byte("- [ ]")) || bytes.Contains(content, []byte("- [x]"))
}
