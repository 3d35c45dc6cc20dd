package docindex

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kingrea/loom/internal/document"
)

// stopWords never count as shared vocabulary when linking documents.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {},
	"that": {}, "this": {}, "from": {}, "into": {},
}

const maxLinksPerEntry = 5

// codeExts are the source extensions indexed from code paths.
var codeExts = map[string]struct{}{
	".go": {}, ".py": {}, ".ts": {}, ".js": {}, ".rs": {}, ".java": {},
}

// scanPath walks root and indexes every markdown file found. It returns
// the number of files indexed.
func scanPath(ix *Index, root string, now func() time.Time) (int, error) {
	indexed := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		if err := indexFile(ix, path, now); err != nil {
			return err
		}
		indexed++
		return nil
	})
	if err != nil {
		return indexed, fmt.Errorf("docindex: scan %s: %w", root, err)
	}
	return indexed, nil
}

// scanCodePath walks root and indexes source files by name only. Code
// entries join the link graph so documents can point at the code that
// implements them.
func scanCodePath(ix *Index, root string, now func() time.Time) (int, error) {
	indexed := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := codeExts[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		base := filepath.Base(path)
		ix.Put(Entry{
			Path:  path,
			Title: strings.TrimSuffix(base, filepath.Ext(base)),
			Type:  "code",
		})
		indexed++
		return nil
	})
	if err != nil {
		return indexed, fmt.Errorf("docindex: scan code %s: %w", root, err)
	}
	return indexed, nil
}

// indexFile reads one markdown file and puts its entry in the index.
func indexFile(ix *Index, path string, now func() time.Time) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("docindex: read %s: %w", path, err)
	}
	doc := document.Describe("", path, data, now())
	ix.Put(Entry{
		Path:  path,
		Title: doc.Title,
		Type:  string(doc.Type),
		Tags:  doc.Tags,
	})
	return nil
}

// relink recomputes related-document links across the whole index. Two
// documents link when their titles share a significant word or they carry
// a common tag.
func relink(ix *Index) {
	entries := ix.Entries()
	vocab := make([]map[string]struct{}, len(entries))
	for i, e := range entries {
		vocab[i] = signature(e)
	}

	for i, e := range entries {
		var links []string
		for j, other := range entries {
			if i == j {
				continue
			}
			if shares(vocab[i], vocab[j]) {
				links = append(links, other.Path)
			}
		}
		sort.Strings(links)
		if len(links) > maxLinksPerEntry {
			links = links[:maxLinksPerEntry]
		}
		e.Links = links
		ix.Put(e)
	}
}

// signature collects an entry's significant title words and tags.
func signature(e Entry) map[string]struct{} {
	out := make(map[string]struct{})
	for _, word := range strings.FieldsFunc(strings.ToLower(e.Title), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		if len(word) < 4 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		out[word] = struct{}{}
	}
	for _, tag := range e.Tags {
		if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
			out["tag:"+tag] = struct{}{}
		}
	}
	return out
}

func shares(a, b map[string]struct{}) bool {
	for word := range a {
		if _, ok := b[word]; ok {
			return true
		}
	}
	return false
}
