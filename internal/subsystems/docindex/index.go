// Package docindex maintains a searchable index over workspace
// documentation: titles, detected types, tags and related-document links.
package docindex

import (
	"sort"
	"sync"

	"github.com/sahilm/fuzzy"
)

// Entry is one indexed document.
type Entry struct {
	Path  string   `json:"path"`
	Title string   `json:"title"`
	Type  string   `json:"type"`
	Tags  []string `json:"tags,omitempty"`
	Links []string `json:"links,omitempty"`
}

// Match pairs an entry with its fuzzy match score.
type Match struct {
	Entry Entry
	Score int
}

// Index holds entries keyed by path. All methods are safe for concurrent
// use.
type Index struct {
	mu      sync.RWMutex
	entries []Entry
	byPath  map[string]int
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{byPath: make(map[string]int)}
}

// Put inserts or replaces the entry for its path.
func (ix *Index) Put(e Entry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if i, ok := ix.byPath[e.Path]; ok {
		ix.entries[i] = e
		return
	}
	ix.byPath[e.Path] = len(ix.entries)
	ix.entries = append(ix.entries, e)
}

// Get returns the entry for path.
func (ix *Index) Get(path string) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	i, ok := ix.byPath[path]
	if !ok {
		return Entry{}, false
	}
	return cloneEntry(ix.entries[i]), true
}

// Len reports how many documents are indexed.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Entries returns a copy of every entry ordered by path.
func (ix *Index) Entries() []Entry {
	ix.mu.RLock()
	out := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		out = append(out, cloneEntry(e))
	}
	ix.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// LinkCount totals related-document links across the index.
func (ix *Index) LinkCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, e := range ix.entries {
		n += len(e.Links)
	}
	return n
}

// Search fuzzy-matches query against titles and paths, best scores first.
func (ix *Index) Search(query string, limit int) []Match {
	if query == "" {
		return nil
	}
	ix.mu.RLock()
	snapshot := make([]Entry, len(ix.entries))
	copy(snapshot, ix.entries)
	ix.mu.RUnlock()

	results := fuzzy.FindFrom(query, entrySource(snapshot))
	if limit <= 0 || limit > len(results) {
		limit = len(results)
	}
	out := make([]Match, 0, limit)
	for _, m := range results[:limit] {
		out = append(out, Match{Entry: cloneEntry(snapshot[m.Index]), Score: m.Score})
	}
	return out
}

type entrySource []Entry

func (s entrySource) String(i int) string { return s[i].Title + " " + s[i].Path }
func (s entrySource) Len() int            { return len(s) }

func cloneEntry(e Entry) Entry {
	out := e
	if e.Tags != nil {
		out.Tags = append([]string(nil), e.Tags...)
	}
	if e.Links != nil {
		out.Links = append([]string(nil), e.Links...)
	}
	return out
}
