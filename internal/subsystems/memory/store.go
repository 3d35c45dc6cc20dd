// Package memory persists keyed records for the coordinator: stage
// outputs, reports and anything else worth keeping across runs. Records
// are JSON files carrying their metadata in a "_loom" envelope.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrRecordNotFound reports a key with no stored record.
var ErrRecordNotFound = errors.New("memory: record not found")

// Record is one persisted memory entry.
type Record struct {
	Key         string         `json:"key"`
	Kind        string         `json:"kind"`
	WorkspaceID string         `json:"workspace,omitempty"`
	DocumentID  string         `json:"document,omitempty"`
	Stage       string         `json:"stage,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created"`
}

type envelope struct {
	Key         string `json:"key"`
	Kind        string `json:"kind"`
	WorkspaceID string `json:"workspace,omitempty"`
	DocumentID  string `json:"document,omitempty"`
	Stage       string `json:"stage,omitempty"`
	Created     string `json:"created"`
}

// Store reads and writes records under one directory with a read cache.
type Store struct {
	dir string
	now func() time.Time

	mu    sync.RWMutex
	cache map[string]Record
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for record timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithoutCache disables the read cache so every Get hits disk.
func WithoutCache() StoreOption {
	return func(s *Store) { s.cache = nil }
}

// NewStore builds a store rooted at dir.
func NewStore(dir string, opts ...StoreOption) *Store {
	s := &Store{
		dir:   dir,
		now:   time.Now,
		cache: make(map[string]Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save persists the record, stamping CreatedAt when unset.
func (s *Store) Save(rec Record) error {
	if strings.TrimSpace(rec.Key) == "" {
		return fmt.Errorf("memory: record key is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	payload := make(map[string]any, len(rec.Payload)+1)
	for k, v := range rec.Payload {
		payload[k] = v
	}
	payload["_loom"] = envelope{
		Key:         rec.Key,
		Kind:        rec.Kind,
		WorkspaceID: rec.WorkspaceID,
		DocumentID:  rec.DocumentID,
		Stage:       rec.Stage,
		Created:     rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: encode record %s: %w", rec.Key, err)
	}
	encoded = append(encoded, '\n')

	path := s.path(rec.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("memory: create store dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("memory: write record %s: %w", rec.Key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("memory: write record %s: %w", rec.Key, err)
	}

	s.mu.Lock()
	if s.cache != nil {
		s.cache[rec.Key] = rec
	}
	s.mu.Unlock()
	return nil
}

// Get returns the record for key, reading through the cache when one is
// enabled.
func (s *Store) Get(key string) (Record, error) {
	s.mu.RLock()
	rec, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return rec, nil
	}

	rec, err := s.read(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, key)
		}
		return Record{}, err
	}
	s.mu.Lock()
	if s.cache != nil {
		s.cache[rec.Key] = rec
	}
	s.mu.Unlock()
	return rec, nil
}

// List returns every stored record ordered by key.
func (s *Store) List() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: read store dir: %w", err)
	}
	out := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.read(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Count reports how many records are on disk.
func (s *Store) Count() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			n++
		}
	}
	return n
}

func (s *Store) read(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return Record{}, fmt.Errorf("memory: parse record %s: %w", filepath.Base(path), err)
	}
	raw, ok := payload["_loom"]
	if !ok {
		return Record{}, fmt.Errorf("memory: record %s missing _loom metadata", filepath.Base(path))
	}
	delete(payload, "_loom")

	metaBytes, err := json.Marshal(raw)
	if err != nil {
		return Record{}, fmt.Errorf("memory: reencode metadata for %s: %w", filepath.Base(path), err)
	}
	var meta envelope
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return Record{}, fmt.Errorf("memory: invalid _loom metadata in %s: %w", filepath.Base(path), err)
	}
	if meta.Key == "" {
		return Record{}, fmt.Errorf("memory: record %s has no key", filepath.Base(path))
	}
	created, err := time.Parse(time.RFC3339, meta.Created)
	if err != nil {
		return Record{}, fmt.Errorf("memory: record %s has invalid created timestamp: %w", filepath.Base(path), err)
	}

	rec := Record{
		Key:         meta.Key,
		Kind:        meta.Kind,
		WorkspaceID: meta.WorkspaceID,
		DocumentID:  meta.DocumentID,
		Stage:       meta.Stage,
		CreatedAt:   created,
	}
	if len(payload) > 0 {
		rec.Payload = payload
	}
	return rec, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key)+".json")
}

// sanitizeKey flattens a record key into a single file name.
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
