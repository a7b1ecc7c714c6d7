package learning

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"go.uber.org/zap"
)

// minClassTokens is the fewest \d / [A-Z] / [a-z] tokens a template needs to
// be kept.
const minClassTokens = 3

// Store owns the learned template map and its JSON file:
//
//	{ "<ENTITY_TYPE>": ["<template>", ...] }
type Store struct {
	path   string
	logger *zap.Logger

	mu       sync.Mutex
	patterns map[string][]string
}

// Open loads the store at path. A missing file yields an empty store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{
		path:     path,
		logger:   logger,
		patterns: make(map[string][]string),
	}
	loaded, err := s.Load()
	if err != nil {
		return nil, err
	}
	s.patterns = loaded
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted map from disk without touching the in-memory
// state.
func (s *Store) Load() (map[string][]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string][]string), nil
		}
		return nil, fmt.Errorf("%w: reading learned patterns: %v", anonymizer.ErrPersistence, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return make(map[string][]string), nil
	}

	patterns := make(map[string][]string)
	if err := json.Unmarshal(data, &patterns); err != nil {
		return nil, fmt.Errorf("parsing learned patterns %s: %w", s.path, err)
	}
	return patterns, nil
}

// Snapshot returns a copy of the current map for detection layers.
func (s *Store) Snapshot() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]string, len(s.patterns))
	for k, v := range s.patterns {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Count returns the total number of learned templates.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, v := range s.patterns {
		n += len(v)
	}
	return n
}

// Remember derives a template for each validated entity, appends new ones
// under the entity's type, and persists immediately. It returns the number
// of templates added. On a write failure the in-memory map keeps the new
// templates and the error wraps ErrPersistence.
func (s *Store) Remember(entities []anonymizer.Entity) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, e := range entities {
		tmpl, ok := DeriveTemplate(e.Text)
		if !ok {
			s.logger.Debug("Template too generic, skipping",
				zap.String("entity_type", string(e.Type)),
				zap.Int("length", len(e.Text)),
			)
			continue
		}
		key := string(e.Type)
		if contains(s.patterns[key], tmpl) {
			continue
		}
		s.patterns[key] = append(s.patterns[key], tmpl)
		added++
	}

	if added == 0 {
		return 0, nil
	}
	if err := s.writeLocked(); err != nil {
		return added, err
	}

	s.logger.Info("Learned new patterns",
		zap.Int("added", added),
		zap.Int("entity_types", len(s.patterns)),
	)
	return added, nil
}

// Flush writes the current map to disk.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked()
}

// writeLocked replaces the file through a temp file and rename.
func (s *Store) writeLocked() error {
	data, err := json.MarshalIndent(s.patterns, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding learned patterns: %v", anonymizer.ErrPersistence, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", anonymizer.ErrPersistence, err)
	}
	tmp, err := os.CreateTemp(dir, ".learned-*.json")
	if err != nil {
		return fmt.Errorf("%w: %v", anonymizer.ErrPersistence, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing learned patterns: %v", anonymizer.ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: syncing learned patterns: %v", anonymizer.ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", anonymizer.ErrPersistence, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("%w: replacing learned patterns: %v", anonymizer.ErrPersistence, err)
	}
	return nil
}

// DeriveTemplate generalizes text character by character: digits become \d,
// ASCII letters [A-Z] or [a-z], and everything else is quoted literally. It
// reports false when the template has fewer than three class tokens.
func DeriveTemplate(text string) (string, bool) {
	var b strings.Builder
	classes := 0
	for _, ch := range text {
		switch {
		case ch >= '0' && ch <= '9':
			b.WriteString(`\d`)
			classes++
		case ch >= 'A' && ch <= 'Z':
			b.WriteString(`[A-Z]`)
			classes++
		case ch >= 'a' && ch <= 'z':
			b.WriteString(`[a-z]`)
			classes++
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	if classes < minClassTokens {
		return "", false
	}
	return b.String(), true
}

// Types returns the learned entity types in sorted order.
func (s *Store) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	types := make([]string, 0, len(s.patterns))
	for k := range s.patterns {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
