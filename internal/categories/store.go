// Package categories owns the crime taxonomy: a name to description map kept
// in a JSON file and shared by every classifier in the process.
package categories

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"police_call_analytics/internal/logging"
)

// Other is the fallback category. It always exists and cannot be removed.
const Other = "Other"

var defaultCategories = map[string]string{
	"Robbery":     "Illegal taking of property through force or threat",
	"Assault":     "Physical attack or violent contact",
	"Cybercrime":  "Computer/internet-based illegal activities",
	"Burglary":    "Unauthorized entry to commit theft",
	"Vandalism":   "Deliberate property destruction",
	"Harassment":  "Unwanted persistent behavior causing distress",
	"Fraud":       "Deception for personal gain",
	"Kidnapping":  "Unlawful taking and confinement of a person",
	"Arson":       "Deliberate setting of fires to property",
	"DrugOffense": "Illegal drug-related activities",
	Other:         "General complaint not matching specific categories",
}

// Defaults returns a copy of the built-in taxonomy.
func Defaults() map[string]string {
	return maps.Clone(defaultCategories)
}

// Snapshot is an immutable view of the taxonomy at one version.
type Snapshot struct {
	Version      uint64
	Names        []string
	Descriptions map[string]string
}

func newSnapshot(version uint64, m map[string]string) Snapshot {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return Snapshot{Version: version, Names: names, Descriptions: maps.Clone(m)}
}

// Len reports the number of categories.
func (s Snapshot) Len() int { return len(s.Names) }

// Store persists the taxonomy and fans out changes to subscribers.
//
// Every mutation is serialized by mu. The file is rewritten through a temp file
// and rename; memory only changes after the rename succeeds, so a failed write
// leaves the last durably saved taxonomy in place.
type Store struct {
	path   string
	logger *slog.Logger

	mu        sync.Mutex
	saved     map[string]string
	version   uint64
	listeners []func(Snapshot)
}

// Open loads the taxonomy at path, seeding and persisting the defaults when the
// file does not exist yet.
func Open(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{path: path, logger: logging.OrDiscard(logger).With("component", "categories")}
	_ = os.Remove(s.tmpPath())

	m, err := s.read()
	switch {
	case errors.Is(err, os.ErrNotExist):
		m = Defaults()
		if err := s.persist(m); err != nil {
			return nil, err
		}
		s.logger.Info("seeded default categories", "path", path, "count", len(m))
	case err != nil:
		return nil, err
	}
	s.saved = m
	s.version = 1
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Subscribe registers fn to run after every successful mutation. Callbacks run
// synchronously, in mutation order, while the store lock is held; they must not
// call back into the Store.
func (s *Store) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// All returns a copy of the current taxonomy.
func (s *Store) All() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.saved)
}

// Snapshot returns the current taxonomy with its version.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newSnapshot(s.version, s.saved)
}

// Load re-reads the file and adopts its content if it differs from memory.
func (s *Store) Load() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read()
	if err != nil {
		return maps.Clone(s.saved), err
	}
	if !maps.Equal(m, s.saved) {
		s.commit(m)
		s.logger.Info("categories reloaded from disk", "count", len(m), "version", s.version)
	}
	return maps.Clone(s.saved), nil
}

// Save replaces the whole taxonomy. Other is kept even if m omits it.
func (s *Store) Save(m map[string]string) error {
	next := make(map[string]string, len(m)+1)
	for name, desc := range m {
		name, desc = strings.TrimSpace(name), strings.TrimSpace(desc)
		if name == "" || desc == "" {
			return fmt.Errorf("%w: name and description are required", ErrInvalidCategory)
		}
		next[name] = desc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := next[Other]; !ok {
		next[Other] = s.saved[Other]
	}
	return s.apply(next)
}

// Update adds name or replaces its description.
func (s *Store) Update(name, description string) error {
	name, description = strings.TrimSpace(name), strings.TrimSpace(description)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCategory)
	}
	if description == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidCategory)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.saved[name]; ok && cur == description {
		return nil
	}
	next := maps.Clone(s.saved)
	next[name] = description
	return s.apply(next)
}

// Remove deletes name. It reports false without mutating anything for Other
// and for unknown names.
func (s *Store) Remove(name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == Other {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.saved[name]; !ok {
		return false, nil
	}
	next := maps.Clone(s.saved)
	delete(next, name)
	if err := s.apply(next); err != nil {
		return false, err
	}
	return true, nil
}

// apply persists next and then swaps it in. Caller holds mu.
func (s *Store) apply(next map[string]string) error {
	if err := s.persist(next); err != nil {
		s.logger.Error("category persist failed, keeping previous taxonomy", "err", err, "version", s.version)
		return err
	}
	s.commit(next)
	return nil
}

// commit installs m as the saved taxonomy and notifies subscribers. Caller holds mu.
func (s *Store) commit(m map[string]string) {
	s.saved = m
	s.version++
	snap := newSnapshot(s.version, m)
	for _, fn := range s.listeners {
		fn(snap)
	}
}

func (s *Store) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	clean := make(map[string]string, len(m)+1)
	for name, desc := range m {
		name, desc = strings.TrimSpace(name), strings.TrimSpace(desc)
		if name == "" || desc == "" {
			s.logger.Warn("skipping malformed category entry", "name", name)
			continue
		}
		clean[name] = desc
	}
	if _, ok := clean[Other]; !ok {
		clean[Other] = defaultCategories[Other]
	}
	return clean, nil
}

func (s *Store) persist(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPersist, err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrPersist, err)
		}
	}
	tmp := s.tmpPath()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write temp file: %v", ErrPersist, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename: %v", ErrPersist, err)
	}
	return nil
}

func (s *Store) tmpPath() string {
	return s.path + ".tmp"
}
