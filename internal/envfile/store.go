package envfile

import (
	"fmt"
	"strings"
)

// Entry is a single KEY=VALUE pair.
type Entry struct {
	Key   string
	Value string
}

// Store is an ordered mapping of entries loaded from the backing file.
// Keys are unique and case-sensitive; insertion order is preserved for
// deterministic rewrites.
//
// Keys written through Set or Delete are tracked as dirty so a later
// MergeFrom can overlay fresh on-disk values without losing this session's
// changes. A Store is not safe for concurrent use; cross-process safety is
// the Guard's job.
type Store struct {
	entries []Entry
	index   map[string]int
	dirty   map[string]struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		index: make(map[string]int),
		dirty: make(map[string]struct{}),
	}
}

// Get returns the value for key and whether it is present.
func (s *Store) Get(key string) (string, bool) {
	i, ok := s.index[key]
	if !ok {
		return "", false
	}
	return s.entries[i].Value, true
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	_, ok := s.index[key]
	return ok
}

// Set upserts a value, keeping the original position for existing keys and
// appending new ones. The key is marked dirty.
func (s *Store) Set(key, value string) {
	s.setLoaded(key, value)
	s.dirty[key] = struct{}{}
}

// setLoaded upserts without dirtying, for values sourced from disk.
func (s *Store) setLoaded(key, value string) {
	if i, ok := s.index[key]; ok {
		s.entries[i].Value = value
		return
	}
	s.index[key] = len(s.entries)
	s.entries = append(s.entries, Entry{Key: key, Value: value})
}

// Delete removes a key. The key stays dirty so a merge cannot resurrect it.
func (s *Store) Delete(key string) {
	i, ok := s.index[key]
	if !ok {
		return
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	delete(s.index, key)
	for k, j := range s.index {
		if j > i {
			s.index[k] = j - 1
		}
	}
	s.dirty[key] = struct{}{}
}

// Keys returns all keys in order.
func (s *Store) Keys() []string {
	keys := make([]string, len(s.entries))
	for i, e := range s.entries {
		keys[i] = e.Key
	}
	return keys
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// MissingFieldsError lists every required field absent from the store.
type MissingFieldsError struct {
	Missing []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", "))
}

// Require checks that every named key is present with a non-empty value.
// All missing keys are reported in a single MissingFieldsError rather than
// just the first one encountered.
func (s *Store) Require(keys ...string) error {
	var missing []string
	for _, key := range keys {
		if v, ok := s.Get(key); !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Missing: missing}
	}
	return nil
}

// MergeFrom overlays a freshly loaded on-disk store onto this one, taking
// the disk value for every key this session has not touched. Dirty keys,
// including deleted ones, keep their in-memory state. This reduces the
// lost-update window when multiple processes append unrelated keys; it is
// best effort, not linearizable.
func (s *Store) MergeFrom(disk *Store) {
	for _, e := range disk.entries {
		if _, touched := s.dirty[e.Key]; touched {
			continue
		}
		s.setLoaded(e.Key, e.Value)
	}
}

// ApplyDirtyTo copies this session's dirty keys onto dst, which is typically
// a store freshly parsed under the Guard's lease.
func (s *Store) ApplyDirtyTo(dst *Store) {
	for _, e := range s.entries {
		if _, touched := s.dirty[e.Key]; touched {
			dst.Set(e.Key, e.Value)
		}
	}
	for key := range s.dirty {
		if !s.Has(key) {
			dst.Delete(key)
		}
	}
}

// ResetDirty clears dirty tracking, typically after a successful flush.
func (s *Store) ResetDirty() {
	s.dirty = make(map[string]struct{})
}
