package rules

import (
	"sync/atomic"
)

// Store holds the current table for a running service. Readers take a
// snapshot with Table and keep using it for a whole message, so a reload
// never changes the rules mid-decode.
type Store struct {
	path    string
	current atomic.Pointer[Table]
}

// OpenStore loads the table at path.
func OpenStore(path string) (*Store, error) {
	t, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path}
	s.current.Store(t)
	return s, nil
}

// NewStore wraps an already-built table. Reload on such a store fails unless
// a path was given.
func NewStore(t *Table, path string) *Store {
	s := &Store{path: path}
	s.current.Store(t)
	return s
}

// Table returns the current table.
func (s *Store) Table() *Table { return s.current.Load() }

// Reload re-reads the file. On error the previous table stays current.
func (s *Store) Reload() (*Table, error) {
	t, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	s.current.Store(t)
	return t, nil
}

// Table lets a bare table stand in wherever a Store is accepted.
func (t *Table) Table() *Table { return t }
