// Package history stores the replayable message history per account. Every
// inbound event a session buffers is also appended here, so a client can
// replay everything it may have missed with "account <id> collect".
//
// Two backends exist: an in-process store with lifetime-of-process
// durability, and a SQLite store that survives restarts. The backend is
// selected by configuration.
package history

import "sync"

// Store is the per-account, order-preserving history log.
type Store interface {
	// Append adds one formatted message line to the account's history.
	Append(accountID int, line string) error
	// All returns the account's full history in insertion order.
	All(accountID int) ([]string, error)
	// Remove drops the account's history, used when the account is deleted.
	Remove(accountID int) error
	// Close releases backend resources.
	Close() error
}

// MemoryStore keeps history in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	lines map[int][]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lines: make(map[int][]string)}
}

// Append implements Store.
func (s *MemoryStore) Append(accountID int, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[accountID] = append(s.lines[accountID], line)
	return nil
}

// All implements Store.
func (s *MemoryStore) All(accountID int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.lines[accountID]
	out := make([]string, len(lines))
	copy(out, lines)
	return out, nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(accountID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lines, accountID)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
