package account

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ErrAccountExists is returned by Add when an account with the same type
// and user is already configured.
var ErrAccountExists = errors.New("account already exists")

// Registry owns the set of configured accounts. It is shared between the
// command dispatcher and every session's lifecycle calls, so all access
// goes through one registry-wide mutex.
//
// Mutations are persisted through the store before Add/Delete return. A
// failed write is logged and the in-memory state stays authoritative for
// the running process; there is a small window in which a crash loses the
// latest mutation, which is an accepted gap rather than a silent one.
type Registry struct {
	mu       sync.Mutex
	accounts map[int]*Account
	store    Store
	logger   *slog.Logger
}

// NewRegistry creates a registry backed by store. A nil store disables
// persistence (used by tests).
func NewRegistry(store Store, logger *slog.Logger) *Registry {
	return &Registry{
		accounts: make(map[int]*Account),
		store:    store,
		logger:   logger,
	}
}

// Load restores the persisted accounts. A missing file is an empty
// registry, not an error.
func (r *Registry) Load() error {
	if r.store == nil {
		return nil
	}

	accounts, err := r.store.Load()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acct := range accounts {
		r.accounts[acct.ID] = acct
	}
	return nil
}

// Add creates a new account with the next free identifier and persists the
// registry. It returns ErrAccountExists when an account with the same type
// and user is already present.
func (r *Registry) Add(accType, user, password string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, acct := range r.accounts {
		if acct.Type == accType && acct.User == user {
			return nil, ErrAccountExists
		}
	}

	acct := New(r.nextIDLocked(), accType, user, password)
	r.accounts[acct.ID] = acct
	r.saveLocked()
	return acct, nil
}

// Delete removes the account with the given id and persists the registry.
// It returns the removed account, or false when the id is unknown.
func (r *Registry) Delete(id int) (*Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.accounts[id]
	if !ok {
		return nil, false
	}
	delete(r.accounts, id)
	r.saveLocked()
	return acct, true
}

// Get returns the account with the given id.
func (r *Registry) Get(id int) (*Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[id]
	return acct, ok
}

// List returns all accounts sorted by id.
func (r *Registry) List() []*Account {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Account, 0, len(r.accounts))
	for _, acct := range r.accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Save persists the current registry state. Used after buddy-list changes
// that introduce a new buddy.
func (r *Registry) Save() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveLocked()
}

func (r *Registry) saveLocked() {
	if r.store == nil {
		return
	}

	accounts := make([]*Account, 0, len(r.accounts))
	for _, acct := range r.accounts {
		accounts = append(accounts, acct)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })

	if err := r.store.Save(accounts); err != nil {
		r.logger.Error("failed to persist accounts", "error", err)
	}
}

// nextIDLocked picks the identifier for a new account: the first gap in the
// ascending id sequence, or one past the highest id, or 0 when empty.
// Freed ids are reused before the id space grows.
func (r *Registry) nextIDLocked() int {
	if len(r.accounts) == 0 {
		return 0
	}

	ids := make([]int, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	last := -1
	for _, id := range ids {
		if id-last >= 2 {
			return last + 1
		}
		last = id
	}
	return last + 1
}
