// Package account holds the registry of configured IM accounts: identifier
// allocation, buddy snapshots, and durable persistence of the records.
package account

import "sync"

// Buddy is one contact entry of an account. The status vocabulary is
// backend-defined ("available", "offline", ...) plus the reserved values
// "GROUP_CHAT" and "GROUP_CHAT_INVITE" for joined and invited group chats.
type Buddy struct {
	Name   string
	Alias  string
	Status string
}

// Account is one configured identity on an IM network. ID, Type, User and
// Password are fixed at creation; Name, status and the buddy list may change
// over the account's lifetime and are guarded by the account's own mutex.
//
// The buddy list is a point-in-time snapshot: it is replaced wholesale on
// each roster synchronization, never merged entry by entry. Readers always
// observe either the old complete snapshot or the new one.
type Account struct {
	ID       int
	Name     string
	Type     string
	User     string
	Password string

	mu      sync.Mutex
	status  string
	buddies []Buddy
}

// New creates an account. New accounts start with status "online"; the
// session worker flips it to "offline" until the backend connects.
func New(id int, accType, user, password string) *Account {
	return &Account{
		ID:       id,
		Type:     accType,
		User:     user,
		Password: password,
		status:   "online",
	}
}

// Status returns the last-known status string.
func (a *Account) Status() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// SetStatus records the last-known status string.
func (a *Account) SetStatus(status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
}

// Buddies returns a copy of the current buddy snapshot.
func (a *Account) Buddies() []Buddy {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Buddy, len(a.buddies))
	copy(out, a.buddies)
	return out
}

// HasBuddy reports whether a buddy with the given name is in the snapshot.
func (a *Account) HasBuddy(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, b := range a.buddies {
		if b.Name == name {
			return true
		}
	}
	return false
}

// AppendBuddy adds a buddy to the snapshot unless one with the same name
// already exists. It reports whether the buddy was added.
func (a *Account) AppendBuddy(b Buddy) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, have := range a.buddies {
		if have.Name == b.Name {
			return false
		}
	}
	a.buddies = append(a.buddies, b)
	return true
}

// ReplaceBuddies swaps in a new snapshot atomically and reports whether it
// contains any buddy name that was not present before. Callers use that to
// decide whether the registry needs to be persisted.
func (a *Account) ReplaceBuddies(buddies []Buddy) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	known := make(map[string]struct{}, len(a.buddies))
	for _, b := range a.buddies {
		known[b.Name] = struct{}{}
	}

	added := false
	for _, b := range buddies {
		if _, ok := known[b.Name]; !ok {
			added = true
			break
		}
	}

	a.buddies = make([]Buddy, len(buddies))
	copy(a.buddies, buddies)
	return added
}
