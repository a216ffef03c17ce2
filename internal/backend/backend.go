// Package backend defines the boundary between the generic daemon core and
// an IM-protocol adapter. The core never speaks a wire protocol itself: it
// drives a Capability and receives asynchronous events through an
// EventSink. One Capability exists per live session.
package backend

import (
	"time"

	"github.com/mfriedr/chatterd/internal/account"
)

// RosterEntry is one contact as reported by the network.
type RosterEntry struct {
	Identity string
	Alias    string
	Status   string
}

// Capability is the set of operations the core requires from an adapter.
// All methods are called from the owning session's worker goroutine, so an
// adapter only needs internal locking for state it shares with its own
// network goroutines.
type Capability interface {
	// Connect starts session establishment with the network. Success is
	// signalled asynchronously through EventSink.Connected.
	Connect() error

	// Disconnect tears the connection down. Safe to call when offline.
	Disconnect()

	// Process lets the adapter handle pending network I/O for at most the
	// given slice of time.
	Process(budget time.Duration)

	SendMessage(destination, body, richBody, kind string)

	SetStatus(status string)
	Status() string

	// Roster returns the current contact list in a stable order.
	Roster() []RosterEntry

	JoinChat(chat string)
	PartChat(chat string)
	JoinedChats() []string
	ChatNick(chat string) string
	ChatUsers(chat string) []RosterEntry
	Invite(chat, user string)
}

// EventSink receives inbound events from the adapter. The adapter may
// invoke these from any goroutine; implementations must be safe for that.
type EventSink interface {
	Connected()
	Disconnected()
	Message(from, to string, tstamp time.Time, body string)
	ChatMessage(chat, sender string, tstamp time.Time, body string)
	ChatUserUpdate(chat, user, alias, status string)
	Invite(chat, inviter string)
}

// Factory creates the Capability for one account. The sink stays valid for
// the capability's whole lifetime.
type Factory func(acct *account.Account, sink EventSink) Capability
