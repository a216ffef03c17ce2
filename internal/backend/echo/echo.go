// Package echo is a loopback backend adapter. It implements the capability
// interface against no network at all: connecting always succeeds, every
// sent message is echoed back from its destination after a short delay, and
// group chats are local rooms. It exists to exercise the adapter seam in
// demos and integration tests.
package echo

import (
	"sort"
	"sync"
	"time"

	"github.com/mfriedr/chatterd/internal/account"
	"github.com/mfriedr/chatterd/internal/backend"
)

// TypeTag is the account type served by this adapter.
const TypeTag = "echo"

// EchoNick is the room member name used as the sender of echoed chat
// messages, so own-message filtering does not swallow them.
const EchoNick = "echo"

const defaultEchoDelay = 50 * time.Millisecond

// Capability is the loopback connection of one account.
type Capability struct {
	acct      *account.Account
	sink      backend.EventSink
	echoDelay time.Duration

	mu        sync.Mutex
	connected bool
	status    string
	peers     map[string]struct{}
	rooms     map[string]map[string]struct{}
}

// New creates the adapter for one account. It satisfies backend.Factory.
func New(acct *account.Account, sink backend.EventSink) backend.Capability {
	return &Capability{
		acct:      acct,
		sink:      sink,
		echoDelay: defaultEchoDelay,
		status:    "offline",
		peers:     make(map[string]struct{}),
		rooms:     make(map[string]map[string]struct{}),
	}
}

// Connect implements backend.Capability. The loopback network is always
// reachable, so the connected event fires immediately.
func (c *Capability) Connect() error {
	c.mu.Lock()
	c.connected = true
	c.status = "available"
	c.mu.Unlock()

	c.sink.Connected()
	return nil
}

// Disconnect implements backend.Capability.
func (c *Capability) Disconnect() {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.status = "offline"
	c.mu.Unlock()

	if wasConnected {
		c.sink.Disconnected()
	}
}

// Process implements backend.Capability. There is no network I/O to drive,
// so the bounded slice is spent waiting like a real adapter would.
func (c *Capability) Process(budget time.Duration) {
	time.Sleep(budget)
}

// SendMessage implements backend.Capability. The destination becomes a
// known peer and echoes the plain body back after the configured delay.
func (c *Capability) SendMessage(destination, body, _, kind string) {
	c.mu.Lock()
	if kind != "groupchat" {
		c.peers[destination] = struct{}{}
	}
	c.mu.Unlock()

	time.AfterFunc(c.echoDelay, func() {
		c.mu.Lock()
		connected := c.connected
		c.mu.Unlock()
		if !connected {
			return
		}

		if kind == "groupchat" {
			c.sink.ChatMessage(destination, EchoNick, time.Now(), body)
			return
		}
		c.sink.Message(destination, c.acct.User, time.Now(), body)
	})
}

// SetStatus implements backend.Capability.
func (c *Capability) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// Status implements backend.Capability.
func (c *Capability) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Roster implements backend.Capability. Peers the account has messaged and
// rooms it has joined make up the contact list, sorted for stable output.
func (c *Capability) Roster() []backend.RosterEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]backend.RosterEntry, 0, len(c.peers)+len(c.rooms))
	for peer := range c.peers {
		entries = append(entries, backend.RosterEntry{
			Identity: peer,
			Alias:    peer,
			Status:   "available",
		})
	}
	for room := range c.rooms {
		entries = append(entries, backend.RosterEntry{
			Identity: room,
			Alias:    room,
			Status:   "available",
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Identity < entries[j].Identity })
	return entries
}

// JoinChat implements backend.Capability.
func (c *Capability) JoinChat(chat string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[chat]; !ok {
		c.rooms[chat] = map[string]struct{}{
			c.acct.User: {},
			EchoNick:    {},
		}
	}
}

// PartChat implements backend.Capability.
func (c *Capability) PartChat(chat string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, chat)
}

// JoinedChats implements backend.Capability.
func (c *Capability) JoinedChats() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	chats := make([]string, 0, len(c.rooms))
	for chat := range c.rooms {
		chats = append(chats, chat)
	}
	sort.Strings(chats)
	return chats
}

// ChatNick implements backend.Capability. The loopback nick is the account
// identity itself.
func (c *Capability) ChatNick(string) string {
	return c.acct.User
}

// ChatUsers implements backend.Capability.
func (c *Capability) ChatUsers(chat string) []backend.RosterEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[chat]
	if !ok {
		return nil
	}

	users := make([]backend.RosterEntry, 0, len(room))
	for user := range room {
		users = append(users, backend.RosterEntry{
			Identity: user,
			Alias:    user,
			Status:   "join",
		})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Identity < users[j].Identity })
	return users
}

// Invite implements backend.Capability. The invited user joins the room
// right away; there is no remote side to accept.
func (c *Capability) Invite(chat, user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room, ok := c.rooms[chat]; ok {
		room[user] = struct{}{}
	}
}
