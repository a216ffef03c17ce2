// Package event decouples the generic command layer from the backend
// adapter. The dispatcher fires events by kind; whichever adapter is wired
// in registers handlers for the kinds it supports. An unregistered kind is
// a no-op that returns an empty reply, so an adapter only implements what
// its network can actually do.
package event

import (
	"sync"

	"github.com/mfriedr/chatterd/internal/account"
)

// Kind identifies one event fired through the registry.
type Kind int

// The closed set of event kinds. The first group is fired by client
// commands, the second by the process lifecycle.
const (
	AddAccount Kind = iota
	DelAccount
	UpdateBuddies
	GetMessages
	CollectMessages
	SendMessage
	SetStatus
	GetStatus
	ChatList
	ChatJoin
	ChatPart
	ChatUsers
	ChatSend
	ChatInvite
	Disconnect
	Quit

	ConfigReady
	Interrupted
	ShuttingDown
)

var kindNames = map[Kind]string{
	AddAccount:      "ADD_ACCOUNT",
	DelAccount:      "DEL_ACCOUNT",
	UpdateBuddies:   "UPDATE_BUDDIES",
	GetMessages:     "GET_MESSAGES",
	CollectMessages: "COLLECT_MESSAGES",
	SendMessage:     "SEND_MESSAGE",
	SetStatus:       "SET_STATUS",
	GetStatus:       "GET_STATUS",
	ChatList:        "CHAT_LIST",
	ChatJoin:        "CHAT_JOIN",
	ChatPart:        "CHAT_PART",
	ChatUsers:       "CHAT_USERS",
	ChatSend:        "CHAT_SEND",
	ChatInvite:      "CHAT_INVITE",
	Disconnect:      "DISCONNECT",
	Quit:            "QUIT",
	ConfigReady:     "CONFIG_READY",
	Interrupted:     "INTERRUPTED",
	ShuttingDown:    "SHUTTING_DOWN",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// HandlerFunc handles one event. The account is nil for lifecycle events
// that are not scoped to a single account. The returned string is the reply
// relayed to the client; empty means nothing to say.
type HandlerFunc func(acct *account.Account, kind Kind, params []string) string

// Registry maps event kinds to handlers. It is wired once at startup and
// read-only afterwards, except for explicit Register/Unregister calls.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]HandlerFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]HandlerFunc)}
}

// Register installs the handler for kind, replacing any previous one.
func (r *Registry) Register(kind Kind, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = fn
}

// Unregister removes the handler for kind, if any.
func (r *Registry) Unregister(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, kind)
}

// Dispatch invokes the handler registered for kind. When no handler is
// registered the event is a no-op returning an empty reply.
func (r *Registry) Dispatch(acct *account.Account, kind Kind, params []string) string {
	r.mu.RLock()
	fn := r.handlers[kind]
	r.mu.RUnlock()

	if fn == nil {
		return ""
	}
	return fn(acct, kind, params)
}
