package session

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/mfriedr/chatterd/internal/account"
	"github.com/mfriedr/chatterd/internal/backend"
	"github.com/mfriedr/chatterd/internal/event"
	"github.com/mfriedr/chatterd/internal/history"
	"github.com/mfriedr/chatterd/internal/wire"
)

// Supervisor owns the session map for one backend adapter and wires the
// adapter's handlers into the event registry. It is the only component that
// creates or stops sessions, so the dispatcher stays ignorant of the
// adapter entirely.
type Supervisor struct {
	registry *account.Registry
	events   *event.Registry
	history  history.Store
	factory  backend.Factory
	typeTag  string
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[int]*Session
}

// NewSupervisor creates a supervisor serving accounts of the given type.
func NewSupervisor(registry *account.Registry, events *event.Registry,
	hist history.Store, factory backend.Factory, typeTag string,
	cfg Config, logger *slog.Logger) *Supervisor {

	return &Supervisor{
		registry: registry,
		events:   events,
		history:  hist,
		factory:  factory,
		typeTag:  typeTag,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[int]*Session),
	}
}

// Wire registers the adapter's handler set on the event registry. Events
// the adapter has no use for (UpdateBuddies, Disconnect, the process
// lifecycle tags) stay unregistered and dispatch as no-ops.
func (sup *Supervisor) Wire() {
	sup.events.Register(event.AddAccount, sup.handleAddAccount)
	sup.events.Register(event.DelAccount, sup.handleDelAccount)
	sup.events.Register(event.Quit, sup.handleQuit)
	sup.events.Register(event.GetMessages, sup.handleGetMessages)
	sup.events.Register(event.CollectMessages, sup.handleCollectMessages)
	sup.events.Register(event.SendMessage, sup.handleSendMessage)
	sup.events.Register(event.ChatSend, sup.handleChatSend)
	sup.events.Register(event.SetStatus, sup.enqueue)
	sup.events.Register(event.GetStatus, sup.enqueue)
	sup.events.Register(event.ChatList, sup.enqueue)
	sup.events.Register(event.ChatJoin, sup.enqueue)
	sup.events.Register(event.ChatPart, sup.enqueue)
	sup.events.Register(event.ChatUsers, sup.enqueue)
	sup.events.Register(event.ChatInvite, sup.enqueue)
}

// StartAll launches a session for every persisted account of the adapter's
// type. Called once at startup, after the registry is loaded.
func (sup *Supervisor) StartAll() {
	for _, acct := range sup.registry.List() {
		if acct.Type == sup.typeTag {
			sup.startSession(acct)
		}
	}
}

// StopAll stops every session and blocks until all workers have exited.
// Idempotent; both the quit command path and signal shutdown end up here.
func (sup *Supervisor) StopAll() {
	sup.mu.Lock()
	sessions := make([]*Session, 0, len(sup.sessions))
	for _, sess := range sup.sessions {
		sessions = append(sessions, sess)
	}
	sup.sessions = make(map[int]*Session)
	sup.mu.Unlock()

	for _, sess := range sessions {
		sess.Stop()
	}
}

// Session returns the live session for an account id, if any.
func (sup *Supervisor) Session(id int) (*Session, bool) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	sess, ok := sup.sessions[id]
	return sess, ok
}

func (sup *Supervisor) startSession(acct *account.Account) {
	sup.mu.Lock()
	defer sup.mu.Unlock()

	if _, ok := sup.sessions[acct.ID]; ok {
		return
	}
	sess := New(acct, sup.registry, sup.history, sup.factory, sup.cfg,
		sup.logger.With("account", acct.ID))
	sup.sessions[acct.ID] = sess
	sess.Start()
}

// stopSession removes and joins the session for an account id.
func (sup *Supervisor) stopSession(id int) {
	sup.mu.Lock()
	sess, ok := sup.sessions[id]
	delete(sup.sessions, id)
	sup.mu.Unlock()

	if ok {
		sess.Stop()
	}
}

func (sup *Supervisor) handleAddAccount(acct *account.Account, _ event.Kind, _ []string) string {
	if acct == nil || acct.Type != sup.typeTag {
		return ""
	}
	sup.startSession(acct)
	return ""
}

func (sup *Supervisor) handleDelAccount(acct *account.Account, _ event.Kind, _ []string) string {
	if acct == nil {
		return ""
	}
	sup.stopSession(acct.ID)
	if err := sup.history.Remove(acct.ID); err != nil {
		sup.logger.Error("failed to remove history", "account", acct.ID, "error", err)
	}
	return ""
}

// handleQuit stops the account's worker and joins it. The dispatcher fires
// Quit for every account before replying to the quit command, so the reply
// is only written once all workers have exited.
func (sup *Supervisor) handleQuit(acct *account.Account, _ event.Kind, _ []string) string {
	if acct == nil {
		return ""
	}
	sup.stopSession(acct.ID)
	return ""
}

func (sup *Supervisor) handleGetMessages(acct *account.Account, _ event.Kind, _ []string) string {
	sess, ok := sup.session(acct)
	if !ok {
		return ""
	}
	return strings.Join(sess.DrainNew(), wire.EOM)
}

// handleCollectMessages replays the full history. The client may pass a
// "since" timestamp; it is accepted but not used for filtering, full replay
// is the contract.
func (sup *Supervisor) handleCollectMessages(acct *account.Account, _ event.Kind, _ []string) string {
	if acct == nil {
		return ""
	}
	lines, err := sup.history.All(acct.ID)
	if err != nil {
		sup.logger.Error("failed to read history", "account", acct.ID, "error", err)
		return ""
	}
	return strings.Join(lines, wire.EOM)
}

// handleSendMessage turns the client's escaped message body into the plain
// and XHTML bodies the backend expects and queues the send.
func (sup *Supervisor) handleSendMessage(acct *account.Account, _ event.Kind, params []string) string {
	sess, ok := sup.session(acct)
	if !ok || len(params) < 2 {
		return ""
	}

	dest := params[0]
	msg := params[1]
	kind := "chat"
	if len(params) > 2 {
		kind = params[2]
	}

	rich := `<body xmlns="http://www.w3.org/1999/xhtml">` + msg + `</body>`
	plain := wire.UnescapeBody(msg)

	sess.Enqueue(event.SendMessage, []string{dest, plain, rich, kind})
	return ""
}

func (sup *Supervisor) handleChatSend(acct *account.Account, _ event.Kind, params []string) string {
	if len(params) < 2 {
		return ""
	}
	return sup.handleSendMessage(acct, event.SendMessage,
		[]string{params[0], params[1], "groupchat"})
}

// enqueue is the shared handler for commands that map straight onto the
// session's outbound queue.
func (sup *Supervisor) enqueue(acct *account.Account, kind event.Kind, params []string) string {
	sess, ok := sup.session(acct)
	if !ok {
		return ""
	}
	sess.Enqueue(kind, params)
	return ""
}

// session resolves the account's live session. A missing session is
// routine, for example briefly during reconnection, and callers treat it as
// a silent no-op rather than an error.
func (sup *Supervisor) session(acct *account.Account) (*Session, bool) {
	if acct == nil {
		return nil, false
	}
	return sup.Session(acct.ID)
}
