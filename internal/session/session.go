// Package session runs one concurrent worker per active account. The
// worker owns the live backend connection and is the only goroutine that
// drives it; the command dispatcher talks to it exclusively through the
// outbound command queue and the inbound message buffer. Both sit behind
// the session's single mutex, and no code path ever holds two different
// sessions' mutexes at once.
package session

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mfriedr/chatterd/internal/account"
	"github.com/mfriedr/chatterd/internal/backend"
	"github.com/mfriedr/chatterd/internal/event"
	"github.com/mfriedr/chatterd/internal/history"
	"github.com/mfriedr/chatterd/internal/wire"
)

// Reserved buddy statuses for group chats in the roster snapshot.
const (
	StatusGroupChat       = "GROUP_CHAT"
	StatusGroupChatInvite = "GROUP_CHAT_INVITE"
)

const (
	// DefaultPollInterval bounds one iteration of the worker loop: the
	// slice given to the backend for network I/O, and the idle sleep while
	// offline.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultReconnectDelay is the minimum spacing between two reconnect
	// attempts for the same offline session.
	DefaultReconnectDelay = 10 * time.Second
)

// Config carries the worker's timing constants and the time source, kept
// injectable so tests can drive the reconnect backoff with a fake clock.
type Config struct {
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	FilterOwn      bool
	Now            func() time.Time
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type queuedCommand struct {
	kind   event.Kind
	params []string
}

// Session bridges one account to its backend connection.
type Session struct {
	acct     *account.Account
	registry *account.Registry
	history  history.Store
	cap      backend.Capability
	logger   *slog.Logger
	cfg      Config

	mu          sync.Mutex
	online      bool
	queue       []queuedCommand
	inbox       []string
	mucCache    map[string]struct{}
	invites     map[string]string
	rosterHash  uint64
	lastAttempt time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates the session and its backend capability. The account is
// flagged offline until the backend reports a connection.
func New(acct *account.Account, registry *account.Registry, hist history.Store,
	factory backend.Factory, cfg Config, logger *slog.Logger) *Session {

	s := &Session{
		acct:     acct,
		registry: registry,
		history:  hist,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		mucCache: make(map[string]struct{}),
		invites:  make(map[string]string),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.cap = factory(acct, s)
	acct.SetStatus("offline")
	return s
}

// Start launches the worker goroutine.
func (s *Session) Start() {
	go s.run()
}

// Stop signals the worker and blocks until it has exited and the backend
// connection is torn down. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

// Online reports whether the backend connection is established.
func (s *Session) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Enqueue appends a command to the outbound queue. Commands are executed in
// submission order by the worker once the session is online.
func (s *Session) Enqueue(kind event.Kind, params []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, queuedCommand{kind: kind, params: params})
}

// DrainNew returns the buffered inbound lines and clears the buffer. The
// replay history is unaffected.
func (s *Session) DrainNew() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.inbox
	s.inbox = nil
	return lines
}

// run is the worker loop. While offline it attempts reconnection no more
// often than the reconnect delay; while online each iteration gives the
// backend a bounded I/O slice, executes the queued commands, and refreshes
// the roster snapshot.
func (s *Session) run() {
	defer close(s.done)

	s.logger.Info("session worker started", "user", s.acct.User)

	for {
		select {
		case <-s.stopCh:
			if s.Online() {
				s.drainQueue()
			}
			s.cap.Disconnect()
			s.logger.Info("session worker stopped", "user", s.acct.User)
			return
		default:
		}

		if !s.Online() {
			s.maybeReconnect()
			s.idle(s.cfg.PollInterval)
			continue
		}

		s.cap.Process(s.cfg.PollInterval)
		s.drainQueue()
		s.syncRoster()
	}
}

func (s *Session) maybeReconnect() {
	now := s.cfg.Now()

	s.mu.Lock()
	due := s.lastAttempt.IsZero() || now.Sub(s.lastAttempt) >= s.cfg.ReconnectDelay
	if due {
		s.lastAttempt = now
	}
	s.mu.Unlock()

	if !due {
		return
	}

	s.logger.Debug("attempting connect", "user", s.acct.User)
	if err := s.cap.Connect(); err != nil {
		s.logger.Error("connect failed", "user", s.acct.User, "error", err)
	}
}

func (s *Session) idle(d time.Duration) {
	select {
	case <-s.stopCh:
	case <-time.After(d):
	}
}

// drainQueue swaps out the queue and executes every command against the
// backend in FIFO order.
func (s *Session) drainQueue() {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, cmd := range queue {
		s.execute(cmd)
	}
}

func (s *Session) execute(cmd queuedCommand) {
	switch cmd.kind {
	case event.SendMessage:
		if len(cmd.params) < 4 {
			return
		}
		body := stripControl(cmd.params[1], true)
		rich := stripControl(cmd.params[2], false)
		s.cap.SendMessage(cmd.params[0], body, rich, cmd.params[3])

	case event.SetStatus:
		if len(cmd.params) < 1 {
			return
		}
		s.cap.SetStatus(cmd.params[0])

	case event.GetStatus:
		s.receive(wire.StatusLine(s.acct.ID, s.cap.Status()))

	case event.ChatList:
		for _, chat := range s.cap.JoinedChats() {
			s.receive(wire.ChatListLine(s.acct.ID, chat, chat, s.cap.ChatNick(chat)))
		}

	case event.ChatJoin:
		if len(cmd.params) < 1 {
			return
		}
		chat := cmd.params[0]
		s.cap.JoinChat(chat)
		s.mu.Lock()
		s.mucCache[chat] = struct{}{}
		s.mu.Unlock()

	case event.ChatPart:
		if len(cmd.params) < 1 {
			return
		}
		chat := cmd.params[0]
		// The chat stays in mucCache so the roster sync keeps filtering
		// it; a declined invite is simply forgotten.
		s.cap.PartChat(chat)
		s.mu.Lock()
		delete(s.invites, chat)
		s.mu.Unlock()

	case event.ChatUsers:
		if len(cmd.params) < 1 {
			return
		}
		chat := cmd.params[0]
		for _, user := range s.cap.ChatUsers(chat) {
			s.receive(wire.ChatUserLine(s.acct.ID, chat, user.Identity, user.Alias, user.Status))
		}

	case event.ChatInvite:
		if len(cmd.params) < 2 {
			return
		}
		s.cap.Invite(cmd.params[0], cmd.params[1])
	}
}

// syncRoster replaces the account's buddy snapshot with the backend's
// current contact list: joined group chats get the reserved GROUP_CHAT
// status, chats that were joined and then left are dropped entirely, and
// pending invites are carried as pseudo-buddies until the chat shows up in
// the roster or the invite is declined. A fingerprint over the new snapshot
// skips the swap and the registry write when nothing changed.
func (s *Session) syncRoster() {
	entries := s.cap.Roster()

	joined := make(map[string]struct{})
	for _, chat := range s.cap.JoinedChats() {
		joined[chat] = struct{}{}
	}

	s.mu.Lock()
	buddies := make([]account.Buddy, 0, len(entries)+len(s.invites))
	for _, e := range entries {
		status := e.Status
		if _, ok := joined[e.Identity]; ok {
			status = StatusGroupChat
		} else if _, ok := s.mucCache[e.Identity]; ok {
			// Left this chat earlier; the network still lists it.
			continue
		}
		buddies = append(buddies, account.Buddy{Name: e.Identity, Alias: e.Alias, Status: status})

		// The chat became visible, the invite is consumed.
		delete(s.invites, e.Identity)
	}

	pending := make([]string, 0, len(s.invites))
	for chat := range s.invites {
		pending = append(pending, chat)
	}
	sort.Strings(pending)
	for _, chat := range pending {
		buddies = append(buddies, account.Buddy{Name: chat, Alias: chat, Status: StatusGroupChatInvite})
	}

	hash := fingerprint(buddies)
	unchanged := hash == s.rosterHash
	s.rosterHash = hash
	s.mu.Unlock()

	if unchanged {
		return
	}

	if s.acct.ReplaceBuddies(buddies) {
		// A buddy name appeared that was never persisted before.
		s.registry.Save()
	}
}

// receive appends one formatted line to the inbound buffer and the replay
// history. Invoked both by queue execution and, through the EventSink
// methods, by the backend's own goroutines.
func (s *Session) receive(line string) {
	s.mu.Lock()
	s.inbox = append(s.inbox, line)
	s.mu.Unlock()

	if err := s.history.Append(s.acct.ID, line); err != nil {
		s.logger.Error("failed to append history", "error", err)
	}
}

// Connected implements backend.EventSink.
func (s *Session) Connected() {
	s.mu.Lock()
	s.online = true
	s.mu.Unlock()

	s.acct.SetStatus("online")
	s.logger.Info("backend connected", "user", s.acct.User)
}

// Disconnected implements backend.EventSink. The buddy snapshot is flushed;
// it will be rebuilt after the next successful connect.
func (s *Session) Disconnected() {
	s.mu.Lock()
	s.online = false
	s.rosterHash = 0
	s.mu.Unlock()

	s.acct.SetStatus("offline")
	s.acct.ReplaceBuddies(nil)
	s.logger.Info("backend disconnected", "user", s.acct.User)
}

// Message implements backend.EventSink.
func (s *Session) Message(from, to string, tstamp time.Time, body string) {
	s.receive(wire.MessageLine(s.acct.ID, to, tstamp.Unix(), from, wire.EscapeBody(body)))
}

// ChatMessage implements backend.EventSink. The account's own chat messages
// are dropped when own-message filtering is enabled.
func (s *Session) ChatMessage(chat, sender string, tstamp time.Time, body string) {
	if s.cfg.FilterOwn && sender == s.cap.ChatNick(chat) {
		return
	}
	s.receive(wire.MessageLine(s.acct.ID, chat, tstamp.Unix(), sender, wire.EscapeBody(body)))
}

// ChatUserUpdate implements backend.EventSink.
func (s *Session) ChatUserUpdate(chat, user, alias, status string) {
	s.receive(wire.ChatUserLine(s.acct.ID, chat, user, alias, status))
}

// Invite implements backend.EventSink. The invite is cached; the roster
// sync surfaces it as a pseudo-buddy on the next iteration.
func (s *Session) Invite(chat, inviter string) {
	s.mu.Lock()
	s.invites[chat] = inviter
	s.mu.Unlock()
}

func fingerprint(buddies []account.Buddy) uint64 {
	h := xxhash.New()
	for _, b := range buddies {
		_, _ = h.WriteString(b.Name)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(b.Alias)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(b.Status)
		_, _ = h.WriteString("\x00")
	}
	return h.Sum64()
}

// stripControl removes control characters from an outbound message body.
// The plain-text body keeps newlines, the XHTML body does not need them.
func stripControl(in string, keepNewline bool) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' && keepNewline {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, in)
}
