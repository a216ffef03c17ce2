// Package dispatch turns decoded command lines into operations on the
// account registry and events on the callback registry, producing the
// protocol reply text. Nothing here ever panics out of a command or
// terminates the process; malformed input yields an error reply and a few
// commands deliberately yield an empty reply instead (see the per-command
// notes), mirroring the wire behavior clients already depend on.
package dispatch

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mfriedr/chatterd/internal/account"
	"github.com/mfriedr/chatterd/internal/event"
	"github.com/mfriedr/chatterd/internal/wire"
)

// Action tells the protocol server what to do after writing the reply.
type Action int

const (
	// ActionNone continues the connection loop.
	ActionNone Action = iota
	// ActionCloseConn drops the client connection.
	ActionCloseConn
	// ActionShutdown terminates the whole process.
	ActionShutdown
)

var helpText = strings.Join([]string{
	"info: commands:",
	"info: account list",
	"info: account add <type> <user> <password>",
	"info: account <id> delete",
	"info: account <id> buddies [online]",
	"info: account <id> collect",
	"info: account <id> send <user> <msg>",
	"info: account <id> status get",
	"info: account <id> status set <status>",
	"info: account <id> chat list",
	"info: account <id> chat join <chat>",
	"info: account <id> chat part <chat>",
	"info: account <id> chat send <chat> <msg>",
	"info: account <id> chat users <chat>",
	"info: account <id> chat invite <chat> <user>",
	"info: bye",
	"info: quit",
	"info: help",
}, wire.EOM)

// Dispatcher parses and executes control-protocol commands.
type Dispatcher struct {
	registry *account.Registry
	events   *event.Registry
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given registries.
func NewDispatcher(registry *account.Registry, events *event.Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, events: events, logger: logger}
}

// Handle executes one command line and returns the reply text without the
// final frame delimiter, plus the follow-up action for the server.
func (d *Dispatcher) Handle(line string) (string, Action) {
	parts := strings.Split(line, " ")

	switch parts[0] {
	case "account":
		if len(parts) >= 2 {
			return d.handleAccount(parts), ActionNone
		}

	case "bye":
		// Disconnect every account; the adapter may leave this event
		// unregistered, in which case saying goodbye is all that happens.
		for _, acct := range d.registry.List() {
			d.events.Dispatch(acct, event.Disconnect, nil)
		}
		return wire.Info("goodbye."), ActionCloseConn

	case "quit":
		// The Quit handler joins each account's worker before returning,
		// so by the time the reply goes out every session has exited.
		for _, acct := range d.registry.List() {
			d.events.Dispatch(acct, event.Quit, nil)
		}
		return wire.Info("goodbye."), ActionShutdown

	case "help":
		return helpText, ActionNone
	}

	return wire.Error("unknown command"), ActionNone
}

func (d *Dispatcher) handleAccount(parts []string) string {
	var (
		acct    *account.Account
		command string
		params  []string
	)

	switch {
	case parts[1] == "list":
		command = "list"
	case parts[1] == "add":
		command = "add"
		params = parts[2:]
	case len(parts) >= 3:
		id, err := strconv.Atoi(parts[1])
		if err != nil {
			return wire.Error("invalid account ID")
		}
		command = parts[2]
		params = parts[3:]

		var ok bool
		acct, ok = d.registry.Get(id)
		if !ok {
			return wire.Error("invalid account")
		}
	default:
		return wire.Error("invalid command")
	}

	switch command {
	case "list":
		return d.accountList()
	case "add":
		return d.accountAdd(params)
	case "delete":
		return d.accountDelete(acct)
	case "buddies":
		return d.accountBuddies(acct, params)
	case "collect":
		return d.events.Dispatch(acct, event.CollectMessages, params)
	case "send":
		return d.accountSend(acct, params)
	case "status":
		return d.accountStatus(acct, params)
	case "chat":
		return d.accountChat(acct, params)
	}

	return wire.Error("unknown command")
}

// accountList formats one line per account. It never errors; with no
// accounts configured the reply is empty.
func (d *Dispatcher) accountList() string {
	var lines []string
	for _, acct := range d.registry.List() {
		lines = append(lines, wire.AccountLine(acct.ID, acct.Name, acct.Type, acct.User, acct.Status()))
	}
	return strings.Join(lines, wire.EOM)
}

func (d *Dispatcher) accountAdd(params []string) string {
	if len(params) < 3 {
		return ""
	}

	acct, err := d.registry.Add(params[0], params[1], params[2])
	if err != nil {
		// Duplicate type+user is informational, not an error.
		return wire.Info("account already exists.")
	}

	d.logger.Info("account added", "account", acct.ID, "type", acct.Type, "user", acct.User)
	d.events.Dispatch(acct, event.AddAccount, nil)
	return wire.Info("new account added.")
}

func (d *Dispatcher) accountDelete(acct *account.Account) string {
	d.registry.Delete(acct.ID)
	d.logger.Info("account deleted", "account", acct.ID)
	d.events.Dispatch(acct, event.DelAccount, nil)
	return wire.Info(fmt.Sprintf("account %d deleted.", acct.ID))
}

// accountBuddies asks the backend for a fresh snapshot first, then lists
// the account's current buddies. With "online", only buddies whose status
// is "available" are listed.
func (d *Dispatcher) accountBuddies(acct *account.Account, params []string) string {
	d.events.Dispatch(acct, event.UpdateBuddies, nil)

	online := len(params) >= 1 && strings.EqualFold(params[0], "online")

	var lines []string
	for _, b := range acct.Buddies() {
		if online && !strings.EqualFold(b.Status, "available") {
			continue
		}
		lines = append(lines, wire.BuddyLine(acct.ID, b.Status, b.Name, b.Alias))
	}
	return strings.Join(lines, wire.EOM)
}

// accountSend relays a message. A destination that is not yet a buddy is
// appended to the account with an empty alias and persisted.
func (d *Dispatcher) accountSend(acct *account.Account, params []string) string {
	if len(params) < 1 {
		return ""
	}

	user := params[0]
	msg := strings.Join(params[1:], " ")
	d.events.Dispatch(acct, event.SendMessage, []string{user, msg})

	if acct.AppendBuddy(account.Buddy{Name: user, Alias: "", Status: "Available"}) {
		d.registry.Save()
		d.logger.Info("new buddy", "account", acct.ID, "buddy", user)
	}
	return ""
}

func (d *Dispatcher) accountStatus(acct *account.Account, params []string) string {
	if len(params) < 1 {
		return ""
	}

	switch params[0] {
	case "get":
		// A synchronous handler returns the status here; a queued adapter
		// returns "" and delivers the status line through the message
		// buffer instead.
		if status := d.events.Dispatch(acct, event.GetStatus, nil); status != "" {
			return wire.StatusLine(acct.ID, status)
		}
	case "set":
		if len(params) < 2 {
			return ""
		}
		return d.events.Dispatch(acct, event.SetStatus, params[1:2])
	}
	return ""
}

// accountChat maps each chat sub-verb onto its event. Missing required
// tokens yield an empty reply, not an error; clients rely on that.
func (d *Dispatcher) accountChat(acct *account.Account, params []string) string {
	if len(params) < 1 {
		return ""
	}

	if params[0] == "list" {
		return d.events.Dispatch(acct, event.ChatList, nil)
	}

	if len(params) < 2 {
		return ""
	}
	chat := params[1]

	switch params[0] {
	case "join":
		return d.events.Dispatch(acct, event.ChatJoin, []string{chat})
	case "part":
		return d.events.Dispatch(acct, event.ChatPart, []string{chat})
	case "users":
		return d.events.Dispatch(acct, event.ChatUsers, []string{chat})
	}

	if len(params) < 3 {
		return ""
	}

	switch params[0] {
	case "invite":
		return d.events.Dispatch(acct, event.ChatInvite, []string{chat, params[2]})
	case "send":
		msg := strings.Join(params[2:], " ")
		return d.events.Dispatch(acct, event.ChatSend, []string{chat, msg})
	}

	return ""
}
