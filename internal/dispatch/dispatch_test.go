package dispatch

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfriedr/chatterd/internal/account"
	"github.com/mfriedr/chatterd/internal/event"
)

type dispatchedEvent struct {
	accountID int
	kind      event.Kind
	params    []string
}

type fixture struct {
	registry   *account.Registry
	events     *event.Registry
	dispatcher *Dispatcher
	fired      []dispatchedEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		registry: account.NewRegistry(nil, slog.New(slog.NewTextHandler(io.Discard, nil))),
		events:   event.NewRegistry(),
	}
	f.dispatcher = NewDispatcher(f.registry, f.events,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

// record registers a handler for kind that notes the dispatch and replies
// with the given string.
func (f *fixture) record(kind event.Kind, reply string) {
	f.events.Register(kind, func(acct *account.Account, k event.Kind, params []string) string {
		id := -1
		if acct != nil {
			id = acct.ID
		}
		f.fired = append(f.fired, dispatchedEvent{accountID: id, kind: k, params: params})
		return reply
	})
}

func (f *fixture) addAccount(t *testing.T, accType, user string) *account.Account {
	t.Helper()
	acct, err := f.registry.Add(accType, user, "pw")
	require.NoError(t, err)
	return acct
}

func TestAccountAddListDelete(t *testing.T) {
	f := newFixture(t)
	f.record(event.AddAccount, "")
	f.record(event.DelAccount, "")

	reply, act := f.dispatcher.Handle("account add xmpp alice@example.com secret")
	assert.Equal(t, "info: new account added.", reply)
	assert.Equal(t, ActionNone, act)

	reply, _ = f.dispatcher.Handle("account add xmpp alice@example.com secret")
	assert.Equal(t, "info: account already exists.", reply)

	reply, _ = f.dispatcher.Handle("account add xmpp bob@example.com secret")
	assert.Equal(t, "info: new account added.", reply)

	reply, _ = f.dispatcher.Handle("account list")
	assert.Equal(t,
		"account: 0 () xmpp alice@example.com [online]\r\n"+
			"account: 1 () xmpp bob@example.com [online]", reply)

	reply, _ = f.dispatcher.Handle("account 0 delete")
	assert.Equal(t, "info: account 0 deleted.", reply)

	reply, _ = f.dispatcher.Handle("account list")
	assert.Equal(t, "account: 1 () xmpp bob@example.com [online]", reply)

	// Only the successful add and the delete fired events.
	require.Len(t, f.fired, 3)
	assert.Equal(t, event.AddAccount, f.fired[0].kind)
	assert.Equal(t, event.AddAccount, f.fired[1].kind)
	assert.Equal(t, dispatchedEvent{accountID: 0, kind: event.DelAccount}, f.fired[2])
}

func TestDeletedIDIsReusedByNextAdd(t *testing.T) {
	f := newFixture(t)

	f.dispatcher.Handle("account add xmpp a@x pw")
	f.dispatcher.Handle("account add xmpp b@x pw")
	f.dispatcher.Handle("account add xmpp c@x pw")
	f.dispatcher.Handle("account 1 delete")
	f.dispatcher.Handle("account add xmpp d@x pw")

	reply, _ := f.dispatcher.Handle("account list")
	assert.Equal(t,
		"account: 0 () xmpp a@x [online]\r\n"+
			"account: 1 () xmpp d@x [online]\r\n"+
			"account: 2 () xmpp c@x [online]", reply)
}

func TestMalformedAccountCommands(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "xmpp", "a@x")

	tests := []struct {
		name string
		line string
		want string
	}{
		{"non-numeric id", "account abc delete", "error: invalid account ID"},
		{"unknown id", "account 42 delete", "error: invalid account"},
		{"id without verb", "account 0", "error: invalid command"},
		{"unknown verb", "account 0 frobnicate", "error: unknown command"},
		{"add missing params", "account add xmpp", ""},
		{"send missing user", "account 0 send", ""},
		{"status missing verb", "account 0 status", ""},
		{"status set missing value", "account 0 status set", ""},
		{"chat missing verb", "account 0 chat", ""},
		{"chat join missing chat", "account 0 chat join", ""},
		{"chat send missing msg", "account 0 chat send room@muc", ""},
		{"chat invite missing user", "account 0 chat invite room@muc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, act := f.dispatcher.Handle(tt.line)
			assert.Equal(t, tt.want, reply)
			assert.Equal(t, ActionNone, act)
		})
	}
}

func TestUnknownTopLevelCommand(t *testing.T) {
	f := newFixture(t)

	for _, line := range []string{"frobnicate", "", "account"} {
		reply, act := f.dispatcher.Handle(line)
		assert.Equal(t, "error: unknown command", reply, "line %q", line)
		assert.Equal(t, ActionNone, act)
	}
}

func TestBuddiesRefreshesThenListsSnapshot(t *testing.T) {
	f := newFixture(t)
	acct := f.addAccount(t, "xmpp", "a@x")
	f.record(event.UpdateBuddies, "")

	acct.ReplaceBuddies([]account.Buddy{
		{Name: "bob@x", Alias: "Bob", Status: "available"},
		{Name: "carol@x", Alias: "Carol", Status: "away"},
	})

	reply, _ := f.dispatcher.Handle("account 0 buddies")
	assert.Equal(t,
		"buddy: 0 status: available name: bob@x alias: Bob\r\n"+
			"buddy: 0 status: away name: carol@x alias: Carol", reply)

	reply, _ = f.dispatcher.Handle("account 0 buddies online")
	assert.Equal(t, "buddy: 0 status: available name: bob@x alias: Bob", reply)

	// The refresh event fires before each listing.
	require.Len(t, f.fired, 2)
	for _, fired := range f.fired {
		assert.Equal(t, event.UpdateBuddies, fired.kind)
	}
}

func TestSendRelaysMessageAndAppendsBuddy(t *testing.T) {
	f := newFixture(t)
	acct := f.addAccount(t, "xmpp", "a@x")
	f.record(event.SendMessage, "")

	reply, _ := f.dispatcher.Handle("account 0 send bob@x hello out there")
	assert.Equal(t, "", reply)

	require.Len(t, f.fired, 1)
	assert.Equal(t, []string{"bob@x", "hello out there"}, f.fired[0].params)

	buddies := acct.Buddies()
	require.Len(t, buddies, 1)
	assert.Equal(t, account.Buddy{Name: "bob@x", Alias: "", Status: "Available"}, buddies[0])

	// Sending again does not duplicate the buddy.
	f.dispatcher.Handle("account 0 send bob@x again")
	assert.Len(t, acct.Buddies(), 1)
}

func TestStatusGetAndSet(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "xmpp", "a@x")

	// Synchronous handler reply becomes a status line.
	f.record(event.GetStatus, "away")
	reply, _ := f.dispatcher.Handle("account 0 status get")
	assert.Equal(t, "status: account 0 status: away", reply)

	// A queued adapter replies with nothing; so does the dispatcher.
	f.events.Unregister(event.GetStatus)
	f.record(event.GetStatus, "")
	reply, _ = f.dispatcher.Handle("account 0 status get")
	assert.Equal(t, "", reply)

	f.record(event.SetStatus, "")
	reply, _ = f.dispatcher.Handle("account 0 status set dnd")
	assert.Equal(t, "", reply)
	last := f.fired[len(f.fired)-1]
	assert.Equal(t, event.SetStatus, last.kind)
	assert.Equal(t, []string{"dnd"}, last.params)
}

func TestChatVerbsMapToEvents(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "xmpp", "a@x")
	for _, kind := range []event.Kind{
		event.ChatList, event.ChatJoin, event.ChatPart,
		event.ChatUsers, event.ChatInvite, event.ChatSend,
	} {
		f.record(kind, "")
	}

	tests := []struct {
		line   string
		kind   event.Kind
		params []string
	}{
		{"account 0 chat list", event.ChatList, nil},
		{"account 0 chat join room@muc", event.ChatJoin, []string{"room@muc"}},
		{"account 0 chat part room@muc", event.ChatPart, []string{"room@muc"}},
		{"account 0 chat users room@muc", event.ChatUsers, []string{"room@muc"}},
		{"account 0 chat invite room@muc bob@x", event.ChatInvite, []string{"room@muc", "bob@x"}},
		{"account 0 chat send room@muc hi all", event.ChatSend, []string{"room@muc", "hi all"}},
	}

	for i, tt := range tests {
		reply, _ := f.dispatcher.Handle(tt.line)
		assert.Equal(t, "", reply, "line %q", tt.line)
		require.Len(t, f.fired, i+1)
		assert.Equal(t, tt.kind, f.fired[i].kind)
		assert.Equal(t, tt.params, f.fired[i].params)
	}
}

func TestCollectRepliesWithHandlerOutput(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "xmpp", "a@x")
	f.record(event.CollectMessages, "message: 0 a 1 b first\r\nmessage: 0 a 2 b second")

	reply, _ := f.dispatcher.Handle("account 0 collect")
	assert.Equal(t, "message: 0 a 1 b first\r\nmessage: 0 a 2 b second", reply)
}

func TestByeDisconnectsAllAccountsAndClosesConn(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "xmpp", "a@x")
	f.addAccount(t, "xmpp", "b@x")
	f.record(event.Disconnect, "")

	reply, act := f.dispatcher.Handle("bye")
	assert.Equal(t, "info: goodbye.", reply)
	assert.Equal(t, ActionCloseConn, act)
	assert.Len(t, f.fired, 2)
}

func TestQuitFiresQuitPerAccountAndShutsDown(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "xmpp", "a@x")
	f.addAccount(t, "xmpp", "b@x")
	f.record(event.Quit, "")

	reply, act := f.dispatcher.Handle("quit")
	assert.Equal(t, "info: goodbye.", reply)
	assert.Equal(t, ActionShutdown, act)
	assert.Len(t, f.fired, 2)
}

func TestHelpListsEveryCommand(t *testing.T) {
	f := newFixture(t)

	reply, act := f.dispatcher.Handle("help")
	assert.Equal(t, ActionNone, act)
	for _, want := range []string{
		"info: commands:",
		"info: account add <type> <user> <password>",
		"info: account <id> chat invite <chat> <user>",
		"info: quit",
	} {
		assert.Contains(t, reply, want)
	}
}
