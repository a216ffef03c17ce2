package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfriedr/chatterd/internal/account"
)

func TestDispatchUnregisteredKindIsNoOp(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, "", r.Dispatch(nil, SendMessage, []string{"x"}))
}

func TestRegisterAndDispatch(t *testing.T) {
	r := NewRegistry()
	acct := account.New(3, "xmpp", "alice@example.com", "secret")

	var gotKind Kind
	var gotParams []string
	r.Register(SetStatus, func(a *account.Account, k Kind, params []string) string {
		require.Same(t, acct, a)
		gotKind = k
		gotParams = params
		return "ok"
	})

	reply := r.Dispatch(acct, SetStatus, []string{"away"})
	assert.Equal(t, "ok", reply)
	assert.Equal(t, SetStatus, gotKind)
	assert.Equal(t, []string{"away"}, gotParams)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(ChatJoin, func(*account.Account, Kind, []string) string { return "joined" })
	require.Equal(t, "joined", r.Dispatch(nil, ChatJoin, nil))

	r.Unregister(ChatJoin)
	assert.Equal(t, "", r.Dispatch(nil, ChatJoin, nil))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "ADD_ACCOUNT", AddAccount.String())
	assert.Equal(t, "SHUTTING_DOWN", ShuttingDown.String())
	assert.Equal(t, "UNKNOWN", Kind(999).String())
}
