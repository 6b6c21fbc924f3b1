package client_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/client"
	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/Tyrowin/roomchat/internal/testhelpers"
)

func loggedIn(t *testing.T) (*client.Client, *testhelpers.Peer) {
	t.Helper()
	c, server := newClient(t)
	done := login(c, "alice", "wonderland")
	testhelpers.Expect[protocol.Login](t, server)
	server.Send(t, protocol.LoginOK{})
	require.True(t, wait(t, done).ok)
	return c, server
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		line string
		want protocol.Message
	}{
		{"hello there", protocol.Public{Text: "hello there"}},
		{"/public hi all", protocol.Public{Text: "hi all"}},
		{"/public hello, world", protocol.Public{Text: "hello, world"}},
		{"/go kitchen", protocol.Go{RoomName: "kitchen"}},
		{"/list_doors", protocol.ListDoors{}},
		{"/logout", protocol.Logout{}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			c, server := loggedIn(t)
			errs := make(chan error, 1)
			go func() { errs <- client.Dispatch(c, tt.line) }()

			assert.Equal(t, tt.want, server.Receive(t))
			assert.NoError(t, wait(t, errs))
		})
	}
}

func TestDispatchErrors(t *testing.T) {
	c, _ := newClient(t)

	assert.ErrorIs(t, client.Dispatch(c, "/dance"), client.ErrUnknownCommand)
	assert.ErrorContains(t, client.Dispatch(c, "/go"), "takes 1 argument")
	assert.ErrorContains(t, client.Dispatch(c, "/go a,b"), "takes 1 argument")
	assert.ErrorContains(t, client.Dispatch(c, "/logout now"), "takes 0 argument")
	assert.ErrorIs(t, client.Dispatch(c, "/go kitchen"), client.ErrNotLoggedIn)
}

func TestHelpListsCommands(t *testing.T) {
	help := client.Help()
	for _, name := range []string{"/go", "/list_doors", "/logout", "/public"} {
		assert.Contains(t, help, name)
	}
}

func TestRender(t *testing.T) {
	assert.Equal(t, "alice: hi", client.Render(protocol.PublicBroadcast{UserName: "alice", Text: "hi"}))
	assert.Equal(t, "bob enters the room.", client.Render(protocol.EnterRoom{UserName: "bob"}))
	assert.Equal(t, "LoggedOut", client.Render(protocol.LoggedOut{}))
}
